package download

import (
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layoutBody = `{"stations":[{"station_id":"station_000","name":"Station Name 0"}],"lines":[],"travel_times":[]}`

func newLayoutServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/network-layout.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(layoutBody))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/network-layout.json", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// writeCA stores the test server's certificate as the only trust anchor.
func writeCA(t *testing.T, fs afero.Fs, srv *httptest.Server) string {
	t.Helper()
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, afero.WriteFile(fs, "/certs/cacert.pem", block, 0o644))
	return "/certs/cacert.pem"
}

func TestDownloadFile(t *testing.T) {
	srv := newLayoutServer(t)

	tests := []struct {
		name string
		path string
	}{
		{"direct", "/network-layout.json"},
		{"follows redirect", "/moved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			ca := writeCA(t, fs, srv)
			d := New(fs)

			n, err := d.DownloadFile(context.Background(), srv.URL+tt.path, "/data/layout.json", ca)
			require.NoError(t, err)
			assert.Equal(t, int64(len(layoutBody)), n)

			got, err := afero.ReadFile(fs, "/data/layout.json")
			require.NoError(t, err)
			assert.Equal(t, layoutBody, string(got))

			layout, err := d.ParseLayoutFile("/data/layout.json")
			require.NoError(t, err)
			require.Len(t, layout.Stations, 1)
			assert.Equal(t, "station_000", layout.Stations[0].ID)
		})
	}
}

func TestDownloadFileFailures(t *testing.T) {
	srv := newLayoutServer(t)

	tests := []struct {
		name    string
		path    string
		ca      func(fs afero.Fs) string
		timeout time.Duration
		wantErr error
	}{
		{
			name:    "not found",
			path:    "/missing.json",
			wantErr: ErrHTTPStatus,
		},
		{
			name: "untrusted server",
			path: "/network-layout.json",
			ca:   func(afero.Fs) string { return "" },
		},
		{
			name: "CA file without certificates",
			path: "/network-layout.json",
			ca: func(fs afero.Fs) string {
				_ = afero.WriteFile(fs, "/certs/empty.pem", []byte("not a certificate"), 0o644)
				return "/certs/empty.pem"
			},
			wantErr: ErrInvalidCA,
		},
		{
			name: "missing CA file",
			path: "/network-layout.json",
			ca:   func(afero.Fs) string { return "/certs/nope.pem" },
		},
		{
			name:    "redirect loop",
			path:    "/loop",
			wantErr: ErrTooManyHops,
		},
		{
			name:    "timeout",
			path:    "/slow",
			timeout: 50 * time.Millisecond,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			ca := writeCA(t, fs, srv)
			if tt.ca != nil {
				ca = tt.ca(fs)
			}
			require.NoError(t, afero.WriteFile(fs, "/data/layout.json", []byte("previous"), 0o644))

			var opts []Option
			if tt.timeout > 0 {
				opts = append(opts, WithTimeout(tt.timeout))
			}
			_, err := New(fs, opts...).DownloadFile(context.Background(), srv.URL+tt.path, "/data/layout.json", ca)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			got, err := afero.ReadFile(fs, "/data/layout.json")
			require.NoError(t, err)
			assert.Equal(t, "previous", string(got), "existing file must survive a failed download")

			entries, err := afero.ReadDir(fs, "/data")
			require.NoError(t, err)
			assert.Len(t, entries, 1, "no temporary files left behind")
		})
	}
}

func TestDownloadFileNoPartialFile(t *testing.T) {
	srv := newLayoutServer(t)
	fs := afero.NewMemMapFs()

	_, err := New(fs).DownloadFile(context.Background(), srv.URL+"/missing.json", "/fresh/layout.json", writeCA(t, fs, srv))
	require.Error(t, err)

	exists, err := afero.Exists(fs, "/fresh/layout.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownloadFileCancelled(t *testing.T) {
	srv := newLayoutServer(t)
	fs := afero.NewMemMapFs()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(fs).DownloadFile(ctx, srv.URL+"/network-layout.json", "/data/layout.json", writeCA(t, fs, srv))
	assert.Error(t, err)
}

func TestCheckRedirectRejectsDowngrade(t *testing.T) {
	prev, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	next, _ := http.NewRequest(http.MethodGet, "http://example.com/b", nil)
	assert.ErrorIs(t, checkRedirect(next, []*http.Request{prev}), ErrTLSDowngrade)

	next, _ = http.NewRequest(http.MethodGet, "https://example.com/b", nil)
	assert.NoError(t, checkRedirect(next, []*http.Request{prev}))
}
