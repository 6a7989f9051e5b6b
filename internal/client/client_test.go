package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/network-monitor/internal/config"
	apperrors "github.com/zsiec/network-monitor/internal/errors"
	"github.com/zsiec/network-monitor/internal/health"
	"github.com/zsiec/network-monitor/internal/monitor"
	"github.com/zsiec/network-monitor/internal/network"
	"github.com/zsiec/network-monitor/internal/server"
)

const layoutPath = "/data/network-layout.json"

const layout = `{
  "stations": [
    {"station_id": "S1", "name": "First"},
    {"station_id": "S2", "name": "Second"},
    {"station_id": "S3", "name": "Third"}
  ],
  "lines": [
    {"line_id": "L1", "name": "Line One", "routes": [
      {"route_id": "R1", "direction": "out", "start_station_id": "S1", "end_station_id": "S3",
       "route_stops": ["S1", "S2", "S3"]}
    ]}
  ],
  "travel_times": [
    {"start_station_id": "S1", "end_station_id": "S2", "travel_time": 3},
    {"start_station_id": "S2", "end_station_id": "S3", "travel_time": 4}
  ]
}`

// startAPI runs the real server over a real monitor loaded from an
// in-memory layout.
func startAPI(t *testing.T) *Client {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, layoutPath, []byte(layout), 0o644))

	mon, err := monitor.New(config.MonitorConfig{
		Layout: config.LayoutConfig{Path: layoutPath},
		Events: config.EventsConfig{QueueSize: 16, HistorySize: 16},
	}, monitor.Options{Fs: fs})
	require.NoError(t, err)
	require.NoError(t, mon.Start(context.Background()))
	t.Cleanup(func() { _ = mon.Stop(context.Background()) })

	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := server.New(&config.ServerConfig{ShutdownTimeout: time.Second}, log, mon, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := New(Config{BaseURL: ts.URL + "/", Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "http", cfg: Config{BaseURL: "http://localhost:8080"}},
		{name: "https over http3", cfg: Config{BaseURL: "https://localhost:8443", HTTP3: true}},
		{name: "http3 needs https", cfg: Config{BaseURL: "http://localhost:8080", HTTP3: true}, wantErr: "requires an https URL"},
		{name: "bad scheme", cfg: Config{BaseURL: "ftp://localhost"}, wantErr: "scheme must be http or https"},
		{name: "no scheme", cfg: Config{BaseURL: "localhost:8080"}, wantErr: "invalid base URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, c.Close())
		})
	}
}

func TestQueries(t *testing.T) {
	c := startAPI(t)
	ctx := context.Background()

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "network-monitor", v.Name)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, health.StatusOK, h.Status)

	stations, err := c.Stations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stations.Count)

	st, err := c.Station(ctx, "S2")
	require.NoError(t, err)
	assert.Equal(t, "Second", st.Name)

	routes, err := c.StationRoutes(ctx, "S2")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, routes.Routes)

	lines, err := c.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, lines.Lines, 1)
	assert.Equal(t, "Line One", lines.Lines[0].Name)

	tt, err := c.TravelTime(ctx, "S1", "S2", "", "")
	require.NoError(t, err)
	assert.Equal(t, uint(3), tt.TravelTime)

	tt, err = c.TravelTime(ctx, "S1", "S3", "L1", "R1")
	require.NoError(t, err)
	assert.Equal(t, uint(7), tt.TravelTime)

	p, err := c.Path(ctx, "S1", "S3")
	require.NoError(t, err)
	assert.Equal(t, uint(7), p.TotalTravelTime)
	assert.Len(t, p.Steps, 3)
}

func TestEventsRoundTrip(t *testing.T) {
	c := startAPI(t)
	ctx := context.Background()

	ts := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	accepted, err := c.RecordEvent(ctx, network.PassengerEvent{StationID: "S1", Type: network.EventIn, Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, "S1", accepted.StationID)
	assert.True(t, ts.Equal(accepted.Timestamp))

	require.Eventually(t, func() bool {
		st, err := c.Station(ctx, "S1")
		return err == nil && st.Passengers == 1
	}, 2*time.Second, 10*time.Millisecond)

	recent, err := c.RecentEvents(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, recent.Count)
	assert.Equal(t, network.EventIn, recent.Events[0].Type)
}

func TestResetCounts(t *testing.T) {
	c := startAPI(t)
	ctx := context.Background()

	_, err := c.RecordEvent(ctx, network.PassengerEvent{StationID: "S2", Type: network.EventIn, Timestamp: time.Now()})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := c.Station(ctx, "S2")
		return err == nil && st.Passengers == 1
	}, 2*time.Second, 10*time.Millisecond)

	stations, err := c.ResetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stations)

	st, err := c.Station(ctx, "S2")
	require.NoError(t, err)
	assert.Zero(t, st.Passengers)
	recent, err := c.RecentEvents(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, recent.Count)
}

func TestReloadLayout(t *testing.T) {
	c := startAPI(t)

	info, err := c.ReloadLayout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, monitor.TriggerAPI, info.Trigger)
	assert.False(t, info.Changed, "the file did not change")
}

func TestAPIErrors(t *testing.T) {
	c := startAPI(t)
	ctx := context.Background()

	_, err := c.Station(ctx, "nowhere")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, apperrors.ErrorTypeNotFound, apiErr.Type)
	assert.NotEmpty(t, apiErr.TraceID)
	assert.Contains(t, apiErr.Error(), "station not found")

	_, err = c.RecentEvents(ctx, 5000)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = c.RecordEvent(ctx, network.PassengerEvent{StationID: "nowhere", Type: network.EventOut})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestNonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = c.Lines(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "api error: HTTP 502", apiErr.Error())
}
