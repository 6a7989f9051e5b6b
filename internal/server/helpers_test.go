package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/network-monitor/internal/config"
	"github.com/zsiec/network-monitor/internal/monitor"
	"github.com/zsiec/network-monitor/internal/network"
)

// testLayout is a two-line network:
//
//	A -1- B -2- C     (line L1, route R1 A>B>C, route R2 C>B>A)
//	      B -5- D     (line L2, route R3 B>D)
var testLayout = network.Layout{
	Stations: []network.Station{
		{ID: "A", Name: "Alpha"},
		{ID: "B", Name: "Bravo"},
		{ID: "C", Name: "Charlie"},
		{ID: "D", Name: "Delta"},
	},
	Lines: []network.Line{
		{ID: "L1", Name: "Red", Routes: []network.Route{
			{ID: "R1", Direction: "out", StartStationID: "A", EndStationID: "C", Stops: []string{"A", "B", "C"}},
			{ID: "R2", Direction: "in", StartStationID: "C", EndStationID: "A", Stops: []string{"C", "B", "A"}},
		}},
		{ID: "L2", Name: "Blue", Routes: []network.Route{
			{ID: "R3", Direction: "out", StartStationID: "B", EndStationID: "D", Stops: []string{"B", "D"}},
		}},
	},
	TravelTimes: []network.TravelTime{
		{StartStationID: "A", EndStationID: "B", TravelTime: 1},
		{StartStationID: "B", EndStationID: "C", TravelTime: 2},
		{StartStationID: "B", EndStationID: "D", TravelTime: 5},
	},
}

// fakeMonitor applies events synchronously to a real network.
type fakeMonitor struct {
	mu        sync.Mutex
	net       *network.TransportNetwork
	ready     bool
	feedOn    bool
	feedUp    bool
	loadedAt  time.Time
	events    []network.PassengerEvent
	recordErr error
	reloadErr error
	resetErr  error
	reloads   []string
}

func newFakeMonitor(t *testing.T) *fakeMonitor {
	t.Helper()
	layout := testLayout
	n, err := network.NewFromLayout(&layout)
	require.NoError(t, err)
	return &fakeMonitor{net: n, ready: true, loadedAt: time.Now()}
}

func (f *fakeMonitor) Network() *network.TransportNetwork {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return nil
	}
	return f.net
}

func (f *fakeMonitor) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeMonitor) StationCount() int         { return f.net.Stats().Stations }
func (f *fakeMonitor) LayoutLoadedAt() time.Time { return f.loadedAt }
func (f *fakeMonitor) FeedEnabled() bool         { return f.feedOn }
func (f *fakeMonitor) FeedConnected() bool       { return f.feedUp }

func (f *fakeMonitor) FastestPath(from, to string) (network.Path, error) {
	return f.net.FastestPath(from, to)
}

func (f *fakeMonitor) RecordEvent(ev network.PassengerEvent) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	if err := f.net.RecordPassengerEvent(ev); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append([]network.PassengerEvent{ev}, f.events...)
	f.mu.Unlock()
	return nil
}

func (f *fakeMonitor) RecentEvents(ctx context.Context, n int) ([]network.PassengerEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.events) {
		n = len(f.events)
	}
	return append([]network.PassengerEvent(nil), f.events[:n]...), nil
}

func (f *fakeMonitor) ReloadLayout(ctx context.Context, trigger string) (monitor.LayoutInfo, error) {
	f.mu.Lock()
	f.reloads = append(f.reloads, trigger)
	f.mu.Unlock()
	if f.reloadErr != nil {
		return monitor.LayoutInfo{}, f.reloadErr
	}
	return monitor.LayoutInfo{Trigger: trigger, Stats: f.net.Stats(), LoadedAt: f.loadedAt}, nil
}

func (f *fakeMonitor) ResetCounts(ctx context.Context) (int, error) {
	if f.resetErr != nil {
		return 0, f.resetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return 0, monitor.ErrNotReady
	}
	f.events = nil
	return f.net.ResetPassengerCounts(), nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		ListenAddr:      "127.0.0.1",
		Port:            0,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}
}

func newTestServer(t *testing.T, mon Monitor) *Server {
	t.Helper()
	return New(testServerConfig(), quietLogger(), mon, nil)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}
