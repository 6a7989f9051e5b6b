package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/network-monitor/internal/download"
	"github.com/zsiec/network-monitor/internal/errors"
	"github.com/zsiec/network-monitor/internal/monitor"
	"github.com/zsiec/network-monitor/internal/network"
)

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t, newFakeMonitor(t))

	rr := do(t, srv.Handler(), http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))

	var resp VersionResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "network-monitor", resp.Name)
	assert.NotEmpty(t, resp.Version)
	assert.Contains(t, resp.Manifest, "network-monitor")
	assert.NotEmpty(t, resp.Requirements)
}

func TestQueryEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantType   errors.ErrorType
	}{
		{name: "stations", target: "/api/v1/stations", wantStatus: http.StatusOK},
		{name: "station", target: "/api/v1/stations/B", wantStatus: http.StatusOK},
		{name: "unknown station", target: "/api/v1/stations/Z", wantStatus: http.StatusNotFound, wantType: errors.ErrorTypeNotFound},
		{name: "station routes", target: "/api/v1/stations/B/routes", wantStatus: http.StatusOK},
		{name: "unknown station routes", target: "/api/v1/stations/Z/routes", wantStatus: http.StatusNotFound, wantType: errors.ErrorTypeNotFound},
		{name: "lines", target: "/api/v1/lines", wantStatus: http.StatusOK},
		{name: "travel time", target: "/api/v1/travel-time?from=A&to=B", wantStatus: http.StatusOK},
		{name: "travel time missing param", target: "/api/v1/travel-time?from=A", wantStatus: http.StatusBadRequest, wantType: errors.ErrorTypeValidation},
		{name: "travel time unknown station", target: "/api/v1/travel-time?from=A&to=Z", wantStatus: http.StatusNotFound, wantType: errors.ErrorTypeNotFound},
		{name: "route travel time", target: "/api/v1/lines/L1/routes/R1/travel-time?from=A&to=C", wantStatus: http.StatusOK},
		{name: "route travel time unknown line", target: "/api/v1/lines/L9/routes/R1/travel-time?from=A&to=C", wantStatus: http.StatusNotFound, wantType: errors.ErrorTypeNotFound},
		{name: "route travel time route on other line", target: "/api/v1/lines/L1/routes/R3/travel-time?from=B&to=D", wantStatus: http.StatusNotFound, wantType: errors.ErrorTypeNotFound},
		{name: "path", target: "/api/v1/path?from=A&to=D", wantStatus: http.StatusOK},
		{name: "no path", target: "/api/v1/path?from=D&to=A", wantStatus: http.StatusNotFound, wantType: errors.ErrorTypeNotFound},
		{name: "path missing params", target: "/api/v1/path", wantStatus: http.StatusBadRequest, wantType: errors.ErrorTypeValidation},
		{name: "unknown endpoint", target: "/api/v1/nowhere", wantStatus: http.StatusNotFound, wantType: errors.ErrorTypeNotFound},
	}

	srv := newTestServer(t, newFakeMonitor(t))
	h := srv.Handler()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			if tt.wantType != "" {
				var resp errors.ErrorResponse
				decodeBody(t, rr, &resp)
				assert.Equal(t, tt.wantType, resp.Error.Type)
				assert.NotEmpty(t, resp.TraceID)
			}
		})
	}
}

func TestHandleStations(t *testing.T) {
	mon := newFakeMonitor(t)
	require.NoError(t, mon.net.RecordPassengerEvent(network.PassengerEvent{StationID: "B", Type: network.EventIn}))
	require.NoError(t, mon.net.RecordPassengerEvent(network.PassengerEvent{StationID: "B", Type: network.EventIn}))
	require.NoError(t, mon.net.RecordPassengerEvent(network.PassengerEvent{StationID: "C", Type: network.EventOut}))
	srv := newTestServer(t, mon)

	var resp StationsResponse
	decodeBody(t, do(t, srv.Handler(), http.MethodGet, "/api/v1/stations", ""), &resp)

	require.Equal(t, 4, resp.Count)
	ids := make([]string, 0, len(resp.Stations))
	counts := map[string]int64{}
	for _, st := range resp.Stations {
		ids = append(ids, st.ID)
		counts[st.ID] = st.Passengers
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids)
	assert.Equal(t, int64(2), counts["B"])
	assert.Equal(t, int64(-1), counts["C"])

	var one StationResponse
	decodeBody(t, do(t, srv.Handler(), http.MethodGet, "/api/v1/stations/B", ""), &one)
	assert.Equal(t, "Bravo", one.Name)
	assert.Equal(t, int64(2), one.Passengers)
}

func TestHandleStationRoutes(t *testing.T) {
	srv := newTestServer(t, newFakeMonitor(t))

	var resp StationRoutesResponse
	decodeBody(t, do(t, srv.Handler(), http.MethodGet, "/api/v1/stations/B/routes", ""), &resp)
	assert.Equal(t, "B", resp.StationID)
	assert.Equal(t, []string{"R1", "R2", "R3"}, resp.Routes)

	decodeBody(t, do(t, srv.Handler(), http.MethodGet, "/api/v1/stations/D/routes", ""), &resp)
	assert.Equal(t, []string{"R3"}, resp.Routes)
}

func TestHandleLines(t *testing.T) {
	srv := newTestServer(t, newFakeMonitor(t))

	var resp LinesResponse
	decodeBody(t, do(t, srv.Handler(), http.MethodGet, "/api/v1/lines", ""), &resp)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "L1", resp.Lines[0].ID)
	require.Len(t, resp.Lines[0].Routes, 2)
	assert.Equal(t, []string{"A", "B", "C"}, resp.Lines[0].Routes[0].Stops)
}

func TestHandleTravelTime(t *testing.T) {
	tests := []struct {
		target string
		want   uint
	}{
		{target: "/api/v1/travel-time?from=A&to=B", want: 1},
		{target: "/api/v1/travel-time?from=B&to=A", want: 1},
		{target: "/api/v1/travel-time?from=A&to=C", want: 0},
		{target: "/api/v1/lines/L1/routes/R1/travel-time?from=A&to=C", want: 3},
		{target: "/api/v1/lines/L1/routes/R2/travel-time?from=C&to=A", want: 3},
		{target: "/api/v1/lines/L1/routes/R1/travel-time?from=C&to=A", want: 0},
		{target: "/api/v1/lines/L2/routes/R3/travel-time?from=B&to=D", want: 5},
	}

	srv := newTestServer(t, newFakeMonitor(t))
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rr := do(t, srv.Handler(), http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			var resp TravelTimeResponse
			decodeBody(t, rr, &resp)
			assert.Equal(t, tt.want, resp.TravelTime)
		})
	}
}

func TestHandlePath(t *testing.T) {
	srv := newTestServer(t, newFakeMonitor(t))

	var resp PathResponse
	rr := do(t, srv.Handler(), http.MethodGet, "/api/v1/path?from=A&to=D", "")
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &resp)

	assert.Equal(t, uint(6), resp.TotalTravelTime)
	assert.Equal(t, 1, resp.Changes)
	require.Len(t, resp.Steps, 3)
	assert.Equal(t, network.PathStep{StationID: "A"}, resp.Steps[0])
	assert.Equal(t, network.PathStep{StationID: "B", LineID: "L1", RouteID: "R1"}, resp.Steps[1])
	assert.Equal(t, network.PathStep{StationID: "D", LineID: "L2", RouteID: "R3"}, resp.Steps[2])
}

func TestHandleRecordEvent(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		recordErr  error
		wantStatus int
	}{
		{
			name:       "in",
			body:       `{"station_id": "B", "passenger_event": "in", "datetime": "2024-03-01T08:00:00Z"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "out with space separated time",
			body:       `{"station_id": "A", "passenger_event": "OUT", "datetime": "2024-03-01 08:00:00"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "not json",
			body:       `station B`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown event type",
			body:       `{"station_id": "B", "passenger_event": "sideways", "datetime": "2024-03-01T08:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown station",
			body:       `{"station_id": "Z", "passenger_event": "in", "datetime": "2024-03-01T08:00:00Z"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "queue full",
			body:       `{"station_id": "B", "passenger_event": "in", "datetime": "2024-03-01T08:00:00Z"}`,
			recordErr:  monitor.ErrQueueFull,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := newFakeMonitor(t)
			mon.recordErr = tt.recordErr
			srv := newTestServer(t, mon)

			rr := do(t, srv.Handler(), http.MethodPost, "/api/v1/events", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestRecordThenRecent(t *testing.T) {
	mon := newFakeMonitor(t)
	srv := newTestServer(t, mon)
	h := srv.Handler()

	for _, station := range []string{"A", "B", "C"} {
		body := fmt.Sprintf(`{"station_id": %q, "passenger_event": "in", "datetime": "2024-03-01T08:00:00Z"}`, station)
		require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/events", body).Code)
	}

	count, err := mon.net.PassengerCount("B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var resp RecentEventsResponse
	decodeBody(t, do(t, h, http.MethodGet, "/api/v1/events/recent", ""), &resp)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "C", resp.Events[0].StationID, "newest first")

	decodeBody(t, do(t, h, http.MethodGet, "/api/v1/events/recent?limit=1", ""), &resp)
	assert.Equal(t, 1, resp.Count)

	for _, bad := range []string{"0", "-3", "abc", "1001"} {
		rr := do(t, h, http.MethodGet, "/api/v1/events/recent?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, "limit=%s", bad)
	}
}

func TestRecentEventsEmpty(t *testing.T) {
	srv := newTestServer(t, newFakeMonitor(t))

	rr := do(t, srv.Handler(), http.MethodGet, "/api/v1/events/recent", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"events": [], "count": 0}`, rr.Body.String())
}

func TestHandleReloadLayout(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mon := newFakeMonitor(t)
		srv := newTestServer(t, mon)

		rr := do(t, srv.Handler(), http.MethodPost, "/api/v1/layout/reload", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var info monitor.LayoutInfo
		decodeBody(t, rr, &info)
		assert.Equal(t, monitor.TriggerAPI, info.Trigger)
		assert.Equal(t, 4, info.Stats.Stations)
		assert.Equal(t, []string{monitor.TriggerAPI}, mon.reloads)
	})

	t.Run("upstream failure", func(t *testing.T) {
		mon := newFakeMonitor(t)
		mon.reloadErr = fmt.Errorf("download layout: %w: 500 Internal Server Error", download.ErrHTTPStatus)
		srv := newTestServer(t, mon)

		rr := do(t, srv.Handler(), http.MethodPost, "/api/v1/layout/reload", "")
		require.Equal(t, http.StatusBadGateway, rr.Code)

		var resp errors.ErrorResponse
		decodeBody(t, rr, &resp)
		assert.Equal(t, errors.ErrorTypeUpstream, resp.Error.Type)
	})

	t.Run("wrong method", func(t *testing.T) {
		srv := newTestServer(t, newFakeMonitor(t))
		rr := do(t, srv.Handler(), http.MethodGet, "/api/v1/layout/reload", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestHandleResetCounts(t *testing.T) {
	mon := newFakeMonitor(t)
	srv := newTestServer(t, mon)
	require.NoError(t, mon.RecordEvent(network.PassengerEvent{StationID: "A", Type: network.EventIn}))

	rr := do(t, srv.Handler(), http.MethodPost, "/api/v1/counts/reset", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"stations": 4}`, rr.Body.String())

	n, err := mon.net.PassengerCount("A")
	require.NoError(t, err)
	assert.Zero(t, n)

	rr = do(t, srv.Handler(), http.MethodGet, "/api/v1/counts/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	mon.resetErr = fmt.Errorf("reset store: redis: connection refused")
	rr = do(t, srv.Handler(), http.MethodPost, "/api/v1/counts/reset", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestNotReady(t *testing.T) {
	mon := newFakeMonitor(t)
	mon.ready = false
	srv := newTestServer(t, mon)

	for _, target := range []string{
		"/api/v1/stations",
		"/api/v1/stations/A",
		"/api/v1/lines",
		"/api/v1/path?from=A&to=B",
	} {
		rr := do(t, srv.Handler(), http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, target)
	}
}
