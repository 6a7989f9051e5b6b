package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFixture builds:
//
//	line_000 route_000: 0 -> 1 -> 2
//	line_000 route_001: 2 -> 1 -> 0
//	line_001 route_002: 1 -> 3 -> 4
//
// station_005 is served by no route.
func newFixture(t *testing.T) *TransportNetwork {
	t.Helper()
	nw := New()
	addStations(t, nw, "000", "001", "002", "003", "004", "005")

	require.NoError(t, nw.AddLine(Line{ID: "line_000", Name: "Line 0", Routes: []Route{
		route("route_000", "line_000", "station_000", "station_001", "station_002"),
		route("route_001", "line_000", "station_002", "station_001", "station_000"),
	}}))
	require.NoError(t, nw.AddLine(Line{ID: "line_001", Name: "Line 1", Routes: []Route{
		route("route_002", "line_001", "station_001", "station_003", "station_004"),
	}}))

	require.NoError(t, nw.SetTravelTime("station_000", "station_001", 2))
	require.NoError(t, nw.SetTravelTime("station_002", "station_001", 3))
	require.NoError(t, nw.SetTravelTime("station_001", "station_003", 1))
	require.NoError(t, nw.SetTravelTime("station_003", "station_004", 4))
	return nw
}

func TestSetTravelTime(t *testing.T) {
	nw := newFixture(t)

	tests := []struct {
		name string
		a, b string
		want error
	}{
		{"not adjacent", "station_000", "station_002", ErrNotAdjacent},
		{"no routes at all", "station_000", "station_005", ErrNotAdjacent},
		{"unknown first", "station_999", "station_001", ErrStationNotFound},
		{"unknown second", "station_001", "station_999", ErrStationNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, nw.SetTravelTime(tt.a, tt.b, 9), tt.want)
		})
	}

	t.Run("updates both directions", func(t *testing.T) {
		rev := nw.Revision()
		require.NoError(t, nw.SetTravelTime("station_001", "station_000", 6))
		assert.Greater(t, nw.Revision(), rev)
		assert.Equal(t, uint(6), nw.TravelTime("station_000", "station_001"))
		assert.Equal(t, uint(6), nw.TravelTime("station_001", "station_000"))
		assert.Equal(t, uint(6), nw.RouteTravelTime("line_000", "route_000", "station_000", "station_001"))
		assert.Equal(t, uint(6), nw.RouteTravelTime("line_000", "route_001", "station_001", "station_000"))
	})
}

func TestTravelTime(t *testing.T) {
	nw := newFixture(t)

	tests := []struct {
		name string
		a, b string
		want uint
	}{
		{"adjacent", "station_000", "station_001", 2},
		{"reverse direction", "station_004", "station_003", 4},
		{"only one route direction exists", "station_003", "station_001", 1},
		{"same station", "station_001", "station_001", 0},
		{"not adjacent", "station_000", "station_002", 0},
		{"unknown station", "station_000", "station_999", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nw.TravelTime(tt.a, tt.b))
		})
	}
}

func TestRouteTravelTime(t *testing.T) {
	nw := newFixture(t)

	tests := []struct {
		name        string
		line, route string
		a, b        string
		want        uint
	}{
		{"adjacent", "line_000", "route_000", "station_000", "station_001", 2},
		{"whole route", "line_000", "route_000", "station_000", "station_002", 5},
		{"opposite route", "line_000", "route_001", "station_002", "station_000", 5},
		{"b precedes a", "line_000", "route_000", "station_002", "station_000", 0},
		{"same station", "line_000", "route_000", "station_001", "station_001", 0},
		{"route on other line", "line_001", "route_000", "station_000", "station_001", 0},
		{"unknown line", "line_999", "route_000", "station_000", "station_001", 0},
		{"unknown route", "line_000", "route_999", "station_000", "station_001", 0},
		{"station not on route", "line_000", "route_000", "station_000", "station_004", 0},
		{"second line", "line_001", "route_002", "station_001", "station_004", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nw.RouteTravelTime(tt.line, tt.route, tt.a, tt.b))
		})
	}
}

func TestFastestPath(t *testing.T) {
	nw := newFixture(t)

	t.Run("with a change", func(t *testing.T) {
		path, err := nw.FastestPath("station_000", "station_004")
		require.NoError(t, err)
		assert.Equal(t, uint(7), path.TotalTravelTime)
		assert.Equal(t, []PathStep{
			{StationID: "station_000"},
			{StationID: "station_001", LineID: "line_000", RouteID: "route_000"},
			{StationID: "station_003", LineID: "line_001", RouteID: "route_002"},
			{StationID: "station_004", LineID: "line_001", RouteID: "route_002"},
		}, path.Steps)
		assert.Equal(t, 1, path.Changes())
	})

	t.Run("follows route direction", func(t *testing.T) {
		path, err := nw.FastestPath("station_002", "station_000")
		require.NoError(t, err)
		assert.Equal(t, uint(5), path.TotalTravelTime)
		assert.Equal(t, "route_001", path.Steps[len(path.Steps)-1].RouteID)
		assert.Zero(t, path.Changes())
	})

	t.Run("same station", func(t *testing.T) {
		path, err := nw.FastestPath("station_003", "station_003")
		require.NoError(t, err)
		assert.Len(t, path.Steps, 1)
		assert.Zero(t, path.TotalTravelTime)
	})

	t.Run("prefers cheaper detour", func(t *testing.T) {
		// A direct express edge slower than going round via 3.
		nw := newFixture(t)
		require.NoError(t, nw.AddLine(Line{ID: "line_002", Routes: []Route{
			route("route_003", "line_002", "station_001", "station_004"),
		}}))
		require.NoError(t, nw.SetTravelTime("station_001", "station_004", 10))

		path, err := nw.FastestPath("station_001", "station_004")
		require.NoError(t, err)
		assert.Equal(t, uint(5), path.TotalTravelTime)
		assert.Len(t, path.Steps, 3)
	})

	t.Run("no path against direction of travel", func(t *testing.T) {
		_, err := nw.FastestPath("station_004", "station_001")
		assert.ErrorIs(t, err, ErrNoPath)
	})

	t.Run("isolated station", func(t *testing.T) {
		_, err := nw.FastestPath("station_000", "station_005")
		assert.ErrorIs(t, err, ErrNoPath)
	})

	t.Run("unknown station", func(t *testing.T) {
		_, err := nw.FastestPath("station_999", "station_000")
		assert.ErrorIs(t, err, ErrStationNotFound)
	})
}
