package network

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func station(i string) Station {
	return Station{ID: "station_" + i, Name: "Station Name " + i}
}

func route(id, line string, stops ...string) Route {
	return Route{
		ID:             id,
		Direction:      "inbound",
		LineID:         line,
		StartStationID: stops[0],
		EndStationID:   stops[len(stops)-1],
		Stops:          stops,
	}
}

func addStations(t *testing.T, nw *TransportNetwork, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, nw.AddStation(station(id)))
	}
}

func TestAddStation(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		nw := New()
		require.NoError(t, nw.AddStation(station("000")))

		got, err := nw.Station("station_000")
		require.NoError(t, err)
		assert.Equal(t, "Station Name 000", got.Name)
	})

	t.Run("duplicate id", func(t *testing.T) {
		nw := New()
		require.NoError(t, nw.AddStation(station("000")))
		err := nw.AddStation(Station{ID: "station_000", Name: "Other"})
		assert.ErrorIs(t, err, ErrStationExists)
	})

	t.Run("duplicate name", func(t *testing.T) {
		nw := New()
		require.NoError(t, nw.AddStation(Station{ID: "station_000", Name: "Same"}))
		assert.NoError(t, nw.AddStation(Station{ID: "station_001", Name: "Same"}))
		assert.Len(t, nw.Stations(), 2)
	})

	t.Run("empty id", func(t *testing.T) {
		assert.ErrorIs(t, New().AddStation(Station{Name: "No ID"}), ErrInvalidStation)
	})
}

func TestAddLine(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		nw := New()
		addStations(t, nw, "000", "001")

		line := Line{ID: "line_000", Name: "Line Name", Routes: []Route{
			route("route_000", "line_000", "station_000", "station_001"),
		}}
		assert.NoError(t, nw.AddLine(line))
	})

	t.Run("shared stations", func(t *testing.T) {
		nw := New()
		addStations(t, nw, "000", "001", "002", "003")

		line := Line{ID: "line_000", Name: "Line Name", Routes: []Route{
			route("route_000", "line_000", "station_000", "station_001", "station_002"),
			route("route_001", "line_000", "station_003", "station_001", "station_002"),
		}}
		require.NoError(t, nw.AddLine(line))

		routes, err := nw.RoutesServingStation("station_001")
		require.NoError(t, err)
		assert.Equal(t, []string{"route_000", "route_001"}, routes)
	})

	t.Run("duplicate", func(t *testing.T) {
		nw := New()
		addStations(t, nw, "000", "001")

		line := Line{ID: "line_000", Name: "Line Name", Routes: []Route{
			route("route_000", "line_000", "station_000", "station_001"),
		}}
		require.NoError(t, nw.AddLine(line))
		assert.ErrorIs(t, nw.AddLine(line), ErrLineExists)
	})

	t.Run("missing station", func(t *testing.T) {
		nw := New()
		line := Line{ID: "line_000", Name: "Line Name", Routes: []Route{
			route("route_000", "line_000", "station_000", "station_001", "station_002"),
		}}

		assert.ErrorIs(t, nw.AddLine(line), ErrStationNotFound)

		addStations(t, nw, "000", "001")
		assert.ErrorIs(t, nw.AddLine(line), ErrStationNotFound)
		rev := nw.Revision()

		addStations(t, nw, "002")
		assert.Greater(t, nw.Revision(), rev)
		assert.NoError(t, nw.AddLine(line))
	})

	t.Run("failed line leaves network unchanged", func(t *testing.T) {
		nw := New()
		addStations(t, nw, "000", "001")

		line := Line{ID: "line_000", Name: "Line Name", Routes: []Route{
			route("route_000", "line_000", "station_000", "station_001"),
			route("route_001", "line_000", "station_001", "station_999"),
		}}
		before := nw.Stats()
		rev := nw.Revision()

		require.Error(t, nw.AddLine(line))
		assert.Equal(t, before, nw.Stats())
		assert.Equal(t, rev, nw.Revision())
		assert.Zero(t, nw.TravelTime("station_000", "station_001"))

		routes, err := nw.RoutesServingStation("station_000")
		require.NoError(t, err)
		assert.Empty(t, routes)
	})

	invalid := []struct {
		name string
		line Line
		want error
	}{
		{
			name: "no routes",
			line: Line{ID: "line_000"},
			want: ErrInvalidLine,
		},
		{
			name: "empty id",
			line: Line{Routes: []Route{route("route_000", "", "station_000", "station_001")}},
			want: ErrInvalidLine,
		},
		{
			name: "single stop",
			line: Line{ID: "line_000", Routes: []Route{route("route_000", "line_000", "station_000")}},
			want: ErrInvalidRoute,
		},
		{
			name: "start mismatch",
			line: Line{ID: "line_000", Routes: []Route{{
				ID: "route_000", LineID: "line_000",
				StartStationID: "station_001", EndStationID: "station_001",
				Stops: []string{"station_000", "station_001"},
			}}},
			want: ErrInvalidRoute,
		},
		{
			name: "route of another line",
			line: Line{ID: "line_000", Routes: []Route{route("route_000", "line_001", "station_000", "station_001")}},
			want: ErrInvalidRoute,
		},
		{
			name: "route repeated within line",
			line: Line{ID: "line_000", Routes: []Route{
				route("route_000", "line_000", "station_000", "station_001"),
				route("route_000", "line_000", "station_001", "station_000"),
			}},
			want: ErrRouteExists,
		},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			nw := New()
			addStations(t, nw, "000", "001")
			assert.ErrorIs(t, nw.AddLine(tt.line), tt.want)
		})
	}

	t.Run("route id reused by another line", func(t *testing.T) {
		nw := New()
		addStations(t, nw, "000", "001")
		require.NoError(t, nw.AddLine(Line{ID: "line_000", Routes: []Route{
			route("route_000", "line_000", "station_000", "station_001"),
		}}))
		err := nw.AddLine(Line{ID: "line_001", Routes: []Route{
			route("route_000", "line_001", "station_001", "station_000"),
		}})
		assert.ErrorIs(t, err, ErrRouteExists)
	})
}

func TestPassengerEvents(t *testing.T) {
	nw := New()
	addStations(t, nw, "000", "001")

	for _, ev := range []EventType{EventIn, EventIn, EventIn, EventOut} {
		require.NoError(t, nw.RecordPassengerEvent(PassengerEvent{StationID: "station_000", Type: ev}))
	}
	require.NoError(t, nw.RecordPassengerEvent(PassengerEvent{StationID: "station_001", Type: EventOut}))

	count, err := nw.PassengerCount("station_000")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = nw.PassengerCount("station_001")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), count, "counts may go negative")

	_, err = nw.PassengerCount("station_999")
	assert.ErrorIs(t, err, ErrStationNotFound)

	err = nw.RecordPassengerEvent(PassengerEvent{StationID: "station_999", Type: EventIn})
	assert.ErrorIs(t, err, ErrStationNotFound)
	err = nw.RecordPassengerEvent(PassengerEvent{StationID: "station_000", Type: EventType(7)})
	assert.ErrorIs(t, err, ErrUnknownEventType)

	assert.Equal(t, map[string]int64{"station_000": 2, "station_001": -1}, nw.PassengerCounts())

	restored := nw.RestorePassengerCounts(map[string]int64{"station_000": 40, "station_999": 3})
	assert.Equal(t, 1, restored)
	count, _ = nw.PassengerCount("station_000")
	assert.Equal(t, int64(40), count)

	assert.Equal(t, 2, nw.ResetPassengerCounts())
	assert.Equal(t, map[string]int64{"station_000": 0, "station_001": 0}, nw.PassengerCounts())
}

func TestPassengerEventsConcurrent(t *testing.T) {
	nw := New()
	addStations(t, nw, "000")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			typ := EventIn
			if i%2 == 1 {
				typ = EventOut
			}
			for j := 0; j < 500; j++ {
				_ = nw.RecordPassengerEvent(PassengerEvent{StationID: "station_000", Type: typ})
				_ = nw.Stations()
			}
		}(i)
	}
	wg.Wait()

	count, err := nw.PassengerCount("station_000")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRoutesServingStation(t *testing.T) {
	nw := newFixture(t)

	tests := []struct {
		station string
		want    []string
	}{
		{"station_000", []string{"route_000", "route_001"}},
		{"station_001", []string{"route_000", "route_001", "route_002"}},
		{"station_004", []string{"route_002"}},
		{"station_005", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.station, func(t *testing.T) {
			got, err := nw.RoutesServingStation(tt.station)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := nw.RoutesServingStation("station_999")
	assert.ErrorIs(t, err, ErrStationNotFound)
}

func TestEventTypeText(t *testing.T) {
	var typ EventType
	require.NoError(t, typ.UnmarshalText([]byte("OUT")))
	assert.Equal(t, EventOut, typ)

	b, err := EventIn.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "in", string(b))

	assert.ErrorIs(t, typ.UnmarshalText([]byte("sideways")), ErrUnknownEventType)
	_, err = EventType(3).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestLinesAndStats(t *testing.T) {
	nw := newFixture(t)

	lines := nw.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "line_000", lines[0].ID)
	require.Len(t, lines[0].Routes, 2)
	assert.Equal(t, "route_000", lines[0].Routes[0].ID)
	assert.Equal(t, []string{"station_000", "station_001", "station_002"}, lines[0].Routes[0].Stops)
	assert.Equal(t, "station_002", lines[0].Routes[0].EndStationID)

	assert.Equal(t, Stats{Stations: 6, Lines: 2, Routes: 3, Edges: 6}, nw.Stats())
}
