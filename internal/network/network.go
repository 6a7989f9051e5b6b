package network

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

type node struct {
	station    Station
	edges      []*edge
	passengers atomic.Int64
}

// edge connects two consecutive stops of one route, in the route's
// direction of travel.
type edge struct {
	route      *routeInternal
	next       *node
	travelTime uint
}

type routeInternal struct {
	id        string
	direction string
	line      *lineInternal
	stops     []*node
}

type lineInternal struct {
	id     string
	name   string
	routes map[string]*routeInternal
	order  []string
}

// TransportNetwork is the network graph. All methods are safe for
// concurrent use. Passenger events only take the read lock, so recording
// does not contend with queries.
type TransportNetwork struct {
	mu       sync.RWMutex
	stations map[string]*node
	lines    map[string]*lineInternal
	routes   map[string]*routeInternal
	revision atomic.Uint64
}

// New returns an empty network.
func New() *TransportNetwork {
	return &TransportNetwork{
		stations: make(map[string]*node),
		lines:    make(map[string]*lineInternal),
		routes:   make(map[string]*routeInternal),
	}
}

// Revision changes whenever stations, lines or travel times change.
// Passenger events do not change it.
func (n *TransportNetwork) Revision() uint64 {
	return n.revision.Load()
}

// AddStation adds a station. The ID must be non-empty and unused.
func (n *TransportNetwork) AddStation(station Station) error {
	if station.ID == "" {
		return fmt.Errorf("%w: empty station ID", ErrInvalidStation)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.stations[station.ID]; ok {
		return fmt.Errorf("%w: %s", ErrStationExists, station.ID)
	}
	n.stations[station.ID] = &node{station: station}
	n.revision.Add(1)
	return nil
}

// AddLine adds a line and all its routes. Every stop must already be a
// station in the network. The line is fully validated before anything is
// changed, so a failed call leaves the network as it was.
func (n *TransportNetwork) AddLine(line Line) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.validateLine(line); err != nil {
		return err
	}

	li := &lineInternal{
		id:     line.ID,
		name:   line.Name,
		routes: make(map[string]*routeInternal, len(line.Routes)),
	}
	for _, r := range line.Routes {
		ri := &routeInternal{
			id:        r.ID,
			direction: r.Direction,
			line:      li,
			stops:     make([]*node, 0, len(r.Stops)),
		}
		for _, stopID := range r.Stops {
			ri.stops = append(ri.stops, n.stations[stopID])
		}
		for i := 0; i+1 < len(ri.stops); i++ {
			from := ri.stops[i]
			from.edges = append(from.edges, &edge{route: ri, next: ri.stops[i+1]})
		}
		li.routes[r.ID] = ri
		li.order = append(li.order, r.ID)
		n.routes[r.ID] = ri
	}
	n.lines[line.ID] = li
	n.revision.Add(1)
	return nil
}

func (n *TransportNetwork) validateLine(line Line) error {
	if line.ID == "" {
		return fmt.Errorf("%w: empty line ID", ErrInvalidLine)
	}
	if len(line.Routes) == 0 {
		return fmt.Errorf("%w: line %s has no routes", ErrInvalidLine, line.ID)
	}
	if _, ok := n.lines[line.ID]; ok {
		return fmt.Errorf("%w: %s", ErrLineExists, line.ID)
	}

	seen := make(map[string]struct{}, len(line.Routes))
	for _, r := range line.Routes {
		if err := r.Validate(); err != nil {
			return err
		}
		if r.LineID != line.ID {
			return fmt.Errorf("%w: route %s belongs to line %s, not %s", ErrInvalidRoute, r.ID, r.LineID, line.ID)
		}
		if _, ok := n.routes[r.ID]; ok {
			return fmt.Errorf("%w: %s", ErrRouteExists, r.ID)
		}
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("%w: %s appears twice in line %s", ErrRouteExists, r.ID, line.ID)
		}
		seen[r.ID] = struct{}{}
		for _, stopID := range r.Stops {
			if _, ok := n.stations[stopID]; !ok {
				return fmt.Errorf("%w: route %s stops at %s", ErrStationNotFound, r.ID, stopID)
			}
		}
	}
	return nil
}

// RecordPassengerEvent increments the station's count for an In event and
// decrements it for an Out event.
func (n *TransportNetwork) RecordPassengerEvent(event PassengerEvent) error {
	var delta int64
	switch event.Type {
	case EventIn:
		delta = 1
	case EventOut:
		delta = -1
	default:
		return fmt.Errorf("%w: %d", ErrUnknownEventType, int(event.Type))
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	st, ok := n.stations[event.StationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStationNotFound, event.StationID)
	}
	st.passengers.Add(delta)
	return nil
}

// PassengerCount returns the station's current count. It can be negative
// when recording started after passengers had already entered.
func (n *TransportNetwork) PassengerCount(stationID string) (int64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	st, ok := n.stations[stationID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrStationNotFound, stationID)
	}
	return st.passengers.Load(), nil
}

// PassengerCounts returns a snapshot of every station's count.
func (n *TransportNetwork) PassengerCounts() map[string]int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	counts := make(map[string]int64, len(n.stations))
	for id, st := range n.stations {
		counts[id] = st.passengers.Load()
	}
	return counts
}

// RestorePassengerCounts overwrites counts for the stations present in the
// network and returns how many were restored. Unknown stations are skipped.
func (n *TransportNetwork) RestorePassengerCounts(counts map[string]int64) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	restored := 0
	for id, count := range counts {
		if st, ok := n.stations[id]; ok {
			st.passengers.Store(count)
			restored++
		}
	}
	return restored
}

// ResetPassengerCounts sets every station's count to zero and returns the
// number of stations.
func (n *TransportNetwork) ResetPassengerCounts() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, st := range n.stations {
		st.passengers.Store(0)
	}
	return len(n.stations)
}

// RoutesServingStation returns the IDs of all routes that stop at the
// station, terminus included, sorted.
func (n *TransportNetwork) RoutesServingStation(stationID string) ([]string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if _, ok := n.stations[stationID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, stationID)
	}

	routes := []string{}
	for id, r := range n.routes {
		for _, stop := range r.stops {
			if stop.station.ID == stationID {
				routes = append(routes, id)
				break
			}
		}
	}
	sort.Strings(routes)
	return routes, nil
}

// Station looks up one station.
func (n *TransportNetwork) Station(id string) (Station, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	st, ok := n.stations[id]
	if !ok {
		return Station{}, fmt.Errorf("%w: %s", ErrStationNotFound, id)
	}
	return st.station, nil
}

// Stations returns every station sorted by ID.
func (n *TransportNetwork) Stations() []Station {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]Station, 0, len(n.stations))
	for _, st := range n.stations {
		out = append(out, st.station)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lines returns every line sorted by ID, with routes in the order they were
// added.
func (n *TransportNetwork) Lines() []Line {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]Line, 0, len(n.lines))
	for _, li := range n.lines {
		line := Line{ID: li.id, Name: li.name, Routes: make([]Route, 0, len(li.order))}
		for _, routeID := range li.order {
			line.Routes = append(line.Routes, li.routes[routeID].export())
		}
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *routeInternal) export() Route {
	stops := make([]string, len(r.stops))
	for i, s := range r.stops {
		stops[i] = s.station.ID
	}
	return Route{
		ID:             r.id,
		Direction:      r.direction,
		LineID:         r.line.id,
		StartStationID: stops[0],
		EndStationID:   stops[len(stops)-1],
		Stops:          stops,
	}
}

// Stats summarises the size of the network.
type Stats struct {
	Stations int `json:"stations"`
	Lines    int `json:"lines"`
	Routes   int `json:"routes"`
	Edges    int `json:"edges"`
}

func (n *TransportNetwork) Stats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	s := Stats{Stations: len(n.stations), Lines: len(n.lines), Routes: len(n.routes)}
	for _, st := range n.stations {
		s.Edges += len(st.edges)
	}
	return s
}
