package network

import "fmt"

// SetTravelTime sets the travel time on every route edge that joins a and b
// directly, whichever way the route runs.
func (n *TransportNetwork) SetTravelTime(a, b string, travelTime uint) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	nodeA, ok := n.stations[a]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStationNotFound, a)
	}
	nodeB, ok := n.stations[b]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStationNotFound, b)
	}

	found := false
	for _, pair := range [2][2]*node{{nodeA, nodeB}, {nodeB, nodeA}} {
		for _, e := range pair[0].edges {
			if e.next == pair[1] {
				e.travelTime = travelTime
				found = true
			}
		}
	}
	if !found {
		return fmt.Errorf("%w: %s and %s", ErrNotAdjacent, a, b)
	}
	n.revision.Add(1)
	return nil
}

// TravelTime returns the travel time between two adjacent stations in
// either direction. It is 0 when either station is unknown, when they are
// not adjacent, or when a and b are the same station.
func (n *TransportNetwork) TravelTime(a, b string) uint {
	if a == b {
		return 0
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	nodeA, okA := n.stations[a]
	nodeB, okB := n.stations[b]
	if !okA || !okB {
		return 0
	}
	for _, e := range nodeA.edges {
		if e.next == nodeB {
			return e.travelTime
		}
	}
	for _, e := range nodeB.edges {
		if e.next == nodeA {
			return e.travelTime
		}
	}
	return 0
}

// RouteTravelTime returns the cumulative travel time from a to b following
// the route's stop order. It is 0 when the line, route or stations are
// unknown, when a and b are the same, or when b comes before a.
func (n *TransportNetwork) RouteTravelTime(lineID, routeID, a, b string) uint {
	if a == b {
		return 0
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	line, ok := n.lines[lineID]
	if !ok {
		return 0
	}
	route, ok := line.routes[routeID]
	if !ok {
		return 0
	}

	var (
		total   uint
		started bool
	)
	for i, stop := range route.stops {
		if !started {
			started = stop.station.ID == a
			continue
		}
		total += route.edgeTravelTime(i - 1)
		if stop.station.ID == b {
			return total
		}
	}
	return 0
}

// edgeTravelTime is the travel time from stop i to stop i+1.
func (r *routeInternal) edgeTravelTime(i int) uint {
	from, to := r.stops[i], r.stops[i+1]
	for _, e := range from.edges {
		if e.route == r && e.next == to {
			return e.travelTime
		}
	}
	return 0
}
