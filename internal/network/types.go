// Package network holds the in-memory graph of the transport network:
// stations, the lines and routes that connect them, travel times between
// adjacent stations and live passenger counts.
package network

import (
	"fmt"
	"strings"
	"time"
)

// Station is a stop on the network. Two stations are the same station when
// their IDs match; names need not be unique.
type Station struct {
	ID   string `json:"station_id"`
	Name string `json:"name"`
}

// Route is one journey across an ordered list of stops in a single
// direction. There may or may not be a matching route going the other way.
type Route struct {
	ID             string   `json:"route_id"`
	Direction      string   `json:"direction"`
	LineID         string   `json:"line_id"`
	StartStationID string   `json:"start_station_id"`
	EndStationID   string   `json:"end_station_id"`
	Stops          []string `json:"route_stops"`
}

// Validate checks the route on its own, without looking at the network.
func (r Route) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty route ID", ErrInvalidRoute)
	}
	if len(r.Stops) < 2 {
		return fmt.Errorf("%w: route %s has %d stops, need at least 2", ErrInvalidRoute, r.ID, len(r.Stops))
	}
	if r.StartStationID != r.Stops[0] {
		return fmt.Errorf("%w: route %s starts at %s but its first stop is %s",
			ErrInvalidRoute, r.ID, r.StartStationID, r.Stops[0])
	}
	if last := r.Stops[len(r.Stops)-1]; r.EndStationID != last {
		return fmt.Errorf("%w: route %s ends at %s but its last stop is %s",
			ErrInvalidRoute, r.ID, r.EndStationID, last)
	}
	return nil
}

// Line is a named collection of routes.
type Line struct {
	ID     string  `json:"line_id"`
	Name   string  `json:"name"`
	Routes []Route `json:"routes"`
}

// EventType says whether a passenger entered or left a station.
type EventType int

const (
	EventIn EventType = iota
	EventOut
)

// ParseEventType accepts "in" and "out" in any case.
func ParseEventType(s string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in":
		return EventIn, nil
	case "out":
		return EventOut, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

func (t EventType) String() string {
	switch t {
	case EventIn:
		return "in"
	case EventOut:
		return "out"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

func (t EventType) MarshalText() ([]byte, error) {
	if t != EventIn && t != EventOut {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventType, int(t))
	}
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	parsed, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// PassengerEvent is one passenger going in or out of a station. The JSON
// field names match the live feed's messages.
type PassengerEvent struct {
	StationID string    `json:"station_id"`
	Type      EventType `json:"passenger_event"`
	Timestamp time.Time `json:"datetime"`
}

// PathStep is one station on a path together with the line and route used
// to reach it. The first step of a path has no line or route.
type PathStep struct {
	StationID string `json:"station_id"`
	LineID    string `json:"line_id,omitempty"`
	RouteID   string `json:"route_id,omitempty"`
}

// Path is an ordered journey between two stations.
type Path struct {
	Steps           []PathStep `json:"steps"`
	TotalTravelTime uint       `json:"total_travel_time"`
}

// Changes counts the number of times the path switches route.
func (p Path) Changes() int {
	changes := 0
	for i := 2; i < len(p.Steps); i++ {
		if p.Steps[i].RouteID != p.Steps[i-1].RouteID {
			changes++
		}
	}
	return changes
}
