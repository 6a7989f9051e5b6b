package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/zsiec/network-monitor/internal/errors"
	"github.com/zsiec/network-monitor/internal/logger"
	"github.com/zsiec/network-monitor/internal/manifest"
	"github.com/zsiec/network-monitor/internal/monitor"
	"github.com/zsiec/network-monitor/internal/network"
	"github.com/zsiec/network-monitor/pkg/version"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 1000
	maxEventBodyBytes  = 64 << 10
)

// VersionResponse is the body of /version.
type VersionResponse struct {
	version.Info
	Manifest     string   `json:"manifest"`
	Requirements []string `json:"requirements"`
}

// StationResponse is a station together with its live passenger count.
type StationResponse struct {
	network.Station
	Passengers int64 `json:"passengers"`
}

// StationsResponse is the body of /api/v1/stations.
type StationsResponse struct {
	Stations []StationResponse `json:"stations"`
	Count    int               `json:"count"`
}

// StationRoutesResponse lists the routes stopping at a station.
type StationRoutesResponse struct {
	StationID string   `json:"station_id"`
	Routes    []string `json:"routes"`
}

// LinesResponse is the body of /api/v1/lines.
type LinesResponse struct {
	Lines []network.Line `json:"lines"`
	Count int            `json:"count"`
}

// TravelTimeResponse reports a travel time in minutes. LineID and RouteID
// are set only for the route form.
type TravelTimeResponse struct {
	From       string `json:"from"`
	To         string `json:"to"`
	LineID     string `json:"line_id,omitempty"`
	RouteID    string `json:"route_id,omitempty"`
	TravelTime uint   `json:"travel_time"`
}

// PathResponse wraps a path with its number of changes.
type PathResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
	network.Path
	Changes int `json:"changes"`
}

// RecentEventsResponse is the body of /api/v1/events/recent.
type RecentEventsResponse struct {
	Events []network.PassengerEvent `json:"events"`
	Count  int                      `json:"count"`
}

// CountsResetResponse is the body of /api/v1/counts/reset.
type CountsResetResponse struct {
	Stations int `json:"stations"`
}

// handleVersion handles the /version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	m := manifest.Default()
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.respond(w, r, http.StatusOK, VersionResponse{
		Info:         version.GetInfo(),
		Manifest:     m.Reference(),
		Requirements: m.SortedRequirements(),
	})
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	tn, err := s.network()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	counts := tn.PassengerCounts()
	stations := tn.Stations()
	resp := StationsResponse{Stations: make([]StationResponse, 0, len(stations)), Count: len(stations)}
	for _, st := range stations {
		resp.Stations = append(resp.Stations, StationResponse{Station: st, Passengers: counts[st.ID]})
	}
	s.respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	tn, err := s.network()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id := mux.Vars(r)["id"]
	st, err := tn.Station(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	count, err := tn.PassengerCount(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, StationResponse{Station: st, Passengers: count})
}

func (s *Server) handleStationRoutes(w http.ResponseWriter, r *http.Request) {
	tn, err := s.network()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id := mux.Vars(r)["id"]
	routes, err := tn.RoutesServingStation(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, StationRoutesResponse{StationID: id, Routes: routes})
}

func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	tn, err := s.network()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lines := tn.Lines()
	s.respond(w, r, http.StatusOK, LinesResponse{Lines: lines, Count: len(lines)})
}

// handleTravelTime returns the travel time between two adjacent stations.
// Known stations that are not adjacent report 0.
func (s *Server) handleTravelTime(w http.ResponseWriter, r *http.Request) {
	tn, err := s.network()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := s.stationPair(tn, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, TravelTimeResponse{
		From:       from,
		To:         to,
		TravelTime: tn.TravelTime(from, to),
	})
}

// handleRouteTravelTime returns the travel time along one route. Stations
// off the route, or in the wrong order, report 0.
func (s *Server) handleRouteTravelTime(w http.ResponseWriter, r *http.Request) {
	tn, err := s.network()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	lineID, routeID := vars["line"], vars["route"]
	if err := findRoute(tn, lineID, routeID); err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := s.stationPair(tn, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, TravelTimeResponse{
		From:       from,
		To:         to,
		LineID:     lineID,
		RouteID:    routeID,
		TravelTime: tn.RouteTravelTime(lineID, routeID, from, to),
	})
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	tn, err := s.network()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := s.stationPair(tn, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	path, err := s.monitor.FastestPath(from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, PathResponse{From: from, To: to, Path: path, Changes: path.Changes()})
}

// handleRecordEvent accepts a passenger event in the same JSON shape the
// live feed uses and queues it.
func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes+1))
	if err != nil {
		s.writeError(w, r, errors.NewValidationError("failed to read request body"))
		return
	}
	if len(body) > maxEventBodyBytes {
		s.writeError(w, r, errors.New(errors.ErrorTypeValidation, "request body too large", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := monitor.ParsePassengerEvent(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.monitor.RecordEvent(event); err != nil {
		s.writeError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).WithFields(map[string]interface{}{
		"station_id": event.StationID,
		"event":      event.Type.String(),
	}).Debug("Passenger event accepted")
	s.respond(w, r, http.StatusAccepted, event)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRecentLimit {
			s.writeError(w, r, errors.NewValidationError(
				fmt.Sprintf("limit must be an integer between 1 and %d", maxRecentLimit)))
			return
		}
		limit = n
	}

	events, err := s.monitor.RecentEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []network.PassengerEvent{}
	}
	s.respond(w, r, http.StatusOK, RecentEventsResponse{Events: events, Count: len(events)})
}

func (s *Server) handleReloadLayout(w http.ResponseWriter, r *http.Request) {
	info, err := s.monitor.ReloadLayout(r.Context(), monitor.TriggerAPI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, info)
}

func (s *Server) handleResetCounts(w http.ResponseWriter, r *http.Request) {
	stations, err := s.monitor.ResetCounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, CountsResetResponse{Stations: stations})
}

func (s *Server) network() (*network.TransportNetwork, error) {
	tn := s.monitor.Network()
	if tn == nil || !s.monitor.Ready() {
		return nil, monitor.ErrNotReady
	}
	return tn, nil
}

// stationPair reads and checks the from and to query parameters.
func (s *Server) stationPair(tn *network.TransportNetwork, r *http.Request) (string, string, error) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		return "", "", errors.NewValidationError("query parameters from and to are required")
	}
	for _, id := range []string{from, to} {
		if _, err := tn.Station(id); err != nil {
			return "", "", err
		}
	}
	return from, to, nil
}

func findRoute(tn *network.TransportNetwork, lineID, routeID string) error {
	for _, line := range tn.Lines() {
		if line.ID != lineID {
			continue
		}
		for _, route := range line.Routes {
			if route.ID == routeID {
				return nil
			}
		}
		return fmt.Errorf("%w: %s on line %s", network.ErrRouteNotFound, routeID, lineID)
	}
	return fmt.Errorf("%w: %s", network.ErrLineNotFound, lineID)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if err := s.writeJSON(w, status, data); err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("Failed to encode response")
	}
}

// writeJSON is a helper to write JSON responses
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// writeError is a helper to write error responses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
