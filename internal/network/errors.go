package network

import "errors"

var (
	ErrInvalidStation   = errors.New("invalid station")
	ErrStationExists    = errors.New("station already exists")
	ErrStationNotFound  = errors.New("station not found")
	ErrInvalidLine      = errors.New("invalid line")
	ErrLineExists       = errors.New("line already exists")
	ErrLineNotFound     = errors.New("line not found")
	ErrInvalidRoute     = errors.New("invalid route")
	ErrRouteExists      = errors.New("route already exists")
	ErrRouteNotFound    = errors.New("route not found")
	ErrUnknownEventType = errors.New("unknown passenger event type")
	ErrNotAdjacent      = errors.New("stations are not adjacent on any route")
	ErrNoPath           = errors.New("no path between stations")
	ErrNotEmpty         = errors.New("network is not empty")
)
