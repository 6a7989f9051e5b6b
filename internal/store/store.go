// Package store persists passenger counts and a short history of recent
// passenger events so counts survive restarts.
package store

import (
	"context"

	"github.com/zsiec/network-monitor/internal/network"
)

// CountStore persists passenger counts.
type CountStore interface {
	// Load returns the persisted count of every station seen so far.
	Load(ctx context.Context) (map[string]int64, error)
	// Apply records one event: the station count moves by one and the
	// event joins the recent history.
	Apply(ctx context.Context, event network.PassengerEvent) error
	// Recent returns up to n events, newest first.
	Recent(ctx context.Context, n int) ([]network.PassengerEvent, error)
	// Reset clears counts and history.
	Reset(ctx context.Context) error
	Close() error
}

func delta(t network.EventType) int64 {
	if t == network.EventOut {
		return -1
	}
	return 1
}
