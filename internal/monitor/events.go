package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"github.com/zsiec/network-monitor/internal/logger"
	"github.com/zsiec/network-monitor/internal/metrics"
	"github.com/zsiec/network-monitor/internal/network"
)

// Event sources.
const (
	SourceFeed = "feed"
	SourceAPI  = "api"
)

var ErrMalformedEvent = errors.New("malformed passenger event")

type queuedEvent struct {
	event  network.PassengerEvent
	source string
}

// timestamp layouts accepted in the datetime field, most specific first
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParsePassengerEvent decodes one feed message:
//
//	{"datetime": "...", "passenger_event": "in", "station_id": "..."}
func ParsePassengerEvent(body []byte) (network.PassengerEvent, error) {
	var ev network.PassengerEvent

	stationID, err := jsonparser.GetString(body, "station_id")
	if err != nil {
		return ev, fmt.Errorf("%w: station_id: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(stationID) == "" {
		return ev, fmt.Errorf("%w: empty station_id", ErrMalformedEvent)
	}

	kind, err := jsonparser.GetString(body, "passenger_event")
	if err != nil {
		return ev, fmt.Errorf("%w: passenger_event: %v", ErrMalformedEvent, err)
	}
	typ, err := network.ParseEventType(kind)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	raw, err := jsonparser.GetString(body, "datetime")
	if err != nil {
		return ev, fmt.Errorf("%w: datetime: %v", ErrMalformedEvent, err)
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev.StationID = stationID
	ev.Type = typ
	ev.Timestamp = ts
	return ev, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", s)
}

// RecordEvent queues an event from outside the feed. Unknown stations are
// rejected up front; the event is applied asynchronously.
func (m *Monitor) RecordEvent(event network.PassengerEvent) error {
	nw, err := m.current()
	if err != nil {
		return err
	}
	if _, err := nw.Station(event.StationID); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if !m.enqueue(event, SourceAPI) {
		return ErrQueueFull
	}
	return nil
}

// enqueue never blocks: a full queue drops the event.
func (m *Monitor) enqueue(event network.PassengerEvent, source string) bool {
	select {
	case m.events <- queuedEvent{event: event, source: source}:
		metrics.SetEventQueueDepth(len(m.events))
		return true
	default:
		metrics.IncrementEventDropped(metrics.DropQueueFull)
		m.log.WarnWithCategory(logger.CategoryPassengerEvent, "Event queue full, dropping event", map[string]interface{}{
			"station_id": event.StationID,
			"source":     source,
		})
		return false
	}
}

// eventWorker is the only writer of passenger counts.
func (m *Monitor) eventWorker(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case qe := <-m.events:
			m.apply(ctx, qe)
		case <-ctx.Done():
			m.drain()
			return
		}
	}
}

// drain applies whatever is still queued at shutdown.
func (m *Monitor) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case qe := <-m.events:
			m.apply(ctx, qe)
		default:
			return
		}
	}
}

func (m *Monitor) apply(ctx context.Context, qe queuedEvent) {
	metrics.SetEventQueueDepth(len(m.events))

	m.applyMu.Lock()
	nw := m.network.Load()
	err := nw.RecordPassengerEvent(qe.event)
	var count int64
	if err == nil {
		count, _ = nw.PassengerCount(qe.event.StationID)
	}
	m.applyMu.Unlock()

	if err != nil {
		metrics.IncrementEventDropped(metrics.DropUnknownStation)
		m.log.WarnWithCategory(logger.CategoryPassengerEvent, "Dropping passenger event", map[string]interface{}{
			"station_id": qe.event.StationID,
			"source":     qe.source,
			"error":      err.Error(),
		})
		return
	}

	m.processed.Add(1)
	metrics.RecordPassengerEvent(qe.event.StationID, qe.event.Type.String(), qe.source, count)
	m.log.DebugWithCategory(logger.CategoryPassengerEvent, "Passenger event applied", map[string]interface{}{
		"station_id": qe.event.StationID,
		"event":      qe.event.Type.String(),
		"count":      count,
		"source":     qe.source,
	})

	if err := m.store.Apply(ctx, qe.event); err != nil {
		metrics.IncrementStoreError("apply")
		m.log.WithError(err).WithField("station_id", qe.event.StationID).Error("Failed to persist passenger event")
	}
}
