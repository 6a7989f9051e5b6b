package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Passenger feed metrics
	passengerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_passenger_events_total",
		Help: "Total passenger events applied to the network",
	}, []string{"event_type", "source"})

	passengerEventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_passenger_events_dropped_total",
		Help: "Total passenger messages dropped before reaching the network",
	}, []string{"reason"})

	stationPassengers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netmon_station_passengers",
		Help: "Current passenger count per station",
	}, []string{"station_id"})

	eventQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netmon_event_queue_depth",
		Help: "Passenger events waiting to be applied",
	})

	// Feed connection metrics
	feedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netmon_feed_connected",
		Help: "Whether the passenger feed is connected (1) or not (0)",
	})

	feedReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_feed_reconnects_total",
		Help: "Total feed reconnection attempts by outcome",
	}, []string{"result"})

	stompFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_stomp_frames_total",
		Help: "Total STOMP frames by direction and command",
	}, []string{"direction", "command"})

	// Layout metrics
	layoutLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_layout_loads_total",
		Help: "Total layout loads by trigger and outcome",
	}, []string{"trigger", "result"})

	layoutLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netmon_layout_load_duration_seconds",
		Help:    "Time to fetch, parse and build a layout",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
	})

	networkSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netmon_network_size",
		Help: "Number of stations, lines, routes and edges in the active network",
	}, []string{"kind"})

	// Path metrics
	pathCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_path_cache_total",
		Help: "Fastest path cache lookups by result",
	}, []string{"result"})

	pathComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netmon_path_compute_duration_seconds",
		Help:    "Time to compute a fastest path on a cache miss",
		Buckets: prometheus.ExponentialBuckets(0.00001, 10, 7), // 10µs to 10s
	})

	// Store metrics
	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_store_errors_total",
		Help: "Total passenger store errors by operation",
	}, []string{"operation"})

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_http_requests_total",
		Help: "Total HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netmon_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netmon_http_rate_limited_total",
		Help: "Total HTTP requests rejected by the rate limiter",
	})
)

// Drop reasons for passenger messages.
const (
	DropMalformed      = "malformed"
	DropQueueFull      = "queue_full"
	DropUnknownStation = "unknown_station"
)

// RecordPassengerEvent counts an applied event and updates the station gauge.
func RecordPassengerEvent(stationID, eventType, source string, count int64) {
	passengerEventsTotal.WithLabelValues(eventType, source).Inc()
	stationPassengers.WithLabelValues(stationID).Set(float64(count))
}

// SetStationPassengers sets the gauge for one station, used after restores
// and layout swaps.
func SetStationPassengers(stationID string, count int64) {
	stationPassengers.WithLabelValues(stationID).Set(float64(count))
}

// ResetStationPassengers clears every station gauge.
func ResetStationPassengers() {
	stationPassengers.Reset()
}

// IncrementEventDropped counts a dropped passenger message
func IncrementEventDropped(reason string) {
	passengerEventsDroppedTotal.WithLabelValues(reason).Inc()
}

// SetEventQueueDepth sets the number of queued passenger events
func SetEventQueueDepth(depth int) {
	eventQueueDepth.Set(float64(depth))
}

// SetFeedConnected flips the feed connection gauge
func SetFeedConnected(connected bool) {
	if connected {
		feedConnected.Set(1)
		return
	}
	feedConnected.Set(0)
}

// IncrementFeedReconnect counts a reconnection attempt
func IncrementFeedReconnect(success bool) {
	feedReconnectsTotal.WithLabelValues(result(success)).Inc()
}

// IncrementStompFrame counts a STOMP frame sent ("out") or received ("in")
func IncrementStompFrame(direction, command string) {
	stompFramesTotal.WithLabelValues(direction, command).Inc()
}

// RecordLayoutLoad records one layout load
func RecordLayoutLoad(trigger string, success bool, duration time.Duration) {
	layoutLoadsTotal.WithLabelValues(trigger, result(success)).Inc()
	if success {
		layoutLoadDuration.Observe(duration.Seconds())
	}
}

// SetNetworkSize publishes the size of the active network
func SetNetworkSize(stations, lines, routes, edges int) {
	networkSize.WithLabelValues("stations").Set(float64(stations))
	networkSize.WithLabelValues("lines").Set(float64(lines))
	networkSize.WithLabelValues("routes").Set(float64(routes))
	networkSize.WithLabelValues("edges").Set(float64(edges))
}

// RecordPathCache records a path cache hit or miss
func RecordPathCache(hit bool) {
	if hit {
		pathCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	pathCacheTotal.WithLabelValues("miss").Inc()
}

// RecordPathCompute records the time spent computing a path
func RecordPathCompute(duration time.Duration) {
	pathComputeDuration.Observe(duration.Seconds())
}

// IncrementStoreError counts a failed store operation
func IncrementStoreError(operation string) {
	storeErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest records a served request. route is the mux path
// template, never the raw URL.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncrementRateLimited counts a request rejected by the rate limiter
func IncrementRateLimited() {
	rateLimitedTotal.Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
