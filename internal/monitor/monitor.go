// Package monitor ties the network, the passenger feed and the layout
// refresh together into one running service.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"github.com/zsiec/network-monitor/internal/config"
	"github.com/zsiec/network-monitor/internal/download"
	"github.com/zsiec/network-monitor/internal/logger"
	"github.com/zsiec/network-monitor/internal/metrics"
	"github.com/zsiec/network-monitor/internal/network"
	"github.com/zsiec/network-monitor/internal/reconnect"
	"github.com/zsiec/network-monitor/internal/stomp"
	"github.com/zsiec/network-monitor/internal/store"
	"github.com/zsiec/network-monitor/internal/websocket"
)

var (
	ErrNotReady       = errors.New("network layout not loaded")
	ErrQueueFull      = errors.New("passenger event queue full")
	ErrAlreadyStarted = errors.New("monitor already started")
)

// Options carries the monitor's collaborators. Zero values get defaults.
type Options struct {
	Fs     afero.Fs
	Store  store.CountStore
	Logger logger.Logger
}

// Monitor owns the live transport network.
type Monitor struct {
	cfg        config.MonitorConfig
	fs         afero.Fs
	store      store.CountStore
	log        *logger.SampledLogger
	downloader *download.Downloader

	network   atomic.Pointer[network.TransportNetwork]
	loadedAt  atomic.Int64 // unix nanos of the last successful load
	layoutSum [32]byte

	// applyMu orders event application against network swaps so no event
	// lands on a network that is being replaced.
	applyMu  sync.Mutex
	reloadMu sync.Mutex

	events    chan queuedEvent
	processed atomic.Int64
	paths     *lru.Cache[pathKey, network.Path]

	ws            *websocket.Client
	stomp         *stomp.Client
	reconnect     *reconnect.Manager
	feedConnected atomic.Bool
	feedSessions  atomic.Int64
	feedCtx       context.Context
	feedCtxMu     sync.Mutex

	cron    *cron.Cron
	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a monitor. Nothing runs until Start.
func New(cfg config.MonitorConfig, opts Options) (*Monitor, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNullLogger()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore(cfg.Events.HistorySize)
	}

	queueSize := cfg.Events.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	cacheSize := cfg.PathCache.Size
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	paths, err := lru.New[pathKey, network.Path](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create path cache: %w", err)
	}

	base := opts.Logger.WithField("component", "monitor")
	m := &Monitor{
		cfg:   cfg,
		fs:    opts.Fs,
		store: opts.Store,
		log:   logger.NewMonitorLogger(base),
		downloader: download.New(opts.Fs,
			download.WithTimeout(cfg.Layout.DownloadTimeout),
			download.WithLogger(opts.Logger.WithField("component", "download"))),
		events: make(chan queuedEvent, queueSize),
		paths:  paths,
	}

	if cfg.Feed.Enabled {
		if err := m.setupFeed(opts.Logger); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Start loads the layout, restores persisted counts, and starts the event
// worker, the refresh triggers and the feed. It fails only when no layout
// can be loaded.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, m.cancel = context.WithCancel(ctx)

	if _, err := m.ReloadLayout(ctx, TriggerStartup); err != nil {
		m.cancel()
		return fmt.Errorf("initial layout load: %w", err)
	}
	m.restoreCounts(ctx)

	m.wg.Add(1)
	go m.eventWorker(ctx)

	if err := m.startRefresh(ctx); err != nil {
		m.cancel()
		m.wg.Wait()
		return err
	}

	if m.reconnect != nil {
		m.feedCtxMu.Lock()
		m.feedCtx = ctx
		m.feedCtxMu.Unlock()
		m.reconnect.Start(ctx)
	}

	m.log.WithFields(map[string]interface{}{
		"feed":     m.cfg.Feed.Enabled,
		"schedule": m.cfg.Layout.RefreshSchedule,
		"watch":    m.cfg.Layout.Watch,
	}).Info("Network monitor started")
	return nil
}

// Stop shuts the feed down, stops refreshes, drains queued events and
// waits for every goroutine.
func (m *Monitor) Stop(ctx context.Context) error {
	if !m.started.Load() || !m.stopped.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if m.reconnect != nil {
		m.reconnect.Stop()
		err = m.closeFeed(ctx)
	}

	if m.cron != nil {
		cronCtx := m.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("monitor shutdown: %w", ctx.Err())
	}

	m.log.Info("Network monitor stopped")
	return err
}

// Network returns the active network, nil before the first load.
func (m *Monitor) Network() *network.TransportNetwork {
	return m.network.Load()
}

func (m *Monitor) current() (*network.TransportNetwork, error) {
	nw := m.network.Load()
	if nw == nil {
		return nil, ErrNotReady
	}
	return nw, nil
}

// Ready reports whether a layout is loaded.
func (m *Monitor) Ready() bool {
	return m.network.Load() != nil
}

// StationCount is the number of stations in the active network.
func (m *Monitor) StationCount() int {
	nw := m.network.Load()
	if nw == nil {
		return 0
	}
	return nw.Stats().Stations
}

// LayoutLoadedAt is when the active layout was swapped in.
func (m *Monitor) LayoutLoadedAt() time.Time {
	ns := m.loadedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// FeedEnabled reports whether the passenger feed is configured.
func (m *Monitor) FeedEnabled() bool {
	return m.cfg.Feed.Enabled
}

// FeedConnected reports whether the feed subscription is live.
func (m *Monitor) FeedConnected() bool {
	return m.feedConnected.Load()
}

// Processed is the number of events applied to the network.
func (m *Monitor) Processed() int64 {
	return m.processed.Load()
}

// RecentEvents returns up to n of the latest events, newest first.
func (m *Monitor) RecentEvents(ctx context.Context, n int) ([]network.PassengerEvent, error) {
	return m.store.Recent(ctx, n)
}

// ResetCounts zeroes every passenger count and clears the event history in
// the store. It returns the number of stations reset.
func (m *Monitor) ResetCounts(ctx context.Context) (int, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	nw, err := m.current()
	if err != nil {
		return 0, err
	}
	if err := m.store.Reset(ctx); err != nil {
		metrics.IncrementStoreError("reset")
		return 0, fmt.Errorf("reset store: %w", err)
	}

	stations := nw.ResetPassengerCounts()
	metrics.ResetStationPassengers()
	m.publishCounts()
	m.log.WithField("stations", stations).Info("Passenger counts reset")
	return stations, nil
}

func (m *Monitor) restoreCounts(ctx context.Context) {
	counts, err := m.store.Load(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Failed to restore passenger counts, starting from zero")
		return
	}

	m.applyMu.Lock()
	restored := m.network.Load().RestorePassengerCounts(counts)
	m.applyMu.Unlock()

	m.publishCounts()
	m.log.WithFields(map[string]interface{}{
		"restored": restored,
		"stored":   len(counts),
	}).Info("Restored passenger counts")
}
