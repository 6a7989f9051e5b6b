package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"github.com/zsiec/network-monitor/internal/logger"
	"github.com/zsiec/network-monitor/internal/metrics"
	"github.com/zsiec/network-monitor/internal/network"
)

// Layout reload triggers.
const (
	TriggerStartup = "startup"
	TriggerCron    = "cron"
	TriggerWatch   = "watch"
	TriggerAPI     = "api"
)

const layoutDebounce = 200 * time.Millisecond

// LayoutInfo describes the outcome of a layout load.
type LayoutInfo struct {
	Trigger    string        `json:"trigger"`
	Downloaded bool          `json:"downloaded"`
	Changed    bool          `json:"changed"`
	Stats      network.Stats `json:"stats"`
	LoadedAt   time.Time     `json:"loaded_at"`
}

// ReloadLayout fetches the layout (downloading it first when a URL is
// configured), builds a fresh network and swaps it in with the current
// passenger counts carried over. An unchanged layout is not rebuilt. On
// failure the active network stays in place.
func (m *Monitor) ReloadLayout(ctx context.Context, trigger string) (LayoutInfo, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	start := time.Now()
	info, err := m.reloadLayout(ctx, trigger)
	metrics.RecordLayoutLoad(trigger, err == nil, time.Since(start))
	if err != nil {
		m.log.WithError(err).WithField("trigger", trigger).Error("Layout load failed")
		return info, err
	}

	m.log.WithFields(map[string]interface{}{
		"trigger":    trigger,
		"changed":    info.Changed,
		"downloaded": info.Downloaded,
		"stations":   info.Stats.Stations,
		"routes":     info.Stats.Routes,
		"duration":   time.Since(start).String(),
	}).Info("Layout loaded")
	return info, nil
}

func (m *Monitor) reloadLayout(ctx context.Context, trigger string) (LayoutInfo, error) {
	info := LayoutInfo{Trigger: trigger}
	path := m.cfg.Layout.Path

	// A watch trigger reacts to the file itself and must not fetch again.
	if m.cfg.Layout.URL != "" && trigger != TriggerWatch {
		_, err := m.downloader.DownloadFile(ctx, m.cfg.Layout.URL, path, m.cfg.Layout.CAFile)
		if err != nil {
			exists, _ := afero.Exists(m.fs, path)
			if m.Ready() || !exists {
				return info, fmt.Errorf("download layout: %w", err)
			}
			m.log.WithError(err).WithField("path", path).Warn("Layout download failed, using local copy")
		} else {
			info.Downloaded = true
		}
	}

	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return info, fmt.Errorf("read layout: %w", err)
	}

	sum := sha256.Sum256(data)
	if current := m.network.Load(); current != nil && sum == m.layoutSum {
		info.Stats = current.Stats()
		info.LoadedAt = m.LayoutLoadedAt()
		return info, nil
	}

	var layout network.Layout
	if err := json.Unmarshal(data, &layout); err != nil {
		return info, fmt.Errorf("parse layout %s: %w", path, err)
	}
	nw, err := network.NewFromLayout(&layout)
	if err != nil {
		return info, fmt.Errorf("build network: %w", err)
	}

	m.swap(nw)
	m.layoutSum = sum

	info.Changed = true
	info.Stats = nw.Stats()
	info.LoadedAt = m.LayoutLoadedAt()
	return info, nil
}

// swap installs nw as the active network, carrying the passenger counts of
// the stations that survive.
func (m *Monitor) swap(nw *network.TransportNetwork) {
	m.applyMu.Lock()
	carried := 0
	if old := m.network.Load(); old != nil {
		carried = nw.RestorePassengerCounts(old.PassengerCounts())
	}
	m.network.Store(nw)
	m.loadedAt.Store(time.Now().UnixNano())
	m.applyMu.Unlock()

	m.paths.Purge()

	stats := nw.Stats()
	metrics.SetNetworkSize(stats.Stations, stats.Lines, stats.Routes, stats.Edges)
	metrics.ResetStationPassengers()
	m.publishCounts()

	if carried > 0 {
		m.log.WithField("stations", carried).Debug("Carried passenger counts over to the new network")
	}
}

func (m *Monitor) publishCounts() {
	nw := m.network.Load()
	if nw == nil {
		return
	}
	for id, count := range nw.PassengerCounts() {
		metrics.SetStationPassengers(id, count)
	}
}

func (m *Monitor) startRefresh(ctx context.Context) error {
	if spec := m.cfg.Layout.RefreshSchedule; spec != "" {
		cl := cronLogger{log: m.log}
		m.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl)))
		_, err := m.cron.AddFunc(spec, func() {
			_, _ = m.ReloadLayout(ctx, TriggerCron)
		})
		if err != nil {
			m.cron = nil
			return fmt.Errorf("invalid layout refresh schedule %q: %w", spec, err)
		}
		m.cron.Start()
	}

	if m.cfg.Layout.Watch {
		if _, ok := m.fs.(*afero.OsFs); !ok {
			m.log.Warn("Layout watching needs the OS filesystem, not watching")
			return nil
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create layout watcher: %w", err)
		}
		// Watch the directory: the layout is replaced by rename, which
		// would drop a watch on the file itself.
		dir := filepath.Dir(m.cfg.Layout.Path)
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		m.wg.Add(1)
		go m.watchLayout(ctx, watcher)
	}
	return nil
}

func (m *Monitor) watchLayout(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.wg.Done()
	defer watcher.Close()

	target := filepath.Clean(m.cfg.Layout.Path)
	fire := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	m.log.WithField("path", target).Info("Watching layout file")

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(layoutDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				debounce.Reset(layoutDebounce)
			}

		case <-fire:
			_, _ = m.ReloadLayout(ctx, TriggerWatch)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.log.WithError(err).Warn("Layout watcher error")
		}
	}
}

// cronLogger routes cron's own logging through the service logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
