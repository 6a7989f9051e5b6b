package logger

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Log categories for high-frequency monitor paths.
const (
	CategoryPassengerEvent = "passenger_event"
	CategoryStompFrame     = "stomp_frame"
	CategoryAPIRequest     = "api_request"
)

// SampledLogger rate-limits log lines per category. Categories without a
// sampler always log, and errors are never sampled.
type SampledLogger struct {
	base     Logger
	samplers *samplerSet
}

type samplerSet struct {
	mu     sync.RWMutex
	byName map[string]*sampler
}

type sampler struct {
	limiter *rate.Limiter
	logged  atomic.Int64
	dropped atomic.Int64
}

// SamplerStats holds counters for one category.
type SamplerStats struct {
	Name    string `json:"name"`
	Logged  int64  `json:"logged"`
	Dropped int64  `json:"dropped"`
}

// NewSampledLogger wraps base with no samplers configured.
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     base,
		samplers: &samplerSet{byName: make(map[string]*sampler)},
	}
}

// NewMonitorLogger returns a sampled logger preconfigured for the monitor's
// event and frame categories.
func NewMonitorLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryPassengerEvent, 10, 20).
		WithSampler(CategoryStompFrame, 5, 10).
		WithSampler(CategoryAPIRequest, 50, 100)
}

// WithSampler allows perSecond lines for category with the given burst.
func (s *SampledLogger) WithSampler(category string, perSecond float64, burst int) *SampledLogger {
	s.samplers.mu.Lock()
	defer s.samplers.mu.Unlock()
	s.samplers.byName[category] = &sampler{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
	return s
}

func (s *SampledLogger) allow(category string) bool {
	s.samplers.mu.RLock()
	sm, ok := s.samplers.byName[category]
	s.samplers.mu.RUnlock()
	if !ok {
		return true
	}
	if sm.limiter.Allow() {
		sm.logged.Add(1)
		return true
	}
	sm.dropped.Add(1)
	return false
}

// Sample logs msg at level if the category's budget allows it.
func (s *SampledLogger) Sample(level logrus.Level, category, msg string, fields map[string]interface{}) {
	if level > logrus.ErrorLevel && !s.allow(category) {
		return
	}
	f := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f["category"] = category
	s.base.WithFields(f).Log(level, msg)
}

// DebugWithCategory is Sample at debug level.
func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.Sample(logrus.DebugLevel, category, msg, fields)
}

// WarnWithCategory is Sample at warn level.
func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.Sample(logrus.WarnLevel, category, msg, fields)
}

// Stats returns counters for every configured category.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.samplers.mu.RLock()
	defer s.samplers.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers.byName))
	for name, sm := range s.samplers.byName {
		stats[name] = SamplerStats{
			Name:    name,
			Logged:  sm.logged.Load(),
			Dropped: sm.dropped.Load(),
		}
	}
	return stats
}

func (s *SampledLogger) derive(base Logger) Logger {
	return &SampledLogger{base: base, samplers: s.samplers}
}

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return s.derive(s.base.WithFields(fields))
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return s.derive(s.base.WithField(key, value))
}

func (s *SampledLogger) WithError(err error) Logger {
	return s.derive(s.base.WithError(err))
}

func (s *SampledLogger) Debug(args ...interface{})                   { s.base.Debug(args...) }
func (s *SampledLogger) Info(args ...interface{})                    { s.base.Info(args...) }
func (s *SampledLogger) Warn(args ...interface{})                    { s.base.Warn(args...) }
func (s *SampledLogger) Error(args ...interface{})                   { s.base.Error(args...) }
func (s *SampledLogger) Log(level logrus.Level, args ...interface{}) { s.base.Log(level, args...) }
func (s *SampledLogger) Debugf(format string, args ...interface{})   { s.base.Debugf(format, args...) }
func (s *SampledLogger) Infof(format string, args ...interface{})    { s.base.Infof(format, args...) }
func (s *SampledLogger) Warnf(format string, args ...interface{})    { s.base.Warnf(format, args...) }
func (s *SampledLogger) Errorf(format string, args ...interface{})   { s.base.Errorf(format, args...) }
func (s *SampledLogger) Fatal(args ...interface{})                   { s.base.Fatal(args...) }
