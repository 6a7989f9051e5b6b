// Package reconnect retries a connect function with back-off until it
// succeeds, gives up, or is stopped.
package reconnect

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/network-monitor/internal/config"
	"github.com/zsiec/network-monitor/internal/logger"
)

// Strategy decides how long to wait before the next attempt.
type Strategy interface {
	// NextDelay returns the next delay and whether to keep retrying.
	NextDelay() (time.Duration, bool)
	Reset()
}

// NewStrategy builds the strategy named in cfg.
func NewStrategy(cfg config.ReconnectConfig) (Strategy, error) {
	switch cfg.Strategy {
	case "", "exponential":
		return NewExponentialBackoff(cfg.InitialDelay, cfg.MaxDelay, cfg.Multiplier, cfg.MaxRetries), nil
	case "linear":
		return NewLinearBackoff(cfg.InitialDelay, cfg.MaxRetries), nil
	}
	return nil, fmt.Errorf("unknown reconnect strategy %q", cfg.Strategy)
}

// ExponentialBackoff multiplies the delay after every attempt, up to
// MaxDelay, with ±20% jitter.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int

	currentDelay time.Duration
	retryCount   int
	mu           sync.Mutex
}

func NewExponentialBackoff(initialDelay, maxDelay time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		MaxRetries:   maxRetries,
		currentDelay: initialDelay,
	}
}

func (e *ExponentialBackoff) NextDelay() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.MaxRetries > 0 && e.retryCount >= e.MaxRetries {
		return 0, false
	}

	jitter := 0.8 + (0.4 * rand.Float64())
	delay := time.Duration(float64(e.currentDelay) * jitter)

	e.currentDelay = time.Duration(float64(e.currentDelay) * e.Multiplier)
	if e.MaxDelay > 0 && e.currentDelay > e.MaxDelay {
		e.currentDelay = e.MaxDelay
	}
	e.retryCount++

	return delay, true
}

func (e *ExponentialBackoff) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentDelay = e.InitialDelay
	e.retryCount = 0
}

// LinearBackoff waits the same delay between attempts.
type LinearBackoff struct {
	Delay      time.Duration
	MaxRetries int

	retryCount int
	mu         sync.Mutex
}

func NewLinearBackoff(delay time.Duration, maxRetries int) *LinearBackoff {
	return &LinearBackoff{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

func (l *LinearBackoff) NextDelay() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.MaxRetries > 0 && l.retryCount >= l.MaxRetries {
		return 0, false
	}
	l.retryCount++
	return l.Delay, true
}

func (l *LinearBackoff) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retryCount = 0
}

// Manager runs one connect loop at a time. After a success the loop ends;
// call Start again when the connection drops.
type Manager struct {
	strategy Strategy
	logger   logger.Logger

	mu        sync.Mutex
	onConnect func(ctx context.Context) error
	onSuccess func()
	onFailure func(err error)
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	attempts atomic.Int64
}

func NewManager(strategy Strategy, log logger.Logger) *Manager {
	return &Manager{
		strategy: strategy,
		logger:   log,
	}
}

// SetCallbacks sets the connect function and the success and give-up
// notifications. onSuccess and onFailure may be nil.
func (m *Manager) SetCallbacks(onConnect func(context.Context) error, onSuccess func(), onFailure func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onConnect = onConnect
	m.onSuccess = onSuccess
	m.onFailure = onFailure
}

// Attempts is the total number of connect attempts made.
func (m *Manager) Attempts() int64 {
	return m.attempts.Load()
}

// Running reports whether a connect loop is in progress.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start begins a connect loop unless one is already running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	if m.onConnect == nil {
		m.logger.Error("Cannot start reconnection: onConnect callback is nil")
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.reconnectLoop(ctx, m.onConnect, m.onSuccess, m.onFailure, m.stopCh, m.doneCh)
}

// Stop ends the running loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
}

// reconnectLoop ends before the callbacks run, so a callback may Start a
// new loop right away.
func (m *Manager) reconnectLoop(ctx context.Context, onConnect func(context.Context) error,
	onSuccess func(), onFailure func(error), stopCh, doneCh chan struct{}) {
	connected, gaveUp, err := m.attemptLoop(ctx, onConnect, stopCh)

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	close(doneCh)

	switch {
	case connected && onSuccess != nil:
		onSuccess()
	case gaveUp && onFailure != nil:
		onFailure(err)
	}
}

func (m *Manager) attemptLoop(ctx context.Context, onConnect func(context.Context) error,
	stopCh chan struct{}) (connected, gaveUp bool, lastErr error) {
	for {
		select {
		case <-ctx.Done():
			return false, false, ctx.Err()
		case <-stopCh:
			return false, false, nil
		default:
		}

		attempt := m.attempts.Add(1)
		err := onConnect(ctx)
		if err == nil {
			m.strategy.Reset()
			return true, false, nil
		}

		delay, shouldRetry := m.strategy.NextDelay()
		if !shouldRetry {
			m.logger.WithError(err).Error("Maximum reconnection attempts reached")
			m.strategy.Reset()
			return false, true, err
		}

		m.logger.WithError(err).WithFields(map[string]interface{}{
			"attempt":  attempt,
			"retry_in": delay.String(),
		}).Warn("Connection failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, false, ctx.Err()
		case <-stopCh:
			timer.Stop()
			return false, false, nil
		case <-timer.C:
		}
	}
}
