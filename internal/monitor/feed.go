package monitor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/network-monitor/internal/logger"
	"github.com/zsiec/network-monitor/internal/metrics"
	"github.com/zsiec/network-monitor/internal/reconnect"
	"github.com/zsiec/network-monitor/internal/stomp"
	"github.com/zsiec/network-monitor/internal/websocket"
)

func (m *Monitor) setupFeed(log logger.Logger) error {
	feed := m.cfg.Feed

	var tlsConfig *tls.Config
	if feed.TLS {
		var err error
		tlsConfig, err = m.downloader.TLSConfig(feed.CAFile)
		if err != nil {
			return fmt.Errorf("feed TLS config: %w", err)
		}
		tlsConfig.ServerName = feed.Host
	}

	strategy, err := reconnect.NewStrategy(feed.Reconnect)
	if err != nil {
		return fmt.Errorf("feed reconnect strategy: %w", err)
	}

	m.ws = websocket.NewClient(websocket.Config{
		Host:             feed.Host,
		Port:             feed.Port,
		Endpoint:         feed.Endpoint,
		TLS:              feed.TLS,
		HandshakeTimeout: feed.HandshakeTimeout,
		PingInterval:     feed.PingInterval,
	}, tlsConfig, log.WithField("component", "websocket"))
	m.stomp = stomp.NewClient(m.ws, feed.StompHost, log)
	m.reconnect = reconnect.NewManager(strategy, log.WithField("component", "reconnect"))

	m.ws.OnDisconnect(m.onFeedDisconnect)
	m.stomp.OnError(m.onStompError)
	m.reconnect.SetCallbacks(m.connectFeed, m.onFeedConnected, m.onFeedGiveUp)
	return nil
}

// connectFeed runs one full connection attempt: WebSocket, STOMP session,
// subscription. A partial attempt is torn down before returning.
func (m *Monitor) connectFeed(ctx context.Context) error {
	err := m.openFeed(ctx)
	if m.feedSessions.Load() > 0 {
		metrics.IncrementFeedReconnect(err == nil)
	}
	return err
}

func (m *Monitor) openFeed(ctx context.Context) error {
	feed := m.cfg.Feed

	if err := m.ws.Connect(ctx); err != nil {
		return fmt.Errorf("websocket: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout())
	defer cancel()

	if err := m.stomp.Connect(hctx, feed.Login, feed.Passcode); err != nil {
		m.abortFeed()
		return fmt.Errorf("stomp connect: %w", err)
	}
	metrics.IncrementStompFrame("in", string(stomp.CommandConnected))

	if _, err := m.stomp.Subscribe(hctx, feed.Destination, m.onFeedMessage); err != nil {
		m.abortFeed()
		return err
	}
	return nil
}

func (m *Monitor) handshakeTimeout() time.Duration {
	if d := m.cfg.Feed.HandshakeTimeout; d > 0 {
		return d
	}
	return 10 * time.Second
}

// abortFeed drops a half-open connection without triggering a reconnect.
func (m *Monitor) abortFeed() {
	m.stomp.Reset()
	_ = m.ws.Close()
}

func (m *Monitor) onFeedConnected() {
	m.feedSessions.Add(1)
	// The socket can drop while the connect loop is still winding down, in
	// which case onFeedDisconnect could not restart it.
	if !m.ws.Connected() {
		m.markFeedDown()
		m.stomp.Reset()
		if !m.stopped.Load() {
			m.reconnect.Start(m.feedContext())
		}
		return
	}
	m.feedConnected.Store(true)
	metrics.SetFeedConnected(true)
	m.log.WithFields(map[string]interface{}{
		"destination": m.cfg.Feed.Destination,
		"session":     m.stomp.Session(),
		"attempts":    m.reconnect.Attempts(),
	}).Info("Passenger feed connected")
}

func (m *Monitor) onFeedGiveUp(err error) {
	m.log.WithError(err).Error("Giving up on the passenger feed")
}

// onFeedDisconnect fires when the server drops the WebSocket.
func (m *Monitor) onFeedDisconnect(err error) {
	m.markFeedDown()
	m.stomp.Reset()
	if m.stopped.Load() {
		return
	}
	m.log.WithError(err).Warn("Passenger feed disconnected, reconnecting")
	m.reconnect.Start(m.feedContext())
}

// onStompError handles an ERROR frame outside any request. The server
// closes the connection after sending one, which reconnects through
// onFeedDisconnect; a server that leaves it open is cut off here.
func (m *Monitor) onStompError(err error) {
	metrics.IncrementStompFrame("in", string(stomp.CommandError))
	m.markFeedDown()
	if m.stopped.Load() {
		return
	}
	m.log.WithError(err).Error("STOMP server error")

	go func() {
		time.Sleep(m.handshakeTimeout())
		if m.stopped.Load() || m.stomp.Connected() || m.reconnect.Running() || !m.ws.Connected() {
			return
		}
		m.abortFeed()
		m.reconnect.Start(m.feedContext())
	}()
}

func (m *Monitor) markFeedDown() {
	m.feedConnected.Store(false)
	metrics.SetFeedConnected(false)
}

func (m *Monitor) onFeedMessage(frame *stomp.Frame) {
	metrics.IncrementStompFrame("in", string(frame.Command))

	event, err := ParsePassengerEvent(frame.Body)
	if err != nil {
		metrics.IncrementEventDropped(metrics.DropMalformed)
		m.log.WarnWithCategory(logger.CategoryPassengerEvent, "Dropping malformed passenger message", map[string]interface{}{
			"error": err.Error(),
			"size":  len(frame.Body),
		})
		return
	}
	m.enqueue(event, SourceFeed)
}

// closeFeed ends the STOMP session cleanly when there is one.
func (m *Monitor) closeFeed(ctx context.Context) error {
	m.markFeedDown()

	if !m.stomp.Connected() {
		err := m.ws.Close()
		if errors.Is(err, websocket.ErrNotConnected) {
			return nil
		}
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout())
	defer cancel()
	if err := m.stomp.Close(cctx); err != nil && !errors.Is(err, websocket.ErrNotConnected) {
		return fmt.Errorf("close feed: %w", err)
	}
	return nil
}

// feedContext is the context reconnect loops run under: it ends with the
// monitor.
func (m *Monitor) feedContext() context.Context {
	m.feedCtxMu.Lock()
	defer m.feedCtxMu.Unlock()
	if m.feedCtx == nil {
		return context.Background()
	}
	return m.feedCtx
}
