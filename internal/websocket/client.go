// Package websocket is a WebSocket client for the live event feed. It
// delivers every incoming text message to a handler and reports unexpected
// disconnects so the caller can reconnect.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/network-monitor/internal/logger"
)

var (
	ErrNotConnected     = errors.New("websocket not connected")
	ErrAlreadyConnected = errors.New("websocket already connected")
)

// Config describes the server endpoint.
type Config struct {
	Host             string
	Port             int
	Endpoint         string
	TLS              bool
	HandshakeTimeout time.Duration
	// PingInterval enables keepalive pings. The connection is considered
	// dead when no pong arrives within two intervals.
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// URL returns the ws:// or wss:// URL for the config.
func (c Config) URL() string {
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   c.Endpoint,
	}
	return u.String()
}

// Client is a reusable WebSocket connection: after a disconnect it can be
// connected again.
type Client struct {
	cfg       Config
	tlsConfig *tls.Config
	log       logger.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	done         chan struct{}
	onMessage    func([]byte)
	onDisconnect func(error)

	// closing belongs to the current connection; each Connect starts a new
	// one so a read loop that outlives Close never sees a later reset.
	closing *atomic.Bool

	writeMu sync.Mutex
}

// NewClient creates a client. tlsConfig is used when cfg.TLS is set; nil
// means the system defaults.
func NewClient(cfg Config, tlsConfig *tls.Config, log logger.Logger) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Client{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		log:       log.WithField("url", cfg.URL()),
	}
}

// OnMessage sets the handler for incoming messages. It is called from the
// read loop, one message at a time.
func (c *Client) OnMessage(h func(msg []byte)) {
	c.mu.Lock()
	c.onMessage = h
	c.mu.Unlock()
}

// OnDisconnect sets the handler called when the connection drops for any
// reason other than Close.
func (c *Client) OnDisconnect(h func(err error)) {
	c.mu.Lock()
	c.onDisconnect = h
	c.mu.Unlock()
}

// Connected reports whether the client has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the server and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	if c.cfg.TLS {
		dialer.TLSClientConfig = c.tlsConfig
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket handshake failed with %s: %w", resp.Status, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.conn = conn
	c.done = make(chan struct{})
	c.closing = new(atomic.Bool)

	if c.cfg.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingInterval))
		})
		go c.pingLoop(conn, c.done)
	}
	go c.readLoop(conn, c.done, c.closing)

	c.log.Info("WebSocket connected")
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}, closing *atomic.Bool) {
	var readErr error
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}

	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	handler := c.onDisconnect
	c.mu.Unlock()
	close(done)

	if closing.Load() {
		c.log.Debug("WebSocket closed")
		return
	}
	c.log.WithError(readErr).Warn("WebSocket disconnected")
	if handler != nil {
		handler(readErr)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.WithError(err).Debug("Ping failed")
				return
			}
		}
	}
}

// Send writes one text message. Concurrent calls are serialised. The
// context deadline, if any, bounds the write.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// Close sends a close frame and waits for the read loop to exit. The
// disconnect handler is not called.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, done, closing := c.conn, c.done, c.closing
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	closing.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = conn.Close()
	}

	select {
	case <-done:
	case <-time.After(c.cfg.HandshakeTimeout):
		// The server did not answer the close frame.
		_ = conn.Close()
		<-done
	}
	return nil
}
