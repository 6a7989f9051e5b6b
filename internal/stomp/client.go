package stomp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zsiec/network-monitor/internal/logger"
)

var (
	ErrNotConnected     = errors.New("stomp session not connected")
	ErrAlreadyConnected = errors.New("stomp session already connected")
	ErrServer           = errors.New("stomp server error")
)

// ServerError is an ERROR frame received from the server.
type ServerError struct {
	Message string
	Body    string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return "stomp server error: " + e.Message
	}
	return fmt.Sprintf("stomp server error: %s: %s", e.Message, e.Body)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

// Transport carries one STOMP frame per message.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	OnMessage(h func(msg []byte))
	Close() error
}

// MessageHandler receives MESSAGE frames for one subscription.
type MessageHandler func(f *Frame)

// Client is a STOMP 1.2 client session.
type Client struct {
	transport Transport
	host      string
	log       *logger.SampledLogger

	mu        sync.Mutex
	connected bool
	connectCh chan *Frame
	receipts  map[string]chan *Frame
	subs      map[string]MessageHandler
	session   string
	onError   func(error)

	badFrames atomic.Int64
}

// NewClient creates a client that will announce host in its STOMP frame and
// installs itself as the transport's message handler.
func NewClient(transport Transport, host string, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNullLogger()
	}
	c := &Client{
		transport: transport,
		host:      host,
		log:       logger.NewMonitorLogger(log.WithField("component", "stomp")),
		receipts:  make(map[string]chan *Frame),
		subs:      make(map[string]MessageHandler),
	}
	transport.OnMessage(c.handle)
	return c
}

// OnError sets the handler for ERROR frames that no pending request claims.
// The server closes the connection after sending one.
func (c *Client) OnError(h func(error)) {
	c.mu.Lock()
	c.onError = h
	c.mu.Unlock()
}

// Session returns the session ID the server assigned, if any.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connected reports whether the server accepted the session.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// BadFrames counts undecodable frames received so far.
func (c *Client) BadFrames() int64 {
	return c.badFrames.Load()
}

// Connect opens the session with a STOMP frame and waits for CONNECTED.
// An ERROR reply is returned as a *ServerError.
func (c *Client) Connect(ctx context.Context, login, passcode string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	ch := make(chan *Frame, 1)
	c.connectCh = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connectCh = nil
		c.mu.Unlock()
	}()

	frame := NewFrame(CommandStomp, nil,
		HeaderAcceptVersion, "1.2",
		HeaderHost, c.host,
		HeaderLogin, login,
		HeaderPasscode, passcode,
	)
	if err := c.send(ctx, frame); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for CONNECTED: %w", ctx.Err())
	case reply := <-ch:
		if reply.Command == CommandError {
			return serverError(reply)
		}
		c.mu.Lock()
		c.connected = true
		c.session = reply.Header(HeaderSession)
		c.mu.Unlock()
		c.log.WithFields(map[string]interface{}{
			"version": reply.Header(HeaderVersion),
			"session": reply.Header(HeaderSession),
		}).Info("STOMP session established")
		return nil
	}
}

// Subscribe subscribes to destination and waits for the server's receipt.
// It returns the subscription ID.
func (c *Client) Subscribe(ctx context.Context, destination string, handler MessageHandler) (string, error) {
	if !c.Connected() {
		return "", ErrNotConnected
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.subs[id] = handler
	c.mu.Unlock()

	frame := NewFrame(CommandSubscribe, nil,
		HeaderDestination, destination,
		HeaderID, id,
		HeaderAck, "auto",
	)
	if err := c.request(ctx, frame); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return "", fmt.Errorf("subscribe to %s: %w", destination, err)
	}

	c.log.WithField("destination", destination).Info("Subscribed")
	return id, nil
}

// Unsubscribe ends a subscription and waits for the receipt.
func (c *Client) Unsubscribe(ctx context.Context, id string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if err := c.request(ctx, NewFrame(CommandUnsubscribe, nil, HeaderID, id)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", id, err)
	}
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
	return nil
}

// Send publishes body to destination without waiting for a receipt.
func (c *Client) Send(ctx context.Context, destination, contentType string, body []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	frame := NewFrame(CommandSend, body, HeaderDestination, destination)
	if contentType != "" {
		frame.Headers[HeaderContentType] = contentType
	}
	return c.send(ctx, frame)
}

// Close sends DISCONNECT, waits for its receipt, then closes the transport.
// The transport is closed even when the receipt never arrives.
func (c *Client) Close(ctx context.Context) error {
	var err error
	if c.Connected() {
		err = c.request(ctx, NewFrame(CommandDisconnect, nil))
	}

	c.mu.Lock()
	c.connected = false
	c.subs = make(map[string]MessageHandler)
	c.mu.Unlock()

	if closeErr := c.transport.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Reset forgets the session after the transport dropped, so Connect can be
// called again on a fresh connection.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	c.session = ""
	c.subs = make(map[string]MessageHandler)
	for id, ch := range c.receipts {
		close(ch)
		delete(c.receipts, id)
	}
}

// request sends frame with a receipt header and waits for the RECEIPT.
func (c *Client) request(ctx context.Context, frame *Frame) error {
	receipt := uuid.NewString()
	frame.Headers[HeaderReceipt] = receipt

	ch := make(chan *Frame, 1)
	c.mu.Lock()
	c.receipts[receipt] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.receipts, receipt)
		c.mu.Unlock()
	}()

	if err := c.send(ctx, frame); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for receipt: %w", ctx.Err())
	case reply, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if reply.Command == CommandError {
			return serverError(reply)
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, frame *Frame) error {
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	c.log.DebugWithCategory(logger.CategoryStompFrame, "Sending frame", map[string]interface{}{
		"command": string(frame.Command),
	})
	if err := c.transport.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", frame.Command, err)
	}
	return nil
}

func (c *Client) handle(data []byte) {
	if IsHeartbeat(data) {
		return
	}
	frame, err := ParseFrame(data)
	if err != nil {
		c.badFrames.Add(1)
		c.log.WarnWithCategory(logger.CategoryStompFrame, "Dropping malformed frame", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch frame.Command {
	case CommandConnected:
		c.deliverConnect(frame)
	case CommandReceipt:
		c.deliverReceipt(frame.Header(HeaderReceiptID), frame)
	case CommandMessage:
		handler, ok := c.subs[frame.Header(HeaderSubscription)]
		if !ok {
			c.log.WarnWithCategory(logger.CategoryStompFrame, "Message for unknown subscription", map[string]interface{}{
				"subscription": frame.Header(HeaderSubscription),
			})
			return
		}
		// Release the lock so the handler may call back into the client.
		c.mu.Unlock()
		handler(frame)
		c.mu.Lock()
	case CommandError:
		if c.connectCh != nil {
			c.deliverConnect(frame)
			return
		}
		if id := frame.Header(HeaderReceiptID); id != "" {
			if _, ok := c.receipts[id]; ok {
				c.deliverReceipt(id, frame)
				return
			}
		}
		c.connected = false
		if h := c.onError; h != nil {
			c.mu.Unlock()
			h(serverError(frame))
			c.mu.Lock()
		}
	default:
		c.log.WarnWithCategory(logger.CategoryStompFrame, "Unexpected frame from server", map[string]interface{}{
			"command": string(frame.Command),
		})
	}
}

func (c *Client) deliverConnect(frame *Frame) {
	if c.connectCh == nil {
		return
	}
	select {
	case c.connectCh <- frame:
	default:
	}
}

func (c *Client) deliverReceipt(id string, frame *Frame) {
	ch, ok := c.receipts[id]
	if !ok {
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

func serverError(frame *Frame) error {
	return &ServerError{Message: frame.Header(HeaderMessage), Body: string(frame.Body)}
}
