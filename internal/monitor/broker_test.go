package monitor

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/network-monitor/internal/config"
	"github.com/zsiec/network-monitor/internal/stomp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// broker is a minimal STOMP server over WebSocket. On every subscription it
// pushes its queued message bodies.
type broker struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	bodies      []string
	sessions    int
	disconnects int
	// dropFirst closes the first session's socket right after delivering
	// its messages.
	dropFirst bool
}

func newBroker(t *testing.T, bodies ...string) *broker {
	b := &broker{t: t, bodies: bodies}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *broker) feedConfig() config.FeedConfig {
	host, port, err := net.SplitHostPort(b.srv.Listener.Addr().String())
	require.NoError(b.t, err)
	p, err := strconv.Atoi(port)
	require.NoError(b.t, err)

	return config.FeedConfig{
		Enabled:          true,
		Host:             host,
		Port:             p,
		Endpoint:         "/network-events",
		StompHost:        "transportforlondon.com",
		Login:            "user",
		Passcode:         "secret",
		Destination:      "/passengers",
		HandshakeTimeout: 2 * time.Second,
		Reconnect: config.ReconnectConfig{
			Strategy:     "exponential",
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func (b *broker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

func (b *broker) Disconnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnects
}

func (b *broker) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/network-events" {
		http.NotFound(w, r)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	write := func(f *stomp.Frame) bool {
		data, err := f.Marshal()
		if err != nil {
			b.t.Errorf("marshal %s: %v", f.Command, err)
			return false
		}
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	session := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := stomp.ParseFrame(data)
		if err != nil {
			continue
		}

		switch frame.Command {
		case stomp.CommandStomp, stomp.CommandConnect:
			if frame.Header(stomp.HeaderLogin) != "user" || frame.Header(stomp.HeaderPasscode) != "secret" {
				write(stomp.NewFrame(stomp.CommandError, []byte("bad credentials"), stomp.HeaderMessage, "access refused"))
				return
			}
			b.mu.Lock()
			b.sessions++
			session = b.sessions
			b.mu.Unlock()
			write(stomp.NewFrame(stomp.CommandConnected, nil,
				stomp.HeaderVersion, "1.2",
				stomp.HeaderSession, fmt.Sprintf("session-%d", session)))

		case stomp.CommandSubscribe:
			write(stomp.NewFrame(stomp.CommandReceipt, nil, stomp.HeaderReceiptID, frame.Header(stomp.HeaderReceipt)))

			b.mu.Lock()
			bodies := append([]string(nil), b.bodies...)
			drop := b.dropFirst && session == 1
			b.mu.Unlock()

			for i, body := range bodies {
				write(stomp.NewFrame(stomp.CommandMessage, []byte(body),
					stomp.HeaderDestination, frame.Header(stomp.HeaderDestination),
					stomp.HeaderMessageID, strconv.Itoa(i),
					stomp.HeaderSubscription, frame.Header(stomp.HeaderID)))
			}
			if drop {
				// No close frame: the client sees a read error.
				conn.UnderlyingConn().Close()
				return
			}

		case stomp.CommandDisconnect:
			b.mu.Lock()
			b.disconnects++
			b.mu.Unlock()
			write(stomp.NewFrame(stomp.CommandReceipt, nil, stomp.HeaderReceiptID, frame.Header(stomp.HeaderReceipt)))
			return
		}
	}
}
