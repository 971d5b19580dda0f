package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/eventsync/internal/event"
)

// Push message types.
const (
	PushUpsert = "upsert"
	PushDelete = "delete"
)

// PushMessage is a server-initiated change to one event.
type PushMessage struct {
	Type string `json:"type"`
	// ID identifies the event. For upserts it matches Event.ID.
	ID      string       `json:"id"`
	Event   *event.Event `json:"event,omitempty"`
	Version int64        `json:"version"`
}

// Validate checks that the message is well formed.
func (m PushMessage) Validate() error {
	switch m.Type {
	case PushUpsert:
		if m.Event == nil {
			return fmt.Errorf("push upsert %q: missing event", m.ID)
		}
		if m.Event.ID != m.ID {
			return fmt.Errorf("push upsert: id %q does not match event id %q", m.ID, m.Event.ID)
		}
	case PushDelete:
		if m.ID == "" {
			return fmt.Errorf("push delete: missing id")
		}
	default:
		return fmt.Errorf("push: unknown type %q", m.Type)
	}
	return nil
}

// PushHandler receives decoded push messages in arrival order.
type PushHandler func(PushMessage)

// PushListener keeps a websocket open to the push endpoint and hands every
// valid message to its handler. Lost connections are redialed with
// exponential backoff until the context ends.
type PushListener struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	handler    PushHandler
	minBackoff time.Duration
	maxBackoff time.Duration
	onState    func(connected bool)
}

// PushOption configures a PushListener.
type PushOption func(*PushListener)

// WithPushToken sends a bearer token during the handshake.
func WithPushToken(token string) PushOption {
	return func(l *PushListener) {
		l.header.Set("Authorization", "Bearer "+token)
	}
}

// WithReconnectBackoff sets the redial backoff bounds.
func WithReconnectBackoff(min, max time.Duration) PushOption {
	return func(l *PushListener) {
		l.minBackoff = min
		l.maxBackoff = max
	}
}

// WithConnectionState registers a callback fired on connect and disconnect.
func WithConnectionState(fn func(connected bool)) PushOption {
	return func(l *PushListener) {
		l.onState = fn
	}
}

// NewPushListener creates a listener for the ws:// or wss:// url.
func NewPushListener(url string, handler PushHandler, opts ...PushOption) *PushListener {
	l := &PushListener{
		url:        url,
		header:     http.Header{},
		dialer:     websocket.DefaultDialer,
		handler:    handler,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run connects and reads until ctx is cancelled. It only returns ctx.Err().
func (l *PushListener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = l.minBackoff
		}
		slog.Warn("push connection lost", "url", l.url, "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

// session runs one connection. connected reports whether the handshake
// succeeded, so Run can reset its backoff.
func (l *PushListener) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := l.dialer.DialContext(ctx, l.url, l.header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	l.setState(true)
	defer l.setState(false)
	slog.Info("push connected", "url", l.url)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		var msg PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("push message dropped", "error", err)
			continue
		}
		if err := msg.Validate(); err != nil {
			slog.Warn("push message dropped", "error", err)
			continue
		}
		l.handler(msg)
	}
}

func (l *PushListener) setState(connected bool) {
	if l.onState != nil {
		l.onState(connected)
	}
}
