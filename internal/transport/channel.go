// Package transport owns the single long-lived event channel to the backend.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

// ErrNotConnected is returned by Emit while the channel is down.
var ErrNotConnected = errors.New("channel not connected")

// Handler receives one event. Handlers for the same event name run one at
// a time in arrival order.
type Handler func(domain.Event)

// Channel is the lifecycle and pub/sub surface other components use. None
// of them ever see the live connection.
type Channel interface {
	Connect()
	Disconnect()
	IsConnected() bool
	Subscribe(t domain.EventType, fn Handler) (unsubscribe func())
	Emit(name string, payload interface{}) error
}

// Conn is the subset of a websocket connection the manager needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn. Tests swap in scripted dialers.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return c, nil
}
