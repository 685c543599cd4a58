package domain

import (
	"errors"
	"fmt"
	"time"
)

// EventType names one variant of the push event union.
type EventType string

const (
	EventConnectionStatus EventType = "connection-status"
	EventQRCode           EventType = "qr-code"
	EventConnected        EventType = "connected"
	EventDisconnected     EventType = "disconnected"
	EventLog              EventType = "log"
	EventError            EventType = "error"
	EventAuthFailure      EventType = "auth-failure"

	// Local channel lifecycle, never sent by the server.
	EventChannelConnect    EventType = "channel:connect"
	EventChannelDisconnect EventType = "channel:disconnect"
)

// PushEvents are the event types the backend sends.
var PushEvents = []EventType{
	EventConnectionStatus,
	EventQRCode,
	EventConnected,
	EventDisconnected,
	EventLog,
	EventError,
	EventAuthFailure,
}

// Room signals sent from client to server.
const (
	SignalJoinAccount  = "join:account"
	SignalLeaveAccount = "leave:account"
)

var ErrInvalidEvent = errors.New("invalid event")

// Event is a validated push or lifecycle event. Account is empty for
// global events.
type Event interface {
	Type() EventType
	Account() string
	Validate() error
}

// StatusEvent carries connection-status, connected and disconnected pushes.
type StatusEvent struct {
	Kind      EventType        `mapstructure:"-" json:"-"`
	AccountID string           `mapstructure:"accountId" json:"accountId"`
	Status    ConnectionStatus `mapstructure:"status" json:"status"`
	Phone     string           `mapstructure:"phone" json:"phone,omitempty"`
	PushName  string           `mapstructure:"pushName" json:"pushName,omitempty"`
	Timestamp time.Time        `mapstructure:"timestamp" json:"timestamp"`
}

func (e *StatusEvent) Type() EventType { return e.Kind }
func (e *StatusEvent) Account() string { return e.AccountID }

func (e *StatusEvent) Validate() error {
	if e.AccountID == "" {
		return fmt.Errorf("%w: %s without accountId", ErrInvalidEvent, e.Kind)
	}
	if e.Status == "" {
		switch e.Kind {
		case EventConnected:
			e.Status = StatusConnected
		case EventDisconnected:
			e.Status = StatusDisconnected
		}
	}
	s, ok := ParseStatus(string(e.Status))
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, e.Status)
	}
	e.Status = s
	return nil
}

type QRCodeEvent struct {
	AccountID string    `mapstructure:"accountId" json:"accountId"`
	QRCode    string    `mapstructure:"qrCode" json:"qrCode"`
	Attempt   int       `mapstructure:"attempt" json:"attempt"`
	ExpiresAt time.Time `mapstructure:"expiresAt" json:"expiresAt"`
}

func (e *QRCodeEvent) Type() EventType { return EventQRCode }
func (e *QRCodeEvent) Account() string { return e.AccountID }

func (e *QRCodeEvent) Validate() error {
	if e.AccountID == "" {
		return fmt.Errorf("%w: qr-code without accountId", ErrInvalidEvent)
	}
	if e.QRCode == "" {
		return fmt.Errorf("%w: qr-code without payload", ErrInvalidEvent)
	}
	return nil
}

type LogEvent struct {
	AccountID string        `mapstructure:"accountId" json:"accountId"`
	Log       ConnectionLog `mapstructure:"log" json:"log"`
}

func (e *LogEvent) Type() EventType { return EventLog }
func (e *LogEvent) Account() string { return e.AccountID }

func (e *LogEvent) Validate() error {
	if e.AccountID == "" {
		e.AccountID = e.Log.AccountID
	}
	if e.AccountID == "" {
		return fmt.Errorf("%w: log without accountId", ErrInvalidEvent)
	}
	if e.Log.AccountID != "" && e.Log.AccountID != e.AccountID {
		return fmt.Errorf("%w: log for %s delivered as %s", ErrInvalidEvent, e.Log.AccountID, e.AccountID)
	}
	e.Log.AccountID = e.AccountID
	if e.Log.Type == "" {
		e.Log.Type = LogInfo
	}
	if !e.Log.Type.Valid() {
		return fmt.Errorf("%w: unknown log type %q", ErrInvalidEvent, e.Log.Type)
	}
	return nil
}

// ErrorEvent carries error and auth-failure pushes, and the local
// SOCKET_CONNECTION_FAILED report. An empty AccountID means global.
type ErrorEvent struct {
	Kind      EventType `mapstructure:"-" json:"-"`
	AccountID string    `mapstructure:"accountId" json:"accountId,omitempty"`
	Code      string    `mapstructure:"code" json:"code"`
	Message   string    `mapstructure:"message" json:"message"`
	Timestamp time.Time `mapstructure:"timestamp" json:"timestamp"`
}

func (e *ErrorEvent) Type() EventType { return e.Kind }
func (e *ErrorEvent) Account() string { return e.AccountID }

func (e *ErrorEvent) Validate() error {
	if e.Code == "" && e.Message == "" {
		return fmt.Errorf("%w: %s without code or message", ErrInvalidEvent, e.Kind)
	}
	if e.Code == "" {
		e.Code = CodeUnknownError
	}
	return nil
}

// ChannelEvent reports the transport going up or down.
type ChannelEvent struct {
	Kind      EventType
	Timestamp time.Time
	Err       error
}

func (e *ChannelEvent) Type() EventType { return e.Kind }
func (e *ChannelEvent) Account() string { return "" }
func (e *ChannelEvent) Validate() error { return nil }
