package domain

import (
	"strings"
	"time"
)

// ConnectionStatus is the single canonical per-account session state.
type ConnectionStatus string

const (
	StatusDisconnected   ConnectionStatus = "disconnected"
	StatusConnecting     ConnectionStatus = "connecting"
	StatusQRReady        ConnectionStatus = "qr_ready"
	StatusAuthenticating ConnectionStatus = "authenticating"
	StatusConnected      ConnectionStatus = "connected"
	StatusExpired        ConnectionStatus = "expired"
)

// Statuses lists every canonical status in lifecycle order.
var Statuses = []ConnectionStatus{
	StatusDisconnected,
	StatusConnecting,
	StatusQRReady,
	StatusAuthenticating,
	StatusConnected,
	StatusExpired,
}

func (s ConnectionStatus) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s ConnectionStatus) String() string {
	return string(s)
}

// ParseStatus normalizes a wire value. Unknown values report false.
func ParseStatus(v string) (ConnectionStatus, bool) {
	s := ConnectionStatus(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Account is one addressable pairing endpoint managed by the backend.
type Account struct {
	ID              string           `json:"id" csv:"id"`
	Name            string           `json:"name" csv:"name"`
	Phone           string           `json:"phone,omitempty" csv:"phone"`
	Status          ConnectionStatus `json:"status" csv:"status"`
	LastConnectedAt *time.Time       `json:"lastConnectedAt,omitempty" csv:"-"`
	BotActive       bool             `json:"botActive" csv:"bot_active"`
	CreatedAt       *time.Time       `json:"createdAt,omitempty" csv:"-"`
	UpdatedAt       *time.Time       `json:"updatedAt,omitempty" csv:"-"`
}

// Clone returns a copy that shares no pointers with a.
func (a Account) Clone() Account {
	c := a
	c.LastConnectedAt = cloneTime(a.LastConnectedAt)
	c.CreatedAt = cloneTime(a.CreatedAt)
	c.UpdatedAt = cloneTime(a.UpdatedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreateAccountPayload phone is optional; the backend learns it after pairing.
type CreateAccountPayload struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type UpdateAccountPayload struct {
	Name      *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	BotActive *bool   `json:"botActive,omitempty"`
}

// QRCode is the current pairing credential for one account.
type QRCode struct {
	AccountID  string    `json:"accountId"`
	Payload    string    `json:"qrCode"`
	Attempt    int       `json:"attempt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// QRCodeResponse is the REST shape of GET /accounts/{id}/qr.
type QRCodeResponse struct {
	QRCode    string    `json:"qrCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}
