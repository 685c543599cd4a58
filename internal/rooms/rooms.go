// Package rooms scopes server event fan-out to individual accounts over the
// one shared channel.
package rooms

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
	"github.com/Paulofn1/green-connect-hub/internal/transport"
)

// Multiplexer tracks which account rooms this client belongs to. The
// server forgets room membership when the channel drops, so every room is
// joined again on each channel:connect.
type Multiplexer struct {
	ch    transport.Channel
	mu    sync.Mutex
	rooms map[string]bool
	unsub func()
}

func New(ch transport.Channel) *Multiplexer {
	m := &Multiplexer{ch: ch, rooms: make(map[string]bool)}
	m.unsub = ch.Subscribe(domain.EventChannelConnect, func(domain.Event) { m.rejoin() })
	return m
}

// Join records membership and sends join:account when the channel is up.
// A join made while disconnected is sent on the next connect. Joining one
// room never leaves another.
func (m *Multiplexer) Join(accountID string) {
	if accountID == "" {
		return
	}
	m.mu.Lock()
	m.rooms[accountID] = true
	m.mu.Unlock()
	if !m.ch.IsConnected() {
		zap.L().Debug("rooms: join queued until channel connects", zap.String("account_id", accountID))
		return
	}
	m.send(domain.SignalJoinAccount, accountID)
}

// Leave drops membership and sends leave:account best effort.
func (m *Multiplexer) Leave(accountID string) {
	m.mu.Lock()
	_, ok := m.rooms[accountID]
	delete(m.rooms, accountID)
	m.mu.Unlock()
	if !ok || !m.ch.IsConnected() {
		return
	}
	m.send(domain.SignalLeaveAccount, accountID)
}

func (m *Multiplexer) Joined(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[accountID]
}

// Rooms returns current memberships, sorted.
func (m *Multiplexer) Rooms() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close stops listening for reconnects.
func (m *Multiplexer) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

func (m *Multiplexer) rejoin() {
	for _, id := range m.Rooms() {
		m.send(domain.SignalJoinAccount, id)
	}
}

func (m *Multiplexer) send(signal, accountID string) {
	if err := m.ch.Emit(signal, accountID); err != nil {
		zap.L().Warn("rooms: signal not sent",
			zap.String("signal", signal),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}
