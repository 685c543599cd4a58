package reconciler

import (
	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

// Origin tells Reconcile where a candidate status came from.
type Origin int

const (
	// OriginPush is a server-pushed event. It always dominates local state
	// as long as the transition is valid.
	OriginPush Origin = iota
	// OriginSnapshot is server state fetched over REST. It is stale as soon
	// as any write lands after the fetch began.
	OriginSnapshot
	// OriginUser is an optimistic local write issued by a user command.
	OriginUser
	// OriginRollback reverts an optimistic write after a failed command.
	OriginRollback
)

func (o Origin) String() string {
	switch o {
	case OriginPush:
		return "push"
	case OriginSnapshot:
		return "snapshot"
	case OriginUser:
		return "user"
	case OriginRollback:
		return "rollback"
	}
	return "unknown"
}

// Entry is the canonical status of one account together with its write
// version. Every applied write bumps Version.
type Entry struct {
	Status  domain.ConnectionStatus
	Version uint64
}

// Candidate is a proposed status. Basis is the Version the candidate was
// derived from and only matters for snapshot and rollback origins.
type Candidate struct {
	Status domain.ConnectionStatus
	Origin Origin
	Basis  uint64
}

type statusSet map[domain.ConnectionStatus]bool

func set(ss ...domain.ConnectionStatus) statusSet {
	m := make(statusSet, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// serverFrom lists, per target, the statuses a server-originated write may
// move out of. A nil set means any status.
var serverFrom = map[domain.ConnectionStatus]statusSet{
	domain.StatusConnecting: set(domain.StatusDisconnected, domain.StatusExpired, domain.StatusConnecting),
	// disconnected and expired reach qr_ready through an implied connecting
	// hop: the backend has visibly started a pairing cycle.
	domain.StatusQRReady:        set(domain.StatusConnecting, domain.StatusQRReady, domain.StatusDisconnected, domain.StatusExpired),
	domain.StatusAuthenticating: set(domain.StatusQRReady, domain.StatusAuthenticating),
	domain.StatusConnected:      nil,
	domain.StatusDisconnected:   nil,
	domain.StatusExpired:        nil,
}

// userFrom is the same table for user commands.
var userFrom = map[domain.ConnectionStatus]statusSet{
	domain.StatusConnecting: set(domain.StatusDisconnected, domain.StatusExpired),
	domain.StatusDisconnected: set(
		domain.StatusConnecting,
		domain.StatusQRReady,
		domain.StatusAuthenticating,
		domain.StatusConnected,
		domain.StatusExpired,
	),
}

// rollbackFrom only undoes an optimistic connect.
var rollbackFrom = map[domain.ConnectionStatus]statusSet{
	domain.StatusDisconnected: set(domain.StatusConnecting),
}

// Allowed reports whether origin may move an account from one status to
// another.
func Allowed(from, to domain.ConnectionStatus, origin Origin) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	var table map[domain.ConnectionStatus]statusSet
	switch origin {
	case OriginPush, OriginSnapshot:
		table = serverFrom
	case OriginUser:
		table = userFrom
	case OriginRollback:
		table = rollbackFrom
	default:
		return false
	}
	froms, ok := table[to]
	if !ok {
		return false
	}
	return froms == nil || froms[from]
}

// ImpliesConnecting reports whether a server move to qr_ready skips the
// connecting step.
func ImpliesConnecting(from, to domain.ConnectionStatus) bool {
	return to == domain.StatusQRReady && (from == domain.StatusDisconnected || from == domain.StatusExpired)
}

// Reconcile merges a candidate into the canonical entry. Pushes always win
// over local state; snapshots and rollbacks only apply when nothing was
// written since they were derived, so a lagging answer never moves an
// account backwards past a newer event.
func Reconcile(canonical Entry, c Candidate) (Entry, bool) {
	switch c.Origin {
	case OriginSnapshot, OriginRollback:
		if c.Basis != canonical.Version {
			return canonical, false
		}
	}
	if c.Origin == OriginSnapshot && c.Status == canonical.Status {
		return canonical, false
	}
	if !Allowed(canonical.Status, c.Status, c.Origin) {
		return canonical, false
	}
	return Entry{Status: c.Status, Version: canonical.Version + 1}, true
}
