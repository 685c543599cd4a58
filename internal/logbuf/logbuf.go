// Package logbuf keeps a bounded, newest-first connection log per account.
package logbuf

import (
	"sort"
	"sync"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

const DefaultCapacity = 100

// ring is a fixed-size circular buffer. next is the slot the following
// append writes to; size never exceeds len(buf). local counts the newest
// entries that were appended rather than seeded.
type ring struct {
	buf   []domain.ConnectionLog
	next  int
	size  int
	local int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.ConnectionLog, capacity)}
}

func (r *ring) push(e domain.ConnectionLog) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// newestFirst copies the live entries, most recent append first.
func (r *ring) newestFirst() []domain.ConnectionLog {
	out := make([]domain.ConnectionLog, 0, r.size)
	for i := 1; i <= r.size; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *ring) reset() {
	for i := range r.buf {
		r.buf[i] = domain.ConnectionLog{}
	}
	r.next, r.size, r.local = 0, 0, 0
}

// Aggregator holds one ring per account. Ordering is insertion order, not
// timestamp order, and entries are never deduplicated.
type Aggregator struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

func New(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Aggregator{capacity: capacity, rings: make(map[string]*ring)}
}

func (a *Aggregator) Capacity() int {
	return a.capacity
}

// Append records entry as the newest log of accountID, evicting the oldest
// entry once the account is at capacity.
func (a *Aggregator) Append(accountID string, entry domain.ConnectionLog) {
	if entry.AccountID == "" {
		entry.AccountID = accountID
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.ringFor(accountID)
	r.push(entry)
	if r.local < r.size {
		r.local++
	}
}

// Entries returns a newest-first copy of the account's log.
func (a *Aggregator) Entries(accountID string) []domain.ConnectionLog {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.rings[accountID]
	if !ok {
		return []domain.ConnectionLog{}
	}
	return r.newestFirst()
}

func (a *Aggregator) Len(accountID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if r, ok := a.rings[accountID]; ok {
		return r.size
	}
	return 0
}

// Seed installs server history (newest-first) as the base of the account's
// log, replacing any history seeded before. Entries appended locally stay on
// top of it; the result is cut down to capacity from the oldest end.
func (a *Aggregator) Seed(accountID string, history []domain.ConnectionLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.ringFor(accountID)
	local := r.newestFirst()[:r.local]
	merged := make([]domain.ConnectionLog, 0, len(local)+len(history))
	merged = append(merged, local...)
	merged = append(merged, history...)
	if len(merged) > a.capacity {
		merged = merged[:a.capacity]
	}
	r.reset()
	for i := len(merged) - 1; i >= 0; i-- {
		e := merged[i]
		if e.AccountID == "" {
			e.AccountID = accountID
		}
		r.push(e)
	}
	r.local = len(local)
}

// Drop forgets everything recorded for the account.
func (a *Aggregator) Drop(accountID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rings, accountID)
}

// Accounts lists the ids that currently hold a log, sorted.
func (a *Aggregator) Accounts() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.rings))
	for id := range a.rings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (a *Aggregator) ringFor(accountID string) *ring {
	r, ok := a.rings[accountID]
	if !ok {
		r = newRing(a.capacity)
		a.rings[accountID] = r
	}
	return r
}
