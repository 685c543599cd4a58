// Package reconciler owns the canonical per-account session state and
// merges optimistic local writes with server pushes and REST snapshots.
package reconciler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
	"github.com/Paulofn1/green-connect-hub/internal/logbuf"
)

var (
	ErrUnknownAccount    = errors.New("unknown account")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Ticket records the version of an account when a command or fetch began.
// Rollbacks and snapshots carrying a ticket are dropped once any newer
// write has landed.
type Ticket struct {
	AccountID string
	Version   uint64
	Previous  domain.ConnectionStatus
}

// Change describes one applied write. From is empty for a newly seen account.
type Change struct {
	AccountID string
	From      domain.ConnectionStatus
	To        domain.ConnectionStatus
	Origin    Origin
	QRChanged bool
	Removed   bool
}

type accountState struct {
	account domain.Account
	version uint64
	qr      *domain.QRCode
}

type Option func(*Reconciler)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithLogCapacity(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithNode sets the snowflake node number used for local log ids.
func WithNode(n int64) Option {
	return func(r *Reconciler) { r.node = n }
}

// Reconciler serializes every state mutation behind one mutex. Listeners
// run after the lock is released.
type Reconciler struct {
	mu       sync.Mutex
	accounts map[string]*accountState
	removed  map[string]bool
	logs     *logbuf.Aggregator
	global   []domain.ErrorEvent
	capacity int
	node     int64
	now      func() time.Time
	ids      *snowflake.Node

	listenMu  sync.RWMutex
	listeners []func(Change)
}

func New(opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		accounts: make(map[string]*accountState),
		removed:  make(map[string]bool),
		capacity: logbuf.DefaultCapacity,
		node:     1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	node, err := snowflake.NewNode(r.node)
	if err != nil {
		return nil, errors.Wrap(err, "reconciler: snowflake node")
	}
	r.ids = node
	r.logs = logbuf.New(r.capacity)
	return r, nil
}

// OnChange registers fn to run after every applied write.
func (r *Reconciler) OnChange(fn func(Change)) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Reconciler) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	r.listenMu.RLock()
	ls := make([]func(Change), len(r.listeners))
	copy(ls, r.listeners)
	r.listenMu.RUnlock()
	for _, c := range changes {
		for _, fn := range ls {
			fn(c)
		}
	}
}

// Apply merges one validated push event. It reports whether the event
// changed anything; stale events are ignored, not treated as errors.
func (r *Reconciler) Apply(ev domain.Event) bool {
	r.mu.Lock()
	changes, applied := r.applyLocked(ev)
	r.mu.Unlock()
	r.notify(changes)
	return applied
}

func (r *Reconciler) applyLocked(ev domain.Event) ([]Change, bool) {
	switch e := ev.(type) {
	case *domain.StatusEvent:
		st := r.ensure(e.AccountID)
		if st == nil {
			r.dropped(ev)
			return nil, false
		}
		ch, ok := r.apply(st, Candidate{Status: e.Status, Origin: OriginPush})
		if !ok {
			r.ignored(st, ev)
			return nil, false
		}
		r.statusEffects(st, &ch, e.Phone, e.PushName)
		return []Change{ch}, true

	case *domain.QRCodeEvent:
		st := r.ensure(e.AccountID)
		if st == nil {
			r.dropped(ev)
			return nil, false
		}
		ch, ok := r.apply(st, Candidate{Status: domain.StatusQRReady, Origin: OriginPush})
		if !ok {
			r.ignored(st, ev)
			return nil, false
		}
		if ImpliesConnecting(ch.From, ch.To) {
			r.appendLog(e.AccountID, domain.LogInfo, "pairing started by server", nil)
		}
		st.qr = &domain.QRCode{
			AccountID:  e.AccountID,
			Payload:    e.QRCode,
			Attempt:    e.Attempt,
			ExpiresAt:  e.ExpiresAt,
			ReceivedAt: r.now(),
		}
		ch.QRChanged = true
		return []Change{ch}, true

	case *domain.LogEvent:
		if r.removed[e.AccountID] {
			r.dropped(ev)
			return nil, false
		}
		entry := e.Log
		if entry.ID == "" {
			entry.ID = r.ids.Generate().String()
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = r.now()
		}
		r.logs.Append(e.AccountID, entry)
		return nil, true

	case *domain.ErrorEvent:
		if e.AccountID == "" {
			r.pushGlobal(*e)
			return nil, true
		}
		if r.removed[e.AccountID] {
			r.dropped(ev)
			return nil, false
		}
		meta := map[string]interface{}{"code": e.Code}
		var changes []Change
		if e.Kind == domain.EventAuthFailure {
			st := r.ensure(e.AccountID)
			if ch, ok := r.apply(st, Candidate{Status: domain.StatusDisconnected, Origin: OriginPush}); ok {
				ch.QRChanged = r.clearQR(st)
				changes = append(changes, ch)
			}
			r.appendLog(e.AccountID, domain.LogError, fmt.Sprintf("authentication failed: %s", e.Message), meta)
			return changes, true
		}
		r.appendLog(e.AccountID, domain.LogError, e.Message, meta)
		return nil, true
	}
	return nil, false
}

// statusEffects runs the side effects of entering ch.To. A push that
// repeats the current status logs nothing.
func (r *Reconciler) statusEffects(st *accountState, ch *Change, phone, pushName string) {
	id := st.account.ID
	repeat := ch.From == ch.To
	switch ch.To {
	case domain.StatusConnected:
		ch.QRChanged = r.clearQR(st)
		if phone != "" && (ch.From != domain.StatusConnected || st.account.Phone == "") {
			st.account.Phone = phone
		}
		if repeat {
			return
		}
		now := r.now()
		st.account.LastConnectedAt = &now
		meta := map[string]interface{}{}
		if st.account.Phone != "" {
			meta["phone"] = st.account.Phone
		}
		if pushName != "" {
			meta["pushName"] = pushName
		}
		r.appendLog(id, domain.LogSuccess, "connected", meta)
	case domain.StatusDisconnected:
		ch.QRChanged = r.clearQR(st)
		if !repeat {
			r.appendLog(id, domain.LogWarning, "disconnected", nil)
		}
	case domain.StatusExpired:
		ch.QRChanged = r.clearQR(st)
		if !repeat {
			r.appendLog(id, domain.LogError, "session expired", nil)
		}
	case domain.StatusQRReady:
		if ImpliesConnecting(ch.From, ch.To) {
			r.appendLog(id, domain.LogInfo, "pairing started by server", nil)
		}
	}
}

func (r *Reconciler) dropped(ev domain.Event) {
	zap.L().Debug("reconciler: event for removed account dropped",
		zap.String("account_id", ev.Account()),
		zap.String("event", string(ev.Type())))
}

func (r *Reconciler) ignored(st *accountState, ev domain.Event) {
	zap.L().Debug("reconciler: stale event ignored",
		zap.String("account_id", st.account.ID),
		zap.String("event", string(ev.Type())),
		zap.String("status", string(st.account.Status)))
}

// UserConnect applies the optimistic connecting write for a connect command.
func (r *Reconciler) UserConnect(accountID string) (Ticket, error) {
	r.mu.Lock()
	st, ok := r.accounts[accountID]
	if !ok {
		r.mu.Unlock()
		return Ticket{}, errors.Wrapf(ErrUnknownAccount, "account %s", accountID)
	}
	prev := st.account.Status
	ch, ok := r.apply(st, Candidate{Status: domain.StatusConnecting, Origin: OriginUser})
	if !ok {
		r.mu.Unlock()
		return Ticket{}, errors.Wrapf(ErrInvalidTransition, "connect while %s", prev)
	}
	ch.QRChanged = r.clearQR(st)
	r.appendLog(accountID, domain.LogInfo, "new session created, generating QR code", nil)
	t := Ticket{AccountID: accountID, Version: st.version, Previous: prev}
	r.mu.Unlock()
	r.notify([]Change{ch})
	return t, nil
}

// UserDisconnect applies the optimistic disconnected write for a
// disconnect command.
func (r *Reconciler) UserDisconnect(accountID string) (Ticket, error) {
	r.mu.Lock()
	st, ok := r.accounts[accountID]
	if !ok {
		r.mu.Unlock()
		return Ticket{}, errors.Wrapf(ErrUnknownAccount, "account %s", accountID)
	}
	prev := st.account.Status
	ch, ok := r.apply(st, Candidate{Status: domain.StatusDisconnected, Origin: OriginUser})
	if !ok {
		r.mu.Unlock()
		return Ticket{}, errors.Wrapf(ErrInvalidTransition, "disconnect while %s", prev)
	}
	ch.QRChanged = r.clearQR(st)
	r.appendLog(accountID, domain.LogWarning, "disconnected by user", nil)
	t := Ticket{AccountID: accountID, Version: st.version, Previous: prev}
	r.mu.Unlock()
	r.notify([]Change{ch})
	return t, nil
}

// ConnectFailed records a failed connect command and reverts the
// optimistic write unless a newer write already superseded it. It reports
// whether the revert happened.
func (r *Reconciler) ConnectFailed(t Ticket, cause error) bool {
	r.mu.Lock()
	st, ok := r.accounts[t.AccountID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	ch, reverted := r.apply(st, Candidate{Status: domain.StatusDisconnected, Origin: OriginRollback, Basis: t.Version})
	if reverted {
		ch.QRChanged = r.clearQR(st)
	}
	r.appendLog(t.AccountID, domain.LogError, "connect failed: "+failureMessage(cause),
		map[string]interface{}{"code": domain.ErrorCode(cause)})
	r.mu.Unlock()
	if reverted {
		r.notify([]Change{ch})
	}
	return reverted
}

// DisconnectFailed records a failed disconnect command. Status is left to
// the next push or snapshot.
func (r *Reconciler) DisconnectFailed(t Ticket, cause error) {
	r.appendLog(t.AccountID, domain.LogError, "disconnect failed: "+failureMessage(cause),
		map[string]interface{}{"code": domain.ErrorCode(cause)})
}

func failureMessage(err error) string {
	var ae *domain.ApiError
	if errors.As(err, &ae) {
		return ae.Message
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// Ticket returns the current version of an account for a snapshot fetch.
// Unknown accounts get a zero ticket.
func (r *Reconciler) Ticket(accountID string) Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.accounts[accountID]
	if !ok {
		return Ticket{AccountID: accountID}
	}
	return Ticket{AccountID: accountID, Version: st.version, Previous: st.account.Status}
}

// Tickets returns a ticket for every known account.
func (r *Reconciler) Tickets() map[string]Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Ticket, len(r.accounts))
	for id, st := range r.accounts {
		out[id] = Ticket{AccountID: id, Version: st.version, Previous: st.account.Status}
	}
	return out
}

// ApplySnapshot merges a REST-fetched account. Metadata always merges;
// status only moves when nothing was written since the ticket.
func (r *Reconciler) ApplySnapshot(t Ticket, acc domain.Account) bool {
	r.mu.Lock()
	ch, ok := r.snapshotLocked(t, acc)
	r.mu.Unlock()
	if ok {
		r.notify([]Change{ch})
	}
	return ok
}

// ApplyList merges a full account listing. Accounts known when the
// listing began, absent from it and untouched since are removed.
func (r *Reconciler) ApplyList(tickets map[string]Ticket, accounts []domain.Account) {
	var changes []Change
	r.mu.Lock()
	seen := make(map[string]bool, len(accounts))
	for _, acc := range accounts {
		if acc.ID == "" {
			continue
		}
		seen[acc.ID] = true
		t, ok := tickets[acc.ID]
		if !ok {
			t = Ticket{AccountID: acc.ID}
		}
		if ch, ok := r.snapshotLocked(t, acc); ok {
			changes = append(changes, ch)
		}
	}
	for id, t := range tickets {
		if seen[id] {
			continue
		}
		st, ok := r.accounts[id]
		if !ok || st.version != t.Version {
			continue
		}
		delete(r.accounts, id)
		r.logs.Drop(id)
		changes = append(changes, Change{AccountID: id, From: st.account.Status, Origin: OriginSnapshot, Removed: true})
	}
	r.mu.Unlock()
	r.notify(changes)
}

func (r *Reconciler) snapshotLocked(t Ticket, acc domain.Account) (Change, bool) {
	status, valid := domain.ParseStatus(string(acc.Status))
	if !valid {
		status = domain.StatusDisconnected
	}
	st, ok := r.accounts[acc.ID]
	if !ok {
		if r.removed[acc.ID] {
			if t.Version != 0 {
				// fetched before the account was removed
				return Change{}, false
			}
			delete(r.removed, acc.ID)
		}
		acc = acc.Clone()
		acc.Status = status
		r.accounts[acc.ID] = &accountState{account: acc, version: 1}
		return Change{AccountID: acc.ID, To: status, Origin: OriginSnapshot}, true
	}
	mergeMeta(&st.account, acc)
	ch, ok := r.apply(st, Candidate{Status: status, Origin: OriginSnapshot, Basis: t.Version})
	if !ok {
		return Change{}, false
	}
	switch ch.To {
	case domain.StatusConnected:
		ch.QRChanged = r.clearQR(st)
		if acc.Phone != "" && ch.From != domain.StatusConnected {
			st.account.Phone = acc.Phone
		}
		if st.account.LastConnectedAt == nil {
			now := r.now()
			st.account.LastConnectedAt = &now
		}
	case domain.StatusDisconnected, domain.StatusExpired:
		ch.QRChanged = r.clearQR(st)
	}
	r.appendLog(acc.ID, domain.LogInfo, fmt.Sprintf("status refreshed from server: %s", ch.To), nil)
	return ch, true
}

// mergeMeta copies the fields the state machine does not own.
func mergeMeta(dst *domain.Account, src domain.Account) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	dst.BotActive = src.BotActive
	if dst.Phone == "" && src.Phone != "" {
		dst.Phone = src.Phone
	}
	if src.CreatedAt != nil {
		v := *src.CreatedAt
		dst.CreatedAt = &v
	}
	if src.UpdatedAt != nil {
		v := *src.UpdatedAt
		dst.UpdatedAt = &v
	}
	if src.LastConnectedAt != nil && (dst.LastConnectedAt == nil || src.LastConnectedAt.After(*dst.LastConnectedAt)) {
		v := *src.LastConnectedAt
		dst.LastConnectedAt = &v
	}
}

// Upsert stores an account returned by create or update. The status of an
// account already tracked is never touched here.
func (r *Reconciler) Upsert(acc domain.Account) {
	if acc.ID == "" {
		return
	}
	r.mu.Lock()
	var changes []Change
	if st, ok := r.accounts[acc.ID]; ok {
		mergeMeta(&st.account, acc)
	} else {
		delete(r.removed, acc.ID)
		acc = acc.Clone()
		if !acc.Status.Valid() {
			acc.Status = domain.StatusDisconnected
		}
		r.accounts[acc.ID] = &accountState{account: acc, version: 1}
		changes = append(changes, Change{AccountID: acc.ID, To: acc.Status, Origin: OriginSnapshot})
	}
	r.mu.Unlock()
	r.notify(changes)
}

// Remove forgets the account, its QR code and its log. Late pushes for
// the id are dropped until a listing or create shows it again.
func (r *Reconciler) Remove(accountID string) bool {
	r.mu.Lock()
	st, ok := r.accounts[accountID]
	if ok {
		delete(r.accounts, accountID)
		r.removed[accountID] = true
	}
	r.logs.Drop(accountID)
	r.mu.Unlock()
	if ok {
		r.notify([]Change{{AccountID: accountID, From: st.account.Status, Origin: OriginUser, Removed: true, QRChanged: st.qr != nil}})
	}
	return ok
}

func (r *Reconciler) Account(accountID string) (domain.Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.accounts[accountID]
	if !ok {
		return domain.Account{}, false
	}
	return st.account.Clone(), true
}

// Accounts returns every tracked account sorted by name, then id.
func (r *Reconciler) Accounts() []domain.Account {
	r.mu.Lock()
	out := make([]domain.Account, 0, len(r.accounts))
	for _, st := range r.accounts {
		out = append(out, st.account.Clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Reconciler) QRCode(accountID string) (domain.QRCode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.accounts[accountID]
	if !ok || st.qr == nil {
		return domain.QRCode{}, false
	}
	return *st.qr, true
}

// Logs returns the account's log, newest first.
func (r *Reconciler) Logs(accountID string) []domain.ConnectionLog {
	return r.logs.Entries(accountID)
}

// SeedLogs installs server history beneath any locally appended entries.
func (r *Reconciler) SeedLogs(accountID string, history []domain.ConnectionLog) {
	r.logs.Seed(accountID, history)
}

// AppendLog adds a locally produced entry to an account's log.
func (r *Reconciler) AppendLog(accountID string, typ domain.LogType, message string, metadata map[string]interface{}) domain.ConnectionLog {
	return r.appendLog(accountID, typ, message, metadata)
}

func (r *Reconciler) appendLog(accountID string, typ domain.LogType, message string, metadata map[string]interface{}) domain.ConnectionLog {
	entry := domain.ConnectionLog{
		ID:        r.ids.Generate().String(),
		AccountID: accountID,
		Timestamp: r.now(),
		Message:   message,
		Type:      typ,
		Metadata:  metadata,
	}
	r.logs.Append(accountID, entry)
	return entry
}

// GlobalErrors returns errors not scoped to any account, newest first.
func (r *Reconciler) GlobalErrors() []domain.ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ErrorEvent, len(r.global))
	copy(out, r.global)
	return out
}

func (r *Reconciler) pushGlobal(e domain.ErrorEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	r.global = append([]domain.ErrorEvent{e}, r.global...)
	if len(r.global) > r.capacity {
		r.global = r.global[:r.capacity]
	}
}

// ensure returns the state for accountID, creating a disconnected
// placeholder so pushes for accounts not yet listed are not lost. It
// returns nil for a removed account.
func (r *Reconciler) ensure(accountID string) *accountState {
	st, ok := r.accounts[accountID]
	if !ok {
		if r.removed[accountID] {
			return nil
		}
		st = &accountState{
			account: domain.Account{ID: accountID, Name: accountID, Status: domain.StatusDisconnected},
			version: 1,
		}
		r.accounts[accountID] = st
	}
	return st
}

func (r *Reconciler) apply(st *accountState, c Candidate) (Change, bool) {
	prev := st.account.Status
	next, ok := Reconcile(Entry{Status: prev, Version: st.version}, c)
	if !ok {
		return Change{}, false
	}
	st.account.Status = next.Status
	st.version = next.Version
	return Change{AccountID: st.account.ID, From: prev, To: next.Status, Origin: c.Origin}, true
}

func (r *Reconciler) clearQR(st *accountState) bool {
	had := st.qr != nil
	st.qr = nil
	return had
}
