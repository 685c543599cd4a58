package whatsapp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
	"github.com/Paulofn1/green-connect-hub/internal/gateway"
	"github.com/Paulofn1/green-connect-hub/internal/reconciler"
	"github.com/Paulofn1/green-connect-hub/internal/rooms"
	"github.com/Paulofn1/green-connect-hub/internal/transport"
)

// Commands is the request/response surface the service drives.
type Commands interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	GetAccount(ctx context.Context, id string) (domain.Account, error)
	CreateAccount(ctx context.Context, p domain.CreateAccountPayload) (domain.Account, error)
	UpdateAccount(ctx context.Context, id string, p domain.UpdateAccountPayload) (domain.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string) error
	GetStatus(ctx context.Context, id string) (domain.Account, error)
	GetQRCode(ctx context.Context, id string) (domain.QRCodeResponse, error)
	GetConnectionLogs(ctx context.Context, id string) ([]domain.ConnectionLog, error)
	SendMessage(ctx context.Context, p domain.SendMessagePayload) (domain.Message, error)
	SendBulkMessages(ctx context.Context, p domain.BulkMessagePayload) (domain.BulkResult, error)
	GetMessageHistory(ctx context.Context, contactID string) ([]domain.Message, error)
}

var _ Commands = (*gateway.Client)(nil)

const (
	DefaultWorkers = 4
	errorBacklog   = 32
)

type Options struct {
	// Workers bounds concurrent status fetches during Resync.
	Workers int
}

// Service wires the push channel, room membership and the reconciler to
// the command gateway. Every push is applied by account id, whatever
// account is selected.
type Service struct {
	channel transport.Channel
	rooms   *rooms.Multiplexer
	state   *reconciler.Reconciler
	cmds    Commands
	pool    *ants.Pool
	flight  singleflight.Group

	selMu    sync.RWMutex
	selected string

	errs   chan domain.ErrorEvent
	errMu  sync.Mutex
	unsubs []func()

	lifeMu sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(ch transport.Channel, cmds Commands, state *reconciler.Reconciler, opts Options) (*Service, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(func(p interface{}) {
		zap.L().Error("whatsapp: resync worker panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "whatsapp: worker pool")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		channel: ch,
		rooms:   rooms.New(ch),
		state:   state,
		cmds:    cmds,
		pool:    pool,
		errs:    make(chan domain.ErrorEvent, errorBacklog),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, t := range domain.PushEvents {
		s.unsubs = append(s.unsubs, ch.Subscribe(t, s.handle))
	}
	s.unsubs = append(s.unsubs,
		ch.Subscribe(domain.EventChannelConnect, s.onChannel),
		ch.Subscribe(domain.EventChannelDisconnect, s.onChannel),
	)
	setGlobalService(s)
	return s, nil
}

// package-level reference for the running service instance
var globalSvc *Service
var globalSvcLock sync.RWMutex

func setGlobalService(s *Service) {
	globalSvcLock.Lock()
	defer globalSvcLock.Unlock()
	globalSvc = s
}

// Get returns the running service or nil if none was created.
func Get() *Service {
	globalSvcLock.RLock()
	defer globalSvcLock.RUnlock()
	return globalSvc
}

// Start opens the channel and loads the account list. A failed initial
// load is returned but the channel stays up; the next resync retries.
func (s *Service) Start(ctx context.Context) error {
	zap.L().Info("whatsapp: starting session sync")
	s.channel.Connect()
	if err := s.Refresh(ctx); err != nil {
		zap.L().Warn("whatsapp: initial account load failed", zap.Error(err))
		return err
	}
	return nil
}

// Run starts the service and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	_ = s.Start(ctx)
	<-ctx.Done()
	zap.L().Info("whatsapp: shutting down session sync")
	s.Stop()
	return nil
}

// Stop closes the channel, waits for background refreshes and releases
// the worker pool. It is safe to call more than once.
func (s *Service) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.channel.Disconnect()
	s.wg.Wait()
	for _, fn := range s.unsubs {
		fn()
	}
	s.unsubs = nil
	s.rooms.Close()
	s.pool.Release()
}

// SocketConnected mirrors the channel's connected flag.
func (s *Service) SocketConnected() bool {
	return s.channel.IsConnected()
}

// ReconnectChannel starts a fresh reconnect budget after a terminal
// channel failure.
func (s *Service) ReconnectChannel() {
	s.channel.Connect()
}

// Errors streams error pushes and channel failures. Slow readers lose the
// oldest entries; the channel is never blocked.
func (s *Service) Errors() <-chan domain.ErrorEvent {
	return s.errs
}

func (s *Service) handle(ev domain.Event) {
	if e, ok := ev.(*domain.ErrorEvent); ok {
		s.publishError(*e)
	}
	s.state.Apply(ev)
}

func (s *Service) publishError(e domain.ErrorEvent) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	for {
		select {
		case s.errs <- e:
			return
		default:
		}
		select {
		case <-s.errs:
		default:
		}
	}
}

func (s *Service) onChannel(ev domain.Event) {
	ce, ok := ev.(*domain.ChannelEvent)
	if !ok {
		return
	}
	switch ce.Kind {
	case domain.EventChannelConnect:
		zap.L().Info("whatsapp: channel up, resyncing accounts")
		s.background(func(ctx context.Context) {
			if err := s.Refresh(ctx); err != nil {
				zap.L().Warn("whatsapp: refresh after reconnect failed", zap.Error(err))
			}
		})
	case domain.EventChannelDisconnect:
		zap.L().Warn("whatsapp: channel down", zap.NamedError("reason", ce.Err))
	}
}

func (s *Service) background(fn func(ctx context.Context)) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel == nil {
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if err := recover(); err != nil {
				zap.S().Error(err)
			}
		}()
		fn(ctx)
	}()
}

// Local state

func (s *Service) Accounts() []domain.Account {
	return s.state.Accounts()
}

func (s *Service) Account(id string) (domain.Account, error) {
	acc, ok := s.state.Account(id)
	if !ok {
		return domain.Account{}, notFound(id)
	}
	return acc, nil
}

func (s *Service) QRCode(id string) (domain.QRCode, bool) {
	return s.state.QRCode(id)
}

func (s *Service) Logs(id string) []domain.ConnectionLog {
	return s.state.Logs(id)
}

func (s *Service) GlobalErrors() []domain.ErrorEvent {
	return s.state.GlobalErrors()
}

func (s *Service) Rooms() []string {
	return s.rooms.Rooms()
}

func (s *Service) Selected() string {
	s.selMu.RLock()
	defer s.selMu.RUnlock()
	return s.selected
}

// OnChange registers fn for every applied state write.
func (s *Service) OnChange(fn func(reconciler.Change)) {
	s.state.OnChange(fn)
}

// Account commands

func (s *Service) CreateAccount(ctx context.Context, p domain.CreateAccountPayload) (domain.Account, error) {
	acc, err := s.cmds.CreateAccount(ctx, p)
	if err != nil {
		return domain.Account{}, err
	}
	s.state.Upsert(acc)
	zap.L().Info("whatsapp: account created", zap.String("account_id", acc.ID), zap.String("name", acc.Name))
	return s.Account(acc.ID)
}

func (s *Service) UpdateAccount(ctx context.Context, id string, p domain.UpdateAccountPayload) (domain.Account, error) {
	acc, err := s.cmds.UpdateAccount(ctx, id, p)
	if err != nil {
		return domain.Account{}, err
	}
	s.state.Upsert(acc)
	return s.Account(acc.ID)
}

func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	if err := s.cmds.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.rooms.Leave(id)
	s.state.Remove(id)
	s.selMu.Lock()
	if s.selected == id {
		s.selected = ""
	}
	s.selMu.Unlock()
	zap.L().Info("whatsapp: account deleted", zap.String("account_id", id))
	return nil
}

// Select makes id the focused account: its room is joined, the previous
// one left, and its log history and pending QR code are loaded. Results
// land under id even if the selection moved on meanwhile.
func (s *Service) Select(ctx context.Context, id string) error {
	if _, ok := s.state.Account(id); !ok {
		return notFound(id)
	}
	s.selMu.Lock()
	prev := s.selected
	s.selected = id
	s.selMu.Unlock()
	if prev != "" && prev != id {
		s.rooms.Leave(prev)
	}
	s.rooms.Join(id)

	history, logErr := s.cmds.GetConnectionLogs(ctx, id)
	if logErr != nil {
		zap.L().Warn("whatsapp: log history fetch failed", zap.String("account_id", id), zap.Error(logErr))
	} else {
		s.state.SeedLogs(id, history)
	}
	if err := s.loadQRCode(ctx, id); err != nil && logErr == nil {
		return err
	}
	return logErr
}

// loadQRCode fetches the current QR for an account that is waiting for a
// scan but has none locally, as after a restart.
func (s *Service) loadQRCode(ctx context.Context, id string) error {
	acc, ok := s.state.Account(id)
	if !ok || acc.Status != domain.StatusQRReady {
		return nil
	}
	if _, has := s.state.QRCode(id); has {
		return nil
	}
	qr, err := s.cmds.GetQRCode(ctx, id)
	if err != nil {
		zap.L().Warn("whatsapp: qr fetch failed", zap.String("account_id", id), zap.Error(err))
		return err
	}
	if _, has := s.state.QRCode(id); has {
		// a push arrived while fetching and is newer
		return nil
	}
	s.state.Apply(&domain.QRCodeEvent{AccountID: id, QRCode: qr.QRCode, ExpiresAt: qr.ExpiresAt})
	zap.L().Debug("whatsapp: qr loaded", zap.String("account_id", id), zap.Int("code_len", len(qr.QRCode)))
	return nil
}

// Connection commands

// Connect marks the account connecting at once and asks the backend to
// start pairing. On failure the optimistic write is reverted unless a push
// already moved the account on.
func (s *Service) Connect(ctx context.Context, id string) error {
	t, err := s.state.UserConnect(id)
	if err != nil {
		return commandError(err)
	}
	s.rooms.Join(id)
	if err := s.cmds.Connect(ctx, id); err != nil {
		reverted := s.state.ConnectFailed(t, err)
		zap.L().Warn("whatsapp: connect failed",
			zap.String("account_id", id),
			zap.Bool("reverted", reverted),
			zap.Error(err))
		return err
	}
	zap.L().Info("whatsapp: connect requested", zap.String("account_id", id))
	return nil
}

// Disconnect marks the account disconnected at once. When the backend
// refuses, the status is refreshed from the server rather than guessed.
func (s *Service) Disconnect(ctx context.Context, id string) error {
	t, err := s.state.UserDisconnect(id)
	if err != nil {
		return commandError(err)
	}
	if err := s.cmds.Disconnect(ctx, id); err != nil {
		s.state.DisconnectFailed(t, err)
		zap.L().Warn("whatsapp: disconnect failed", zap.String("account_id", id), zap.Error(err))
		if rerr := s.RefreshAccount(ctx, id); rerr != nil {
			zap.L().Warn("whatsapp: status refresh failed", zap.String("account_id", id), zap.Error(rerr))
		}
		return err
	}
	zap.L().Info("whatsapp: disconnect requested", zap.String("account_id", id))
	return nil
}

// RefreshAccount fetches one account's status and merges it unless a
// newer write landed during the fetch.
func (s *Service) RefreshAccount(ctx context.Context, id string) error {
	t := s.state.Ticket(id)
	acc, err := s.cmds.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if acc.ID == "" {
		acc.ID = id
	}
	s.state.ApplySnapshot(t, acc)
	return nil
}

// Refresh loads the account list. Concurrent callers share one request.
func (s *Service) Refresh(ctx context.Context) error {
	_, err, shared := s.flight.Do("accounts", func() (interface{}, error) {
		tickets := s.state.Tickets()
		list, err := s.cmds.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		s.state.ApplyList(tickets, list)
		zap.L().Debug("whatsapp: accounts refreshed", zap.Int("count", len(list)))
		return nil, nil
	})
	if shared {
		zap.L().Debug("whatsapp: refresh shared with a concurrent caller")
	}
	return err
}

// Resync refreshes the list, then every account's status through the
// worker pool. It returns the first failure after all fetches finish.
func (s *Service) Resync(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	accounts := s.state.Accounts()
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	record := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}
	start := time.Now()
	for _, acc := range accounts {
		id := acc.ID
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			if err := s.RefreshAccount(ctx, id); err != nil {
				zap.L().Warn("whatsapp: status resync failed", zap.String("account_id", id), zap.Error(err))
				record(err)
			}
		})
		if err != nil {
			wg.Done()
			record(errors.Wrap(err, "whatsapp: submit resync"))
		}
	}
	wg.Wait()
	zap.L().Debug("whatsapp: resync done",
		zap.Int("accounts", len(accounts)),
		zap.Duration("elapsed", time.Since(start)))
	return firstErr
}

// Messages

func (s *Service) SendMessage(ctx context.Context, p domain.SendMessagePayload) (domain.Message, error) {
	msg, err := s.cmds.SendMessage(ctx, p)
	if err != nil {
		zap.L().Warn("whatsapp: send message failed", zap.String("account_id", p.AccountID), zap.Error(err))
		return domain.Message{}, err
	}
	zap.L().Info("whatsapp: message sent", zap.String("account_id", p.AccountID), zap.String("message_id", msg.ID))
	return msg, nil
}

func (s *Service) SendBulkMessages(ctx context.Context, p domain.BulkMessagePayload) (domain.BulkResult, error) {
	res, err := s.cmds.SendBulkMessages(ctx, p)
	if err != nil {
		zap.L().Warn("whatsapp: bulk send failed", zap.String("account_id", p.AccountID), zap.Error(err))
		return domain.BulkResult{}, err
	}
	zap.L().Info("whatsapp: bulk send finished",
		zap.String("account_id", p.AccountID),
		zap.Int("total", res.Total),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (s *Service) MessageHistory(ctx context.Context, contactID string) ([]domain.Message, error) {
	return s.cmds.GetMessageHistory(ctx, contactID)
}

func notFound(id string) *domain.ApiError {
	return &domain.ApiError{Code: domain.CodeAccountNotFound, Message: "account " + id + " not found", Status: http.StatusNotFound}
}

// commandError maps local precondition failures onto the command error
// taxonomy.
func commandError(err error) error {
	switch {
	case errors.Is(err, reconciler.ErrUnknownAccount):
		return &domain.ApiError{Code: domain.CodeAccountNotFound, Message: err.Error(), Status: http.StatusNotFound, Cause: err}
	case errors.Is(err, reconciler.ErrInvalidTransition):
		return &domain.ApiError{Code: domain.CodeInvalidState, Message: err.Error(), Status: http.StatusConflict, Cause: err}
	}
	return err
}
