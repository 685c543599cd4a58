package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

const (
	DefaultMaxAttempts = 5
	DefaultDialTimeout = 20 * time.Second
	DefaultWriteWait   = 10 * time.Second
)

type Options struct {
	URL         string
	Header      http.Header
	MaxAttempts int
	Backoff     Backoff
	DialTimeout time.Duration
	WriteWait   time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff == (Backoff{}) {
		o.Backoff = DefaultBackoff
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
}

type subscription struct {
	id uint64
	fn Handler
}

// Manager is the Channel implementation. It keeps at most one run loop,
// which dials, reads frames and reconnects within the attempt budget.
type Manager struct {
	opts   Options
	dialer Dialer
	bus    EventBus.Bus

	subMu  sync.RWMutex
	subs   map[domain.EventType][]subscription
	topics map[domain.EventType]bool
	nextID uint64

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	connMu  sync.Mutex
	conn    Conn
	writeMu sync.Mutex

	connected atomic.Bool
	attempts  atomic.Int32
}

var _ Channel = (*Manager)(nil)

// NewManager builds a manager. A nil dialer means gorilla/websocket.
func NewManager(opts Options, dialer Dialer) *Manager {
	opts.setDefaults()
	if dialer == nil {
		dialer = WebsocketDialer{Dialer: &websocket.Dialer{HandshakeTimeout: opts.DialTimeout}}
	}
	m := &Manager{
		opts:   opts,
		dialer: dialer,
		bus:    EventBus.New(),
		subs:   make(map[domain.EventType][]subscription),
		topics: make(map[domain.EventType]bool),
	}
	for _, t := range domain.PushEvents {
		m.ensureTopic(t)
	}
	m.ensureTopic(domain.EventChannelConnect)
	m.ensureTopic(domain.EventChannelDisconnect)
	return m
}

func (m *Manager) URL() string {
	return m.opts.URL
}

// Attempts returns the current count of consecutive failed dials.
func (m *Manager) Attempts() int {
	return int(m.attempts.Load())
}

func (m *Manager) IsConnected() bool {
	return m.connected.Load()
}

// Connect starts the run loop. It is a no-op while a loop is already
// connected or retrying; after the budget ran out it starts a fresh one.
func (m *Manager) Connect() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.done != nil {
		select {
		case <-m.done:
		default:
			return
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.attempts.Store(0)
	go m.run(ctx, m.done)
}

// Disconnect tears the channel down and waits for the run loop to exit.
func (m *Manager) Disconnect() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.closeConn()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// Close disconnects and waits for in-flight deliveries.
func (m *Manager) Close() {
	m.Disconnect()
	m.bus.WaitAsync()
}

// Subscribe adds fn for one event name. The returned func removes it.
func (m *Manager) Subscribe(t domain.EventType, fn Handler) func() {
	m.ensureTopic(t)
	m.subMu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[t] = append(m.subs[t], subscription{id: id, fn: fn})
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			list := m.subs[t]
			for i, s := range list {
				if s.id == id {
					m.subs[t] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit sends a named client signal over the live connection.
func (m *Manager) Emit(name string, payload interface{}) error {
	if !m.connected.Load() {
		return ErrNotConnected
	}
	m.connMu.Lock()
	conn := m.conn
	m.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := EncodeFrame(name, payload)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrapf(err, "transport: emit %s", name)
	}
	return nil
}

// ensureTopic binds one transactional async bus handler per event name, so
// deliveries stay FIFO within a name and run concurrently across names.
func (m *Manager) ensureTopic(t domain.EventType) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.topics[t] {
		return
	}
	m.topics[t] = true
	if err := m.bus.SubscribeAsync(string(t), m.fanout(t), true); err != nil {
		zap.L().Error("transport: bus subscribe failed", zap.String("event", string(t)), zap.Error(err))
	}
}

func (m *Manager) fanout(t domain.EventType) func(domain.Event) {
	return func(ev domain.Event) {
		m.subMu.RLock()
		list := make([]subscription, len(m.subs[t]))
		copy(list, m.subs[t])
		m.subMu.RUnlock()
		for _, s := range list {
			m.deliver(s, ev)
		}
	}
}

func (m *Manager) deliver(s subscription, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("transport: handler panic", zap.String("event", string(ev.Type())), zap.Any("panic", r))
		}
	}()
	s.fn(ev)
}

func (m *Manager) publish(ev domain.Event) {
	m.bus.Publish(string(ev.Type()), ev)
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	failures := 0
	for {
		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			m.attempts.Store(int32(failures))
			zap.L().Warn("transport: connect failed",
				zap.String("url", m.opts.URL),
				zap.Int("attempt", failures),
				zap.Int("max_attempts", m.opts.MaxAttempts),
				zap.Error(err))
			if failures >= m.opts.MaxAttempts {
				m.publish(&domain.ErrorEvent{
					Kind:      domain.EventError,
					Code:      domain.CodeSocketConnectionFailed,
					Message:   fmt.Sprintf("could not connect to server after %d attempts", failures),
					Timestamp: time.Now(),
				})
				zap.L().Error("transport: reconnect budget exhausted", zap.String("url", m.opts.URL))
				return
			}
			if !sleepCtx(ctx, m.opts.Backoff.Delay(failures)) {
				return
			}
			continue
		}

		failures = 0
		m.attempts.Store(0)
		m.setConn(conn)
		if ctx.Err() != nil {
			// Disconnect raced the dial and may have missed this conn.
			m.closeConn()
			return
		}
		m.connected.Store(true)
		zap.L().Info("transport: connected", zap.String("url", m.opts.URL))
		m.publish(&domain.ChannelEvent{Kind: domain.EventChannelConnect, Timestamp: time.Now()})

		readErr := m.readLoop(conn)

		m.connected.Store(false)
		m.closeConn()
		if ctx.Err() != nil {
			readErr = nil
		}
		zap.L().Info("transport: disconnected", zap.String("url", m.opts.URL), zap.NamedError("reason", readErr))
		m.publish(&domain.ChannelEvent{Kind: domain.EventChannelDisconnect, Timestamp: time.Now(), Err: readErr})
		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, m.opts.Backoff.Delay(1)) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()
	conn, err := m.dialer.Dial(dctx, m.opts.URL, m.opts.Header)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New("dialer returned no connection")
	}
	return conn, nil
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := Decode(data)
		if err != nil {
			zap.L().Warn("transport: dropped frame", zap.Int("size", len(data)), zap.Error(err))
			continue
		}
		m.publish(ev)
	}
}

func (m *Manager) setConn(c Conn) {
	m.connMu.Lock()
	m.conn = c
	m.connMu.Unlock()
}

func (m *Manager) closeConn() {
	m.connMu.Lock()
	c := m.conn
	m.conn = nil
	m.connMu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}
