package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/elock-client/internal/infrastructure/config"
	"github.com/nerrad567/elock-client/internal/session"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscription is an opaque handle returned by Subscribe.
type Subscription struct {
	id   uuid.UUID
	kind string
}

// Kind returns the event kind the subscription listens to.
func (s Subscription) Kind() string { return s.kind }

type subscriber struct {
	sub     Subscription
	handler Handler
}

// retryPolicy is the bounded exponential backoff used after a link drops.
type retryPolicy struct {
	initial     time.Duration
	max         time.Duration
	maxAttempts int
}

// delay returns the wait before reconnect attempt n (1-based).
func (p retryPolicy) delay(n int) time.Duration {
	d := p.initial
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.max {
			return p.max
		}
	}
	if d > p.max {
		return p.max
	}
	return d
}

// Manager owns the process's single event Connection and all subscriptions.
// It is safe for concurrent use.
type Manager struct {
	transport Transport
	policy    retryPolicy
	logger    Logger

	mu   sync.Mutex
	conn *Connection

	roomMu   sync.Mutex
	roomRefs map[int64]int

	subMu sync.RWMutex
	subs  map[string][]subscriber

	warnMu    sync.RWMutex
	onWarning func(error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBackoff overrides the reconnect delays from the configuration.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(m *Manager) {
		m.policy.initial = initial
		m.policy.max = maxDelay
	}
}

// WithMaxAttempts overrides the configured reconnect budget. Unlike the
// configuration, 0 is honoured and disables reconnecting.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.policy.maxAttempts = n
		}
	}
}

// NewManager creates a Manager that dials through transport.
func NewManager(cfg config.ChannelConfig, transport Transport, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		policy: retryPolicy{
			initial:     cfg.Reconnect.GetInitialDelay(),
			max:         cfg.Reconnect.GetMaxDelay(),
			maxAttempts: cfg.Reconnect.GetMaxAttempts(),
		},
		logger:   noopLogger{},
		subs:     make(map[string][]subscriber),
		roomRefs: make(map[int64]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOnWarning sets the side channel for connectivity problems.
// fn must not block.
func (m *Manager) SetOnWarning(fn func(error)) {
	m.warnMu.Lock()
	m.onWarning = fn
	m.warnMu.Unlock()
}

// Connect returns the Connection for token, creating it if needed.
//
// The first dial happens before Connect returns, bounded by ctx. A failed
// dial is reported as a warning and retried in the background; the
// Connection is returned either way. A degraded Connection for the same
// token is replaced, keeping its rooms. A Connection for a different token
// is closed and its rooms dropped.
func (m *Manager) Connect(ctx context.Context, token string) (*Connection, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	m.mu.Lock()
	old := m.conn
	if old != nil && old.token == token && old.State() != StateDegraded {
		m.mu.Unlock()
		return old, nil
	}

	var rooms []int64
	if old != nil && old.token == token {
		rooms = old.Rooms()
	}
	c := newConnection(m, token, rooms)
	m.conn = c
	m.mu.Unlock()

	if old != nil {
		if old.token != token {
			m.logger.Info("session token changed, closing event connection")
		}
		old.close()
	}

	link, err := m.transport.Dial(ctx, token)
	if err != nil {
		c.warn(dialError(err))
		link = nil
	}
	if link != nil && !c.attach(link) {
		return c, nil
	}

	go c.run(link)
	return c, nil
}

// Disconnect closes the current Connection. It is a no-op when there is none.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	if c != nil {
		c.close()
		m.logger.Debug("event connection closed")
	}
}

// Connection returns the current Connection, if any.
func (m *Manager) Connection() (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, m.conn != nil
}

// JoinRoom joins the room of lockID on the current Connection.
// It is a no-op without a Connection or when already joined.
func (m *Manager) JoinRoom(lockID int64) {
	if c, ok := m.Connection(); ok {
		c.join(lockID)
	}
}

// LeaveRoom leaves the room of lockID. It is a no-op without a Connection
// or when not joined. It ignores holds taken with AcquireRoom.
func (m *Manager) LeaveRoom(lockID int64) {
	if c, ok := m.Connection(); ok {
		c.leave(lockID)
	}
}

// AcquireRoom joins the room of lockID and returns a func that drops the
// hold. The room is left once every hold on it is dropped. release is safe
// to call more than once.
func (m *Manager) AcquireRoom(lockID int64) (release func()) {
	m.roomMu.Lock()
	m.roomRefs[lockID]++
	m.JoinRoom(lockID)
	m.roomMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.roomMu.Lock()
			defer m.roomMu.Unlock()
			m.roomRefs[lockID]--
			if m.roomRefs[lockID] > 0 {
				return
			}
			delete(m.roomRefs, lockID)
			m.LeaveRoom(lockID)
		})
	}
}

// Subscribe registers handler for events of kind. Handlers run on the
// connection's delivery goroutine, one event at a time, in registration order.
func (m *Manager) Subscribe(kind string, handler Handler) Subscription {
	sub := Subscription{id: uuid.New(), kind: kind}

	m.subMu.Lock()
	m.subs[kind] = append(m.subs[kind], subscriber{sub: sub, handler: handler})
	m.subMu.Unlock()

	return sub
}

// Unsubscribe removes exactly the handler behind sub. Unknown or already
// removed handles are ignored.
func (m *Manager) Unsubscribe(sub Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	list := m.subs[sub.kind]
	for i, s := range list {
		if s.sub.id == sub.id {
			m.subs[sub.kind] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(m.subs[sub.kind]) == 0 {
		delete(m.subs, sub.kind)
	}
}

// UnsubscribeAll removes every handler for kind.
//
// This also removes handlers registered by other components listening to
// the same kind. Use Unsubscribe unless the caller owns every subscriber.
func (m *Manager) UnsubscribeAll(kind string) {
	m.subMu.Lock()
	delete(m.subs, kind)
	m.subMu.Unlock()
}

// HandlerCount returns the number of handlers registered for kind.
func (m *Manager) HandlerCount(kind string) int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subs[kind])
}

// BindSession closes the Connection whenever the session token changes to
// anything other than the Connection's token, including sign-out. The
// returned func removes the binding.
func (m *Manager) BindSession(p *session.Provider) (unbind func()) {
	id := p.OnChange(func(token string) {
		if c, ok := m.Connection(); ok && c.Token() != token {
			m.Disconnect()
		}
	})
	return func() { p.RemoveListener(id) }
}

// dispatch delivers ev from c to the current handlers of its kind.
func (m *Manager) dispatch(c *Connection, ev Event) {
	m.subMu.RLock()
	list := make([]subscriber, len(m.subs[ev.Kind]))
	copy(list, m.subs[ev.Kind])
	m.subMu.RUnlock()

	if len(list) == 0 {
		m.logger.Debug("event without subscribers", "kind", ev.Kind)
		return
	}

	for _, s := range list {
		if c.isClosed() {
			return
		}
		m.invoke(s, ev)
	}
}

// invoke runs one handler, absorbing panics.
func (m *Manager) invoke(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panic recovered", "kind", ev.Kind, "panic", r)
		}
	}()
	s.handler(ev)
}

func (m *Manager) warn(err error) {
	m.logger.Warn("event channel warning", "error", err)

	m.warnMu.RLock()
	fn := m.onWarning
	m.warnMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func dialError(err error) error {
	if isUnauthorized(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDialFailed, err)
}
