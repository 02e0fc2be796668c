package channel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Connection.
type State int

// Connection states.
const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateDegraded
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Connection is the push session for one token. Only the Manager creates
// and closes Connections.
type Connection struct {
	mgr   *Manager
	token string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	// mu guards state, link and rooms. Membership frames are sent with mu
	// held so joins and leaves reach the link in call order.
	mu    sync.Mutex
	state State
	link  Link
	rooms map[int64]struct{}
}

func newConnection(m *Manager, token string, rooms []int64) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		mgr:    m,
		token:  token,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateConnecting,
		rooms:  make(map[int64]struct{}, len(rooms)),
	}
	for _, id := range rooms {
		c.rooms[id] = struct{}{}
	}
	return c
}

// Token returns the session token the Connection was opened with.
func (c *Connection) Token() string { return c.token }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rooms returns the joined lock ids in ascending order.
func (c *Connection) Rooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Done is closed once the Connection's background loop has exited, which
// happens after close or when reconnection gives up.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) isClosed() bool { return c.closed.Load() }

func (c *Connection) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Connection) join(lockID int64) {
	if err := c.changeRoom(lockID, true); err != nil {
		c.warn(fmt.Errorf("%w: join %d: %w", ErrMembershipFailed, lockID, err))
	}
}

func (c *Connection) leave(lockID int64) {
	if err := c.changeRoom(lockID, false); err != nil {
		c.warn(fmt.Errorf("%w: leave %d: %w", ErrMembershipFailed, lockID, err))
	}
}

// changeRoom updates membership and signals the link when the set changed.
func (c *Connection) changeRoom(lockID int64, joined bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, member := c.rooms[lockID]
	if member == joined {
		return nil
	}
	if joined {
		c.rooms[lockID] = struct{}{}
	} else {
		delete(c.rooms, lockID)
	}

	if c.link == nil {
		return nil
	}
	if joined {
		return c.link.Join(lockID)
	}
	return c.link.Leave(lockID)
}

// attach installs link and replays room memberships. It reports false, and
// closes link, when the Connection was closed in the meantime.
func (c *Connection) attach(link Link) bool {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		link.Close() //nolint:errcheck // discarding a link nobody will use
		return false
	}

	c.link = link
	c.state = StateConnected
	var errs []error
	for id := range c.rooms {
		if err := link.Join(id); err != nil {
			errs = append(errs, fmt.Errorf("%w: rejoin %d: %w", ErrMembershipFailed, id, err))
		}
	}
	c.mu.Unlock()

	for _, err := range errs {
		c.warn(err)
	}
	return true
}

// detach drops link if it is still the installed one.
func (c *Connection) detach(link Link) {
	c.mu.Lock()
	if c.link == link {
		c.link = nil
	}
	c.mu.Unlock()
	link.Close() //nolint:errcheck // link already down
}

// run delivers events from link and redials after it drops. link may be
// nil when the initial dial failed.
func (c *Connection) run(link Link) {
	defer close(c.done)

	policy := c.mgr.policy
	attempt := 0

	for {
		if link != nil {
			attempt = 0
			c.deliver(link)
			if c.ctx.Err() != nil {
				return
			}
			c.detach(link)
			c.warn(fmt.Errorf("%w: %w", ErrConnectionLost, linkErr(link)))
			link = nil
		}

		attempt++
		if attempt > policy.maxAttempts {
			c.setState(StateDegraded)
			c.warn(fmt.Errorf("%w: gave up after %d attempts", ErrReconnectExhausted, policy.maxAttempts))
			return
		}
		c.setState(StateReconnecting)

		timer := time.NewTimer(policy.delay(attempt))
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, err := c.mgr.transport.Dial(c.ctx, c.token)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.warn(fmt.Errorf("reconnect attempt %d: %w", attempt, dialError(err)))
			continue
		}
		if !c.attach(next) {
			return
		}
		c.mgr.logger.Info("event connection re-established", "attempt", attempt)
		link = next
	}
}

// deliver dispatches events until link goes down or the Connection closes.
func (c *Connection) deliver(link Link) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-link.Done():
			return
		case ev := <-link.Events():
			c.mgr.dispatch(c, ev)
		}
	}
}

// close tears the Connection down. It does not wait for the delivery
// goroutine, so it is safe to call from an event handler.
func (c *Connection) close() {
	if c.closed.Swap(true) {
		return
	}
	c.cancel()

	c.mu.Lock()
	link := c.link
	c.link = nil
	c.state = StateClosed
	c.mu.Unlock()

	if link != nil {
		link.Close() //nolint:errcheck // best-effort close
	}
}

func (c *Connection) warn(err error) {
	if c.isClosed() {
		return
	}
	c.mgr.warn(err)
}

func linkErr(link Link) error {
	if err := link.Err(); err != nil {
		return err
	}
	return errors.New("closed by peer")
}

func isUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
