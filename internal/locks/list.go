package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/elock-client/internal/channel"
	"github.com/nerrad567/elock-client/internal/rpc"
)

// LockSource is the RPC surface lock views read and mutate through.
type LockSource interface {
	ListLocks(ctx context.Context) ([]rpc.Lock, error)
	GetLock(ctx context.Context, id int64) (rpc.Lock, error)
	UpdateLockStatus(ctx context.Context, id int64, status rpc.LockStatus) (rpc.Lock, error)
}

// TokenSource supplies the current session token.
type TokenSource interface {
	Token() string
}

// Logger defines the logging interface used by lock views.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// options are shared by list and detail views.
type options struct {
	logger   Logger
	onChange func()
}

// Option configures a view.
type Option func(*options)

// WithLogger sets the view's logger.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOnChange registers fn to run after every change of the view's
// contents. fn runs outside the view's lock.
func WithOnChange(fn func()) Option {
	return func(o *options) { o.onChange = fn }
}

func buildOptions(opts []Option) options {
	o := options{logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ListView is the reconciled list of every lock the user can see.
type ListView struct {
	source LockSource
	events *channel.Manager
	tokens TokenSource
	opts   options

	store *store
	loads singleflight.Group

	subMu sync.Mutex
	subs  []channel.Subscription
}

// NewListView creates an empty list view. Call Open to populate it.
func NewListView(source LockSource, events *channel.Manager, tokens TokenSource, opts ...Option) *ListView {
	return &ListView{
		source: source,
		events: events,
		tokens: tokens,
		opts:   buildOptions(opts),
		store:  newStore(),
	}
}

// Open connects the event channel when a token is available, subscribes to
// lock events and loads the first snapshot. A failed load is returned; the
// subscriptions stay in place so a later Refresh can recover.
func (v *ListView) Open(ctx context.Context) error {
	if v.store.isClosed() {
		return nil
	}
	if token := v.tokens.Token(); token != "" {
		if _, err := v.events.Connect(ctx, token); err != nil {
			v.opts.logger.Warn("event channel unavailable", "error", err)
		}
	}

	v.subMu.Lock()
	v.subs = append(v.subs,
		channel.On(v.events, channel.KindLockUpdated, func(u channel.LockUpdate) { v.ApplyUpdateEvent(u) }),
		channel.On(v.events, channel.KindLockRemoved, func(r channel.LockRemoved) { v.ApplyRemovedEvent(r) }),
	)
	v.subMu.Unlock()

	return v.LoadSnapshot(ctx)
}

// snapshotTimeout bounds a shared snapshot request once it no longer
// follows the caller that started it.
const snapshotTimeout = 30 * time.Second

// LoadSnapshot fetches the full list and replaces the view. On failure the
// previous list is kept and the error is returned. Concurrent calls share
// one request; each caller is released by its own ctx only, so cancelling
// one caller does not fail the others.
func (v *ListView) LoadSnapshot(ctx context.Context) error {
	ch := v.loads.DoChan("snapshot", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
		defer cancel()

		start := v.store.begin()
		locks, err := v.source.ListLocks(fetchCtx)
		if err != nil {
			return nil, err
		}
		if v.store.replace(start, locks) {
			v.changed()
		}
		return nil, nil
	})

	var err error
	select {
	case res := <-ch:
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		if v.store.isClosed() {
			return nil
		}
		return fmt.Errorf("loading locks: %w", err)
	}
	return nil
}

// Refresh reloads the snapshot, for pull-to-refresh and view re-entry.
func (v *ListView) Refresh(ctx context.Context) error {
	return v.LoadSnapshot(ctx)
}

// ApplyUpdateEvent patches a held lock. It reports whether the view changed.
func (v *ListView) ApplyUpdateEvent(u channel.LockUpdate) bool {
	if !v.store.update(u) {
		v.opts.logger.Debug("lock update not applied", "lock_id", u.ID)
		return false
	}
	v.changed()
	return true
}

// ApplyRemovedEvent drops a held lock. It reports whether the view changed.
func (v *ListView) ApplyRemovedEvent(r channel.LockRemoved) bool {
	if !v.store.remove(r.ID) {
		v.opts.logger.Debug("lock removal for unknown id", "lock_id", r.ID)
		return false
	}
	v.changed()
	return true
}

// Toggle flips the status of a held lock through the backend and applies
// the response. On failure the view is unchanged.
func (v *ListView) Toggle(ctx context.Context, id int64) (rpc.Lock, error) {
	cur, ok := v.store.get(id)
	if !ok {
		return rpc.Lock{}, fmt.Errorf("%w: %d", ErrNotInView, id)
	}
	return toggle(ctx, v.source, v.store, cur, v.changed)
}

// Locks returns a copy of the view in snapshot order.
func (v *ListView) Locks() []rpc.Lock {
	return v.store.list()
}

// Close unsubscribes the view's handlers. Results of in-flight calls are
// discarded. The event connection is left open for other views.
func (v *ListView) Close() {
	if !v.store.close() {
		return
	}

	v.subMu.Lock()
	subs := v.subs
	v.subs = nil
	v.subMu.Unlock()

	for _, s := range subs {
		v.events.Unsubscribe(s)
	}
}

func (v *ListView) changed() {
	if v.opts.onChange != nil {
		v.opts.onChange()
	}
}

// toggle is shared by list and detail views.
func toggle(ctx context.Context, source LockSource, s *store, cur rpc.Lock, changed func()) (rpc.Lock, error) {
	next := cur.Status.Toggled()

	updated, err := source.UpdateLockStatus(ctx, cur.ID, next)
	if err != nil {
		if s.isClosed() {
			return cur, nil
		}
		return cur, fmt.Errorf("toggling lock %d: %w", cur.ID, err)
	}

	// Some backends answer with an empty body.
	if updated.ID == 0 {
		updated = cur
		updated.Status = next
	}
	if s.local(updated) {
		changed()
	}
	return updated, nil
}
