package locks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/elock-client/internal/channel"
	"github.com/nerrad567/elock-client/internal/rpc"
)

// DetailView follows a single lock.
type DetailView struct {
	source LockSource
	events *channel.Manager
	tokens TokenSource
	opts   options

	store   *store
	id      int64
	removed atomic.Bool

	mu      sync.Mutex
	subs    []channel.Subscription
	release func()
}

// NewDetailView creates a detail view. Call Open to populate it.
func NewDetailView(source LockSource, events *channel.Manager, tokens TokenSource, opts ...Option) *DetailView {
	return &DetailView{
		source: source,
		events: events,
		tokens: tokens,
		opts:   buildOptions(opts),
		store:  newStore(),
	}
}

// Open shows seed, fetches the current lock and starts live updates.
//
// When the fetch fails the view keeps seed and the error is returned; the
// view is still usable. Live updates need a session token: without one
// they are skipped silently. With one the event channel is connected and
// the lock's room joined before handlers are installed.
func (v *DetailView) Open(ctx context.Context, seed rpc.Lock) error {
	if v.store.isClosed() {
		return nil
	}
	v.id = seed.ID
	v.store.replace(v.store.begin(), []rpc.Lock{seed})

	fetchErr := v.Refresh(ctx)
	if fetchErr != nil {
		v.opts.logger.Warn("lock fetch failed, showing cached data", "lock_id", v.id, "error", fetchErr)
	}

	if token := v.tokens.Token(); token != "" {
		if _, err := v.events.Connect(ctx, token); err != nil {
			v.opts.logger.Warn("event channel unavailable", "error", err)
		}
		v.startLive()
	}

	return fetchErr
}

func (v *DetailView) startLive() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.store.isClosed() {
		return
	}
	if v.release == nil {
		v.release = v.events.AcquireRoom(v.id)
	}
	v.subs = append(v.subs,
		channel.On(v.events, channel.KindLockUpdated, func(u channel.LockUpdate) {
			if u.ID == v.id {
				v.ApplyUpdateEvent(u)
			}
		}),
		channel.On(v.events, channel.KindLockRemoved, func(r channel.LockRemoved) {
			if r.ID == v.id {
				v.ApplyRemovedEvent(r)
			}
		}),
	)
}

// Refresh re-fetches the lock. On failure the held copy is kept.
func (v *DetailView) Refresh(ctx context.Context) error {
	start := v.store.begin()
	lock, err := v.source.GetLock(ctx, v.id)
	if err != nil {
		if v.store.isClosed() {
			return nil
		}
		return fmt.Errorf("loading lock %d: %w", v.id, err)
	}
	if v.removed.Load() {
		return nil
	}
	if v.store.replace(start, []rpc.Lock{lock}) {
		v.changed()
	}
	return nil
}

// ApplyUpdateEvent patches the lock. It reports whether the view changed.
func (v *DetailView) ApplyUpdateEvent(u channel.LockUpdate) bool {
	if !v.store.update(u) {
		return false
	}
	v.changed()
	return true
}

// ApplyRemovedEvent marks the lock as deleted on the server.
func (v *DetailView) ApplyRemovedEvent(r channel.LockRemoved) bool {
	if r.ID != v.id || v.removed.Swap(true) {
		return false
	}
	v.store.remove(r.ID)
	v.changed()
	return true
}

// Toggle flips the lock through the backend and shows the response.
// On failure the lock is unchanged and the error is returned.
func (v *DetailView) Toggle(ctx context.Context) (rpc.Lock, error) {
	if v.removed.Load() {
		return rpc.Lock{}, ErrRemoved
	}
	cur, ok := v.store.get(v.id)
	if !ok {
		return rpc.Lock{}, fmt.Errorf("%w: %d", ErrNotInView, v.id)
	}
	return toggle(ctx, v.source, v.store, cur, v.changed)
}

// Lock returns the held copy. ok is false before Open and after removal.
func (v *DetailView) Lock() (rpc.Lock, bool) {
	return v.store.get(v.id)
}

// Removed reports whether the server deleted the lock.
func (v *DetailView) Removed() bool {
	return v.removed.Load()
}

// Close unsubscribes the view's handlers and leaves the lock's room.
func (v *DetailView) Close() {
	if !v.store.close() {
		return
	}

	v.mu.Lock()
	subs := v.subs
	v.subs = nil
	release := v.release
	v.release = nil
	v.mu.Unlock()

	for _, s := range subs {
		v.events.Unsubscribe(s)
	}
	if release != nil {
		release()
	}
}

func (v *DetailView) changed() {
	if v.opts.onChange != nil {
		v.opts.onChange()
	}
}
