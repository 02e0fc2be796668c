package access

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/elock-client/internal/rpc"
)

// GrantStore is the RPC surface an access view reads and mutates through.
type GrantStore interface {
	ListAccessGrantsForLock(ctx context.Context, lockID int64) ([]rpc.AccessGrant, error)
	CreateAccessGrant(ctx context.Context, in rpc.CreateGrantInput) (rpc.AccessGrant, error)
	DeleteAccessGrant(ctx context.Context, id int64) error
}

// Logger defines the logging interface used by access views.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Option configures a View.
type Option func(*View)

// WithLogger sets the view's logger.
func WithLogger(l Logger) Option {
	return func(v *View) { v.logger = l }
}

// WithOnChange registers fn to run after every change of the list.
// fn runs outside the view's lock.
func WithOnChange(fn func()) Option {
	return func(v *View) { v.onChange = fn }
}

// Entry is one row of the access list.
type Entry struct {
	Grant       rpc.AccessGrant
	DisplayName string
	// Revocable is false for owner grants.
	Revocable bool
}

// View is the access-grant list of one lock.
type View struct {
	lockID   int64
	store    GrantStore
	resolver Resolver
	logger   Logger
	onChange func()

	mu     sync.Mutex
	grants []rpc.AccessGrant
	seq    uint64
	// revoked and added map grant ids to the seq of the local change.
	revoked map[int64]uint64
	added   map[int64]uint64
	closed  bool
}

// NewView creates an empty access view for lockID. Call Load to populate it.
func NewView(lockID int64, store GrantStore, resolver Resolver, opts ...Option) *View {
	v := &View{
		lockID:   lockID,
		store:    store,
		resolver: resolver,
		logger:   noopLogger{},
		revoked:  make(map[int64]uint64),
		added:    make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// LockID returns the lock this view follows.
func (v *View) LockID() int64 { return v.lockID }

// Load fetches every grant of the lock and replaces the list. On failure
// the previous list is kept and the error is returned.
func (v *View) Load(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.seq++
	start := v.seq
	v.mu.Unlock()

	grants, err := v.store.ListAccessGrantsForLock(ctx, v.lockID)
	if err != nil {
		if v.isClosed() {
			return nil
		}
		return fmt.Errorf("loading access list for lock %d: %w", v.lockID, err)
	}

	if v.replace(start, grants) {
		v.changed()
	}
	return nil
}

func (v *View) replace(start uint64, fetched []rpc.AccessGrant) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return false
	}

	next := make([]rpc.AccessGrant, 0, len(fetched))
	seen := make(map[int64]bool, len(fetched))
	for _, g := range fetched {
		if g.LockID != 0 && g.LockID != v.lockID {
			continue
		}
		if at, ok := v.revoked[g.ID]; ok && at > start {
			v.logger.Debug("dropping revoked grant from stale list", "grant_id", g.ID)
			continue
		}
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		next = append(next, g)
	}
	// Keep grants shared after this load started that it could not see yet.
	for _, g := range v.grants {
		if at, ok := v.added[g.ID]; ok && at > start && !seen[g.ID] {
			next = append(next, g)
		}
	}

	v.grants = next
	prune(v.revoked, start)
	prune(v.added, start)
	return true
}

func prune(intents map[int64]uint64, start uint64) {
	for id, at := range intents {
		if at <= start {
			delete(intents, id)
		}
	}
}

// Revoke deletes a grant through the backend and removes it from the list.
// A failed call leaves the list unchanged and returns a *RevokeError.
func (v *View) Revoke(ctx context.Context, grantID int64) error {
	g, ok := v.grant(grantID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrGrantNotFound, grantID)
	}
	if g.Role == rpc.RoleOwner {
		return fmt.Errorf("%w: %s", ErrNotRevocable, g.DisplayName())
	}

	if err := v.store.DeleteAccessGrant(ctx, grantID); err != nil {
		if v.isClosed() {
			return nil
		}
		return &RevokeError{DisplayName: g.DisplayName(), Err: err}
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.seq++
	v.revoked[grantID] = v.seq
	delete(v.added, grantID)
	for i, cur := range v.grants {
		if cur.ID == grantID {
			v.grants = append(v.grants[:i:i], v.grants[i+1:]...)
			break
		}
	}
	v.mu.Unlock()

	v.changed()
	return nil
}

// Share grants guest access to the user with the given e-mail address and
// returns that user. ErrUserNotFound means no grant was created.
func (v *View) Share(ctx context.Context, email string) (rpc.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return rpc.User{}, fmt.Errorf("%w: email required", ErrValidation)
	}

	user, err := v.resolver.Resolve(ctx, email)
	if err != nil {
		return rpc.User{}, err
	}

	grant, err := v.store.CreateAccessGrant(ctx, rpc.CreateGrantInput{
		UserID: user.ID,
		LockID: v.lockID,
		Role:   rpc.RoleGuest,
		Status: rpc.GrantActive,
	})
	if err != nil {
		if v.isClosed() {
			return user, nil
		}
		return rpc.User{}, fmt.Errorf("sharing lock %d with %s: %w", v.lockID, email, err)
	}

	// Without an id the grant only shows up on the next Load.
	if grant.ID == 0 {
		return user, nil
	}
	if grant.User == nil {
		u := user
		grant.User = &u
	}
	if grant.UserID == 0 {
		grant.UserID = user.ID
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return user, nil
	}
	v.seq++
	v.added[grant.ID] = v.seq
	v.grants = append(v.grants[:len(v.grants):len(v.grants)], grant)
	v.mu.Unlock()

	v.changed()
	return user, nil
}

// Entries returns the current list with derived display fields.
func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Entry, 0, len(v.grants))
	for _, g := range v.grants {
		out = append(out, Entry{
			Grant:       g,
			DisplayName: g.DisplayName(),
			Revocable:   g.Role != rpc.RoleOwner,
		})
	}
	return out
}

// Close discards the results of in-flight calls.
func (v *View) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
}

func (v *View) grant(id int64) (rpc.AccessGrant, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, g := range v.grants {
		if g.ID == id {
			return g, true
		}
	}
	return rpc.AccessGrant{}, false
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *View) changed() {
	if v.onChange != nil {
		v.onChange()
	}
}
