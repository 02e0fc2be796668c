package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nerrad567/elock-client/internal/infrastructure/config"
	"github.com/nerrad567/elock-client/internal/rpc"
)

// Resolver maps an e-mail address to a user. A miss returns ErrUserNotFound.
type Resolver interface {
	Resolve(ctx context.Context, email string) (rpc.User, error)
}

// UserFinder is the indexed lookup endpoint.
type UserFinder interface {
	FindUserByEmail(ctx context.Context, email string) (rpc.User, bool, error)
}

// UserLister lists every user.
type UserLister interface {
	ListUsers(ctx context.Context) ([]rpc.User, error)
}

// UserDirectory offers both lookup strategies. *rpc.Client implements it.
type UserDirectory interface {
	UserFinder
	UserLister
}

// IndexedResolver asks the backend to look the address up.
type IndexedResolver struct {
	Finder UserFinder
}

// Resolve implements Resolver.
func (r IndexedResolver) Resolve(ctx context.Context, email string) (rpc.User, error) {
	user, found, err := r.Finder.FindUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return rpc.User{}, fmt.Errorf("looking up user: %w", err)
	}
	if !found {
		return rpc.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	return user, nil
}

// ScanResolver fetches every user and matches the address case-insensitively.
// Its cost grows with the user base.
type ScanResolver struct {
	Lister UserLister
}

// Resolve implements Resolver.
func (r ScanResolver) Resolve(ctx context.Context, email string) (rpc.User, error) {
	want := strings.TrimSpace(email)
	users, err := r.Lister.ListUsers(ctx)
	if err != nil {
		return rpc.User{}, fmt.Errorf("listing users: %w", err)
	}
	for _, u := range users {
		if strings.EqualFold(strings.TrimSpace(u.Email), want) {
			return u, nil
		}
	}
	return rpc.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, email)
}

// ChainResolver tries Primary and falls back to Fallback when the backend
// reports the lookup endpoint as unsupported. After the first such answer
// Primary is skipped.
type ChainResolver struct {
	Primary  Resolver
	Fallback Resolver
	Logger   Logger

	unsupported atomic.Bool
}

// Resolve implements Resolver.
func (r *ChainResolver) Resolve(ctx context.Context, email string) (rpc.User, error) {
	if !r.unsupported.Load() {
		user, err := r.Primary.Resolve(ctx, email)
		if !errors.Is(err, rpc.ErrLookupUnsupported) {
			return user, err
		}
		r.unsupported.Store(true)
		if r.Logger != nil {
			r.Logger.Warn("user lookup endpoint unavailable, scanning user list")
		}
	}
	return r.Fallback.Resolve(ctx, email)
}

// NewResolver builds the resolver selected by api.user_lookup.
func NewResolver(mode string, dir UserDirectory, logger Logger) (Resolver, error) {
	switch mode {
	case config.UserLookupServer:
		return IndexedResolver{Finder: dir}, nil
	case config.UserLookupScan:
		return ScanResolver{Lister: dir}, nil
	case config.UserLookupAuto, "":
		return &ChainResolver{
			Primary:  IndexedResolver{Finder: dir},
			Fallback: ScanResolver{Lister: dir},
			Logger:   logger,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLookupMode, mode)
	}
}
