package locks

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/elock-client/internal/rpc"
)

// LockCreator registers new locks.
type LockCreator interface {
	CreateLock(ctx context.Context, in rpc.CreateLockInput) (rpc.Lock, error)
}

// CreateLock validates the form and registers a lock. New locks start locked.
func CreateLock(ctx context.Context, creator LockCreator, name, location string) (rpc.Lock, error) {
	name = strings.TrimSpace(name)
	location = strings.TrimSpace(location)

	var missing []string
	if name == "" {
		missing = append(missing, "name")
	}
	if location == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return rpc.Lock{}, fmt.Errorf("%w: %s required", ErrValidation, strings.Join(missing, " and "))
	}

	lock, err := creator.CreateLock(ctx, rpc.CreateLockInput{
		Name:     name,
		Location: location,
		Status:   rpc.StatusLocked,
	})
	if err != nil {
		return rpc.Lock{}, fmt.Errorf("creating lock: %w", err)
	}
	return lock, nil
}
