package channel

import (
	"context"
	"encoding/json"

	"github.com/nerrad567/elock-client/internal/rpc"
)

// Server-to-client event kinds.
const (
	KindLockUpdated = "door-lock-updated"
	KindLockRemoved = "door-lock-removed"
)

// Event is one push event as delivered by a Link.
type Event struct {
	Kind    string
	Payload json.RawMessage
}

// Handler receives events of the kind it was subscribed to.
type Handler func(Event)

// Transport opens links to the push server.
type Transport interface {
	Dial(ctx context.Context, token string) (Link, error)
}

// Link is one live transport session.
//
// Events is never closed; Done is closed when the link goes down, after
// which Err reports why (nil for a local Close).
type Link interface {
	Events() <-chan Event
	Done() <-chan struct{}
	Err() error
	Join(lockID int64) error
	Leave(lockID int64) error
	Close() error
}

// LockUpdate is the payload of door-lock-updated. Fields other than ID and
// Status are optional; Version is zero when the server does not send one.
type LockUpdate struct {
	ID       int64          `json:"id"`
	Status   rpc.LockStatus `json:"status"`
	Name     *string        `json:"name,omitempty"`
	Location *string        `json:"localization,omitempty"`
	Version  int64          `json:"version,omitempty"`
}

// LockRemoved is the payload of door-lock-removed.
type LockRemoved struct {
	ID int64 `json:"id"`
}

// On subscribes fn to events of kind, decoding each payload into T.
// Payloads that do not decode are dropped.
func On[T any](m *Manager, kind string, fn func(T)) Subscription {
	return m.Subscribe(kind, func(ev Event) {
		var v T
		if err := json.Unmarshal(ev.Payload, &v); err != nil {
			m.logger.Debug("dropping undecodable event", "kind", ev.Kind, "error", err)
			return
		}
		fn(v)
	})
}
