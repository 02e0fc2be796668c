package locks

import (
	"sync"

	"github.com/nerrad567/elock-client/internal/channel"
	"github.com/nerrad567/elock-client/internal/rpc"
)

// store is the reconciled lock set of one view.
//
// seq orders snapshot starts and local intents. intents[id] is the seq at
// which a local result for id was applied; a snapshot that started earlier
// must not overwrite it.
type store struct {
	mu      sync.Mutex
	order   []int64
	byID    map[int64]rpc.Lock
	seq     uint64
	intents map[int64]uint64
	closed  bool
}

func newStore() *store {
	return &store{
		byID:    make(map[int64]rpc.Lock),
		intents: make(map[int64]uint64),
	}
}

// begin marks the start of a snapshot request and returns its seq.
func (s *store) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// replace installs a snapshot that started at start. It reports false when
// the store is closed.
func (s *store) replace(start uint64, locks []rpc.Lock) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	order := make([]int64, 0, len(locks))
	byID := make(map[int64]rpc.Lock, len(locks))
	for _, l := range locks {
		if _, dup := byID[l.ID]; dup {
			continue
		}
		if cur, ok := s.byID[l.ID]; ok && s.keepHeld(start, cur, l) {
			l = cur
		}
		order = append(order, l.ID)
		byID[l.ID] = l
	}

	s.order = order
	s.byID = byID
	for id, at := range s.intents {
		if at <= start {
			delete(s.intents, id)
		}
	}
	return true
}

// keepHeld reports whether the held copy wins over the snapshot copy.
// s.mu must be held.
func (s *store) keepHeld(start uint64, held, fetched rpc.Lock) bool {
	if s.intents[held.ID] > start {
		return true
	}
	return held.Version != 0 && fetched.Version != 0 && fetched.Version < held.Version
}

// update applies a push event. It reports whether the view changed.
func (s *store) update(u channel.LockUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	cur, ok := s.byID[u.ID]
	if !ok {
		return false
	}
	if u.Version != 0 && cur.Version != 0 && u.Version < cur.Version {
		return false
	}
	if u.Status != "" && !u.Status.Valid() {
		return false
	}

	next := cur
	if u.Status != "" {
		next.Status = u.Status
	}
	if u.Name != nil {
		next.Name = *u.Name
	}
	if u.Location != nil {
		next.Location = *u.Location
	}
	if u.Version != 0 {
		next.Version = u.Version
	}
	if next == cur {
		return false
	}
	s.byID[u.ID] = next
	return true
}

// local applies the result of a local mutation and records the intent.
func (s *store) local(l rpc.Lock) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.byID[l.ID]; !ok {
		return false
	}
	s.seq++
	s.intents[l.ID] = s.seq
	s.byID[l.ID] = l
	return true
}

// remove drops id. It reports whether id was present.
func (s *store) remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	delete(s.intents, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *store) get(id int64) (rpc.Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byID[id]
	return l, ok
}

// list returns the locks in snapshot order.
func (s *store) list() []rpc.Lock {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]rpc.Lock, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *store) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
