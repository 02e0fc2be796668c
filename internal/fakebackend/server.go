package fakebackend

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/elock-client/internal/channel"
	"github.com/nerrad567/elock-client/internal/infrastructure/config"
	"github.com/nerrad567/elock-client/internal/rpc"
)

// Logger defines the logging interface used by the fake backend.
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

type userRecord struct {
	rpc.User
	passwordHash string
}

// Server is the in-memory backend.
type Server struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
	logger   Logger
	lookup   bool
	wsCfg    config.ChannelConfig

	mu     sync.RWMutex
	users  map[int64]*userRecord
	locks  map[int64]*rpc.Lock
	grants map[int64]*rpc.AccessGrant
	nextID int64

	hub *hub
}

// Option configures a Server.
type Option func(*Server)

// WithSecret sets the HMAC secret used to sign tokens.
func WithSecret(secret string) Option {
	return func(s *Server) { s.secret = []byte(secret) }
}

// WithTokenTTL sets the access token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithClock replaces time.Now for token issue and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the server's logger.
func WithLogger(l Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithoutUserLookup disables GET /users/lookup, as older backends lack it.
func WithoutUserLookup() Option {
	return func(s *Server) { s.lookup = false }
}

// WithWebSocketConfig sets keepalive and frame limits of the websocket hub.
func WithWebSocketConfig(cfg config.ChannelConfig) Option {
	return func(s *Server) { s.wsCfg = cfg }
}

// New creates an empty backend.
func New(opts ...Option) *Server {
	s := &Server{
		secret:   []byte("fakebackend-secret"),
		tokenTTL: defaultTokenTTL,
		now:      time.Now,
		logger:   noopLogger{},
		lookup:   true,
		wsCfg: config.ChannelConfig{
			MaxMessageSize: 8192,
			PingInterval:   25,
			PongTimeout:    10,
		},
		users:  make(map[int64]*userRecord),
		locks:  make(map[int64]*rpc.Lock),
		grants: make(map[int64]*rpc.AccessGrant),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.wsCfg.PingInterval <= 0 {
		s.wsCfg.PingInterval = 25
	}
	if s.wsCfg.PongTimeout <= 0 {
		s.wsCfg.PongTimeout = 10
	}
	if s.wsCfg.MaxMessageSize <= 0 {
		s.wsCfg.MaxMessageSize = 8192
	}
	s.hub = newHub(s)
	return s
}

// Close disconnects every websocket client.
func (s *Server) Close() {
	s.hub.closeAll()
}

// ============================================================================
// Seeding
// ============================================================================

// AddUser creates an account. It panics if the password cannot be hashed.
func (s *Server) AddUser(name, email, password string) rpc.User {
	u, err := s.createUser(name, email, password)
	if err != nil {
		panic(err)
	}
	return u
}

// AddLock creates a lock owned by ownerID. An ownerID of 0 creates an
// unowned lock.
func (s *Server) AddLock(ownerID int64, name, location string, status rpc.LockStatus) rpc.Lock {
	l := s.createLock(name, location, status)
	if ownerID != 0 {
		s.createGrant(rpc.CreateGrantInput{UserID: ownerID, LockID: l.ID, Role: rpc.RoleOwner, Status: rpc.GrantActive}, 0) //nolint:errcheck // lock was just created
	}
	return l
}

// AddGrant gives userID access to lockID.
func (s *Server) AddGrant(userID, lockID int64, role rpc.Role) rpc.AccessGrant {
	g, _ := s.createGrant(rpc.CreateGrantInput{UserID: userID, LockID: lockID, Role: role, Status: rpc.GrantActive}, 0) //nolint:errcheck // seeding helper, ids are trusted
	return g
}

// Token issues an access token for userID without a password.
func (s *Server) Token(userID int64) (string, error) {
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return "", errNoSuchUser
	}
	return s.issueToken(u)
}

// SetLockStatus changes a lock as if it were operated physically and pushes
// the update.
func (s *Server) SetLockStatus(id int64, status rpc.LockStatus) (rpc.Lock, bool) {
	l, ok := s.updateLock(id, status)
	if ok {
		s.hub.publish(id, channel.KindLockUpdated, l)
	}
	return l, ok
}

// RemoveLock deletes a lock with its grants and pushes the removal.
func (s *Server) RemoveLock(id int64) bool {
	members := s.lockMembers(id)

	s.mu.Lock()
	_, ok := s.locks[id]
	if ok {
		delete(s.locks, id)
		for gid, g := range s.grants {
			if g.LockID == id {
				delete(s.grants, gid)
			}
		}
	}
	s.mu.Unlock()

	if ok {
		s.hub.publishTo(id, members, channel.KindLockRemoved, channel.LockRemoved{ID: id})
	}
	return ok
}

// Lock returns a lock by id.
func (s *Server) Lock(id int64) (rpc.Lock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locks[id]
	if !ok {
		return rpc.Lock{}, false
	}
	return *l, true
}

// Grants returns the grants of lockID ordered by id.
func (s *Server) Grants(lockID int64) []rpc.AccessGrant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grantsForLocked(lockID)
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	return s.hub.clientCount()
}

// RoomSize returns how many authenticated clients joined lockID's room.
func (s *Server) RoomSize(lockID int64) int {
	return s.hub.roomSize(lockID)
}

// Authenticated returns how many clients completed the auth frame.
func (s *Server) Authenticated() int {
	return s.hub.authenticated()
}

// ============================================================================
// State
// ============================================================================

var (
	errNoSuchUser  = errors.New("fakebackend: no such user")
	errEmailTaken  = errors.New("fakebackend: email already registered")
	errUnknownLock = errors.New("fakebackend: lock not found")
)

func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Server) createUser(name, email, password string) (rpc.User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return rpc.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return rpc.User{}, errEmailTaken
		}
	}
	u := &userRecord{User: rpc.User{ID: s.id(), Name: name, Email: email}, passwordHash: hash}
	s.users[u.ID] = u
	return u.User, nil
}

func (s *Server) createLock(name, location string, status rpc.LockStatus) rpc.Lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &rpc.Lock{ID: s.id(), Name: name, Location: location, Status: status, Version: 1}
	s.locks[l.ID] = l
	return *l
}

func (s *Server) updateLock(id int64, status rpc.LockStatus) (rpc.Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return rpc.Lock{}, false
	}
	l.Status = status
	l.Version++
	return *l, true
}

func (s *Server) createGrant(in rpc.CreateGrantInput, sharedBy int64) (rpc.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[in.UserID]
	if !ok {
		return rpc.AccessGrant{}, errNoSuchUser
	}
	if _, ok := s.locks[in.LockID]; !ok {
		return rpc.AccessGrant{}, errUnknownLock
	}
	g := &rpc.AccessGrant{
		ID:     s.id(),
		UserID: in.UserID,
		LockID: in.LockID,
		Role:   in.Role,
		Status: in.Status,
	}
	if sharedBy != 0 {
		g.SharedBy = &sharedBy
	}
	s.grants[g.ID] = g
	return s.expandLocked(g, u), nil
}

// expandLocked embeds the user summary. s.mu must be held.
func (s *Server) expandLocked(g *rpc.AccessGrant, u *userRecord) rpc.AccessGrant {
	out := *g
	if u == nil {
		u = s.users[g.UserID]
	}
	if u != nil {
		user := u.User
		out.User = &user
	}
	return out
}

func (s *Server) grantsForLocked(lockID int64) []rpc.AccessGrant {
	out := make([]rpc.AccessGrant, 0)
	for _, g := range s.grants {
		if g.LockID == lockID {
			out = append(out, s.expandLocked(g, nil))
		}
	}
	slices.SortFunc(out, func(a, b rpc.AccessGrant) int { return int(a.ID - b.ID) })
	return out
}

// visibleLocks returns the locks userID holds an active grant on.
func (s *Server) visibleLocks(userID int64) []rpc.Lock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rpc.Lock, 0)
	for _, g := range s.grants {
		if g.UserID != userID || g.Status != rpc.GrantActive {
			continue
		}
		if l, ok := s.locks[g.LockID]; ok {
			out = append(out, *l)
		}
	}
	slices.SortFunc(out, func(a, b rpc.Lock) int { return int(a.ID - b.ID) })
	return slices.CompactFunc(out, func(a, b rpc.Lock) bool { return a.ID == b.ID })
}

// lockMembers returns the ids of users with a grant on lockID.
func (s *Server) lockMembers(lockID int64) map[int64]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]struct{})
	for _, g := range s.grants {
		if g.LockID == lockID {
			out[g.UserID] = struct{}{}
		}
	}
	return out
}
