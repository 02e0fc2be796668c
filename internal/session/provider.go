package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/elock-client/internal/rpc"
)

// Authenticator exchanges credentials for a token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (rpc.LoginResult, error)
}

// Session is one signed-in user.
type Session struct {
	Token  string
	User   rpc.User
	Claims Claims
}

// ListenerID identifies a registered change listener.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn func(token string)
}

// Provider holds the current Session. It is safe for concurrent use.
type Provider struct {
	mu        sync.RWMutex
	current   *Session
	listeners []listener
	nextID    ListenerID
	expiry    *time.Timer
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewProvider creates a signed-out Provider.
func NewProvider() *Provider {
	return &Provider{now: time.Now, afterFunc: time.AfterFunc}
}

// SignIn authenticates and, on success, replaces the current session.
// Listeners are notified with the new token.
func (p *Provider) SignIn(ctx context.Context, auth Authenticator, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	res, err := auth.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}
	if res.Token == "" {
		return nil, ErrNoToken
	}

	claims, err := ParseClaims(res.Token)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}

	s := &Session{Token: res.Token, User: res.User, Claims: claims}
	p.set(s)
	return cloneSession(s), nil
}

// Resume adopts a token obtained earlier, for example one passed on the
// command line. The user profile is left empty apart from what the claims carry.
func (p *Provider) Resume(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrValidation)
	}

	claims, err := ParseClaims(token)
	if err != nil {
		return nil, fmt.Errorf("resuming session: %w", err)
	}
	if claims.Expired(p.now()) {
		return nil, ErrTokenExpired
	}

	s := &Session{Token: token, Claims: claims}
	s.User.Email = claims.Email
	p.set(s)
	return cloneSession(s), nil
}

// SignOut clears the session. Listeners are notified with an empty token.
// Signing out while signed out is a no-op.
func (p *Provider) SignOut() {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.stopExpiry()
	fns := p.snapshotListeners()
	p.mu.Unlock()

	notify(fns, "")
}

// Token returns the current token, or "" when signed out or expired.
func (p *Provider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil || p.current.Claims.Expired(p.now()) {
		return ""
	}
	return p.current.Token
}

// Current returns a copy of the current session.
func (p *Provider) Current() (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil || p.current.Claims.Expired(p.now()) {
		return nil, false
	}
	return cloneSession(p.current), true
}

// OnChange registers fn to run after every sign-in, resume and sign-out,
// and with an empty token when the session's token expires.
// fn is called outside the Provider's lock and may call back into it.
func (p *Provider) OnChange(fn func(token string)) ListenerID {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	p.listeners = append(p.listeners, listener{id: p.nextID, fn: fn})
	return p.nextID
}

// RemoveListener deregisters a listener. Unknown ids are ignored.
func (p *Provider) RemoveListener(id ListenerID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, l := range p.listeners {
		if l.id == id {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}

func (p *Provider) set(s *Session) {
	p.mu.Lock()
	p.current = s
	p.stopExpiry()
	if !s.Claims.ExpiresAt.IsZero() {
		p.expiry = p.afterFunc(s.Claims.ExpiresAt.Sub(p.now()), func() { p.expire(s) })
	}
	fns := p.snapshotListeners()
	p.mu.Unlock()

	notify(fns, s.Token)
}

// expire drops s if it is still the current session.
func (p *Provider) expire(s *Session) {
	p.mu.Lock()
	if p.current != s {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.expiry = nil
	fns := p.snapshotListeners()
	p.mu.Unlock()

	notify(fns, "")
}

// stopExpiry must be called with p.mu held.
func (p *Provider) stopExpiry() {
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
}

// snapshotListeners must be called with p.mu held.
func (p *Provider) snapshotListeners() []func(string) {
	fns := make([]func(string), len(p.listeners))
	for i, l := range p.listeners {
		fns[i] = l.fn
	}
	return fns
}

func notify(fns []func(string), token string) {
	for _, fn := range fns {
		fn(token)
	}
}

func cloneSession(s *Session) *Session {
	c := *s
	return &c
}
