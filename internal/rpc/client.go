package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/elock-client/internal/infrastructure/config"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 4 << 20

// TokenSource supplies the current session token ("" when signed out).
type TokenSource interface {
	Token() string
}

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Client issues backend calls. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the request logger.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for cfg.BaseURL. tokens may be nil for anonymous use.
func New(cfg config.APIConfig, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.GetRequestTimeout()},
		tokens:  tokens,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// Auth
// =============================================================================

// Login exchanges credentials for a token, then fetches the profile with it.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &tok, ""); err != nil {
		return LoginResult{}, err
	}
	if tok.AccessToken == "" {
		return LoginResult{}, fmt.Errorf("%w: login response has no access_token", ErrRequestFailed)
	}

	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/profile", nil, nil, &user, tok.AccessToken); err != nil {
		return LoginResult{}, fmt.Errorf("fetching profile: %w", err)
	}

	return LoginResult{User: user, Token: tok.AccessToken}, nil
}

// =============================================================================
// Locks
// =============================================================================

// ListLocks returns every lock the session can see.
func (c *Client) ListLocks(ctx context.Context) ([]Lock, error) {
	var locks []Lock
	if err := c.do(ctx, http.MethodGet, "/door-locks", nil, nil, &locks, ""); err != nil {
		return nil, err
	}
	return locks, nil
}

// GetLock returns one lock.
func (c *Client) GetLock(ctx context.Context, id int64) (Lock, error) {
	var lock Lock
	err := c.do(ctx, http.MethodGet, "/door-locks/"+strconv.FormatInt(id, 10), nil, nil, &lock, "")
	return lock, err
}

// UpdateLockStatus sets a lock's status and returns the lock as stored.
func (c *Client) UpdateLockStatus(ctx context.Context, id int64, status LockStatus) (Lock, error) {
	var lock Lock
	body := map[string]LockStatus{"status": status}
	err := c.do(ctx, http.MethodPatch, "/door-locks/"+strconv.FormatInt(id, 10), nil, body, &lock, "")
	return lock, err
}

// CreateLock registers a new lock owned by the session user.
func (c *Client) CreateLock(ctx context.Context, in CreateLockInput) (Lock, error) {
	var lock Lock
	err := c.do(ctx, http.MethodPost, "/door-locks", nil, in, &lock, "")
	return lock, err
}

// =============================================================================
// Access grants
// =============================================================================

// ListAccessGrantsForLock returns all grants of a lock.
func (c *Client) ListAccessGrantsForLock(ctx context.Context, lockID int64) ([]AccessGrant, error) {
	var grants []AccessGrant
	q := url.Values{"doorLockId": {strconv.FormatInt(lockID, 10)}}
	if err := c.do(ctx, http.MethodGet, "/door-lock-user", q, nil, &grants, ""); err != nil {
		return nil, err
	}
	return grants, nil
}

// CreateAccessGrant creates a grant.
func (c *Client) CreateAccessGrant(ctx context.Context, in CreateGrantInput) (AccessGrant, error) {
	var grant AccessGrant
	err := c.do(ctx, http.MethodPost, "/door-lock-user", nil, in, &grant, "")
	return grant, err
}

// DeleteAccessGrant removes a grant.
func (c *Client) DeleteAccessGrant(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/door-lock-user/"+strconv.FormatInt(id, 10), nil, nil, nil, "")
}

// =============================================================================
// Users
// =============================================================================

// ListUsers returns every user.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", nil, nil, &users, ""); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser returns one user.
func (c *Client) GetUser(ctx context.Context, id int64) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/users/"+strconv.FormatInt(id, 10), nil, nil, &user, "")
	return user, err
}

// CreateUser registers a new account. No token is required.
func (c *Client) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	var user User
	err := c.do(ctx, http.MethodPost, "/users", nil, in, &user, "")
	return user, err
}

// FindUserByEmail resolves an e-mail through the backend's indexed lookup.
// The endpoint answers with the matching users (zero or one); found is false
// when there is no match. A backend without the endpoint yields
// ErrLookupUnsupported.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (user User, found bool, err error) {
	var users []User
	q := url.Values{"email": {email}}
	err = c.do(ctx, http.MethodGet, "/users/lookup", q, nil, &users, "")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
				return User{}, false, fmt.Errorf("%w: %w", ErrLookupUnsupported, err)
			}
		}
		return User{}, false, err
	}
	if len(users) == 0 {
		return User{}, false, nil
	}
	return users[0], true, nil
}

// =============================================================================
// Transport
// =============================================================================

// do performs one call. bearer overrides the TokenSource when non-empty.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any, bearer string) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%w: building %s %s: %w", ErrRequestFailed, method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	token := bearer
	if token == "" && c.tokens != nil {
		token = c.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend call failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading %s %s: %w", ErrRequestFailed, method, path, err)
	}

	c.logger.Debug("backend call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: decodeErrorMessage(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %w", ErrRequestFailed, method, path, err)
	}
	return nil
}
