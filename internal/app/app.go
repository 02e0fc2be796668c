package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nerrad567/elock-client/internal/access"
	"github.com/nerrad567/elock-client/internal/channel"
	"github.com/nerrad567/elock-client/internal/infrastructure/config"
	"github.com/nerrad567/elock-client/internal/infrastructure/logging"
	"github.com/nerrad567/elock-client/internal/locks"
	"github.com/nerrad567/elock-client/internal/rpc"
	"github.com/nerrad567/elock-client/internal/session"
)

// App is the process-wide context of the client.
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	Session  *session.Provider
	API      *rpc.Client
	Events   *channel.Manager
	resolver access.Resolver
	unbind   func()
}

type options struct {
	transport  channel.Transport
	httpClient *http.Client
	onWarning  func(error)
}

// Option configures an App.
type Option func(*options)

// WithTransport replaces the transport selected by channel.transport.
func WithTransport(t channel.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithHTTPClient sets the HTTP client used for RPC calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithOnWarning receives event channel warnings after they are logged.
func WithOnWarning(fn func(error)) Option {
	return func(o *options) { o.onWarning = fn }
}

// New builds an App from cfg. A nil logger discards output.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	resolverLog := logger.With("component", "access")
	provider := session.NewProvider()

	rpcOpts := []rpc.Option{rpc.WithLogger(logger.With("component", "rpc"))}
	if o.httpClient != nil {
		rpcOpts = append(rpcOpts, rpc.WithHTTPClient(o.httpClient))
	}
	client := rpc.New(cfg.API, provider, rpcOpts...)

	resolver, err := access.NewResolver(cfg.API.UserLookup, client, resolverLog)
	if err != nil {
		return nil, fmt.Errorf("building user resolver: %w", err)
	}

	transport := o.transport
	if transport == nil {
		transport, err = newTransport(cfg, logger.With("component", "channel"))
		if err != nil {
			return nil, err
		}
	}

	events := channel.NewManager(cfg.Channel, transport, channel.WithLogger(logger.With("component", "channel")))
	events.SetOnWarning(func(err error) {
		logger.Warn("event channel warning", "error", err)
		if o.onWarning != nil {
			o.onWarning(err)
		}
	})

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Session:  provider,
		API:      client,
		Events:   events,
		resolver: resolver,
	}
	a.unbind = events.BindSession(provider)

	logger.Debug("app initialised",
		"base_url", cfg.API.BaseURL,
		"transport", transportName(cfg),
		"user_lookup", cfg.API.UserLookup,
	)
	return a, nil
}

func newTransport(cfg *config.Config, logger *logging.Logger) (channel.Transport, error) {
	switch transportName(cfg) {
	case config.TransportWebSocket:
		return channel.NewWebSocketTransport(cfg.ChannelURL(), cfg.Channel, logger), nil
	case config.TransportMQTT:
		return channel.NewMQTTTransport(cfg.MQTT, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Channel.Transport)
	}
}

func transportName(cfg *config.Config) string {
	if cfg.Channel.Transport == "" {
		return config.TransportWebSocket
	}
	return cfg.Channel.Transport
}

// ============================================================================
// Session
// ============================================================================

// SignIn authenticates with the backend and stores the session.
func (a *App) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	s, err := a.Session.SignIn(ctx, a.API, email, password)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("signed in", "user_id", s.User.ID)
	return s, nil
}

// Register creates an account and signs in with it.
func (a *App) Register(ctx context.Context, in session.RegisterInput) (*session.Session, error) {
	s, err := a.Session.Register(ctx, a.API, a.API, in)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("registered", "user_id", s.User.ID)
	return s, nil
}

// Resume restores a session from a token issued earlier.
func (a *App) Resume(token string) (*session.Session, error) {
	return a.Session.Resume(token)
}

// SignOut clears the session. The event channel closes with it.
func (a *App) SignOut() {
	a.Session.SignOut()
}

// ============================================================================
// Views
// ============================================================================

// LockList creates a list view over the user's locks.
func (a *App) LockList(opts ...locks.Option) *locks.ListView {
	return locks.NewListView(a.API, a.Events, a.Session, a.lockOptions(opts)...)
}

// LockDetail creates a detail view for a single lock.
func (a *App) LockDetail(opts ...locks.Option) *locks.DetailView {
	return locks.NewDetailView(a.API, a.Events, a.Session, a.lockOptions(opts)...)
}

func (a *App) lockOptions(opts []locks.Option) []locks.Option {
	return append([]locks.Option{locks.WithLogger(a.Logger.With("component", "locks"))}, opts...)
}

// Access creates the access list of lockID.
func (a *App) Access(lockID int64, opts ...access.Option) *access.View {
	base := []access.Option{access.WithLogger(a.Logger.With("component", "access", "lock_id", lockID))}
	return access.NewView(lockID, a.API, a.resolver, append(base, opts...)...)
}

// CreateLock adds a lock owned by the signed-in user.
func (a *App) CreateLock(ctx context.Context, name, location string) (rpc.Lock, error) {
	return locks.CreateLock(ctx, a.API, name, location)
}

// Close disconnects the event channel and detaches it from the session.
// It is safe to call more than once.
func (a *App) Close() {
	if a.unbind != nil {
		a.unbind()
		a.unbind = nil
	}
	a.Events.Disconnect()
}
