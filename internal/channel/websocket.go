package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/elock-client/internal/infrastructure/config"
)

// Frame types of the websocket envelope.
const (
	FrameAuth      = "auth"
	FrameJoinLock  = "join-lock"
	FrameLeaveLock = "leave-lock"
	FrameEvent     = "event"
	FrameError     = "error"
	FramePing      = "ping"
	FramePong      = "pong"
)

const (
	// wsSendBufferSize is the outbound frame buffer per link.
	wsSendBufferSize = 64

	// wsEventBufferSize is the inbound event buffer per link.
	wsEventBufferSize = 256

	// wsHandshakeTimeout bounds the HTTP upgrade.
	wsHandshakeTimeout = 10 * time.Second

	// wsWriteWait bounds a single frame write when no pong timeout is configured.
	wsWriteWait = 10 * time.Second
)

// errLinkStopped ends the pumps after a local Close.
var errLinkStopped = errors.New("channel: link stopped")

// Frame is the JSON envelope exchanged over the websocket.
type Frame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload is the payload of the first client frame.
type AuthPayload struct {
	Token string `json:"token"`
}

// RoomPayload is the payload of join-lock and leave-lock frames.
type RoomPayload struct {
	LockID int64 `json:"lockId"`
}

// NewFrame builds a Frame with payload encoded as JSON.
func NewFrame(frameType string, payload any) (Frame, error) {
	f := Frame{Type: frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("encoding %s payload: %w", frameType, err)
		}
		f.Payload = data
	}
	return f, nil
}

// WebSocketTransport dials the backend's websocket endpoint.
type WebSocketTransport struct {
	url    string
	cfg    config.ChannelConfig
	dialer *websocket.Dialer
	logger Logger
}

// NewWebSocketTransport creates a transport for url (ws:// or wss://).
func NewWebSocketTransport(url string, cfg config.ChannelConfig, logger Logger) *WebSocketTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &WebSocketTransport{
		url: url,
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: wsHandshakeTimeout,
		},
		logger: logger,
	}
}

// Dial opens a websocket, presenting token both as a bearer header and in
// an auth frame.
func (t *WebSocketTransport) Dial(ctx context.Context, token string) (Link, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
		}
		return nil, fmt.Errorf("dialing %s: %w", t.url, err)
	}

	l := newWSLink(conn, t.cfg, t.logger)
	if err := l.send(FrameAuth, AuthPayload{Token: token}); err != nil {
		conn.Close()
		return nil, err
	}
	go l.run()

	return l, nil
}

// wsLink is one websocket session with a read and a write pump.
type wsLink struct {
	conn   *websocket.Conn
	cfg    config.ChannelConfig
	logger Logger

	out    chan []byte
	events chan Event

	stop     chan struct{}
	stopOnce sync.Once

	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newWSLink(conn *websocket.Conn, cfg config.ChannelConfig, logger Logger) *wsLink {
	return &wsLink{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		out:    make(chan []byte, wsSendBufferSize),
		events: make(chan Event, wsEventBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *wsLink) Events() <-chan Event  { return l.events }
func (l *wsLink) Done() <-chan struct{} { return l.done }

func (l *wsLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *wsLink) Join(lockID int64) error {
	return l.send(FrameJoinLock, RoomPayload{LockID: lockID})
}

func (l *wsLink) Leave(lockID int64) error {
	return l.send(FrameLeaveLock, RoomPayload{LockID: lockID})
}

// Close stops both pumps. The link's Err stays nil.
func (l *wsLink) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *wsLink) send(frameType string, payload any) error {
	f, err := NewFrame(frameType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frameType, err)
	}

	select {
	case <-l.stop:
		return ErrLinkClosed
	case <-l.done:
		return ErrLinkClosed
	default:
	}

	select {
	case l.out <- data:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", ErrLinkClosed)
	}
}

// run drives the pumps until either fails or Close is called.
func (l *wsLink) run() {
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return l.readPump(ctx) })
	g.Go(func() error { return l.writePump(ctx) })
	err := g.Wait()

	select {
	case <-l.stop:
		err = nil
	default:
	}

	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	close(l.done)
}

func (l *wsLink) readDeadline() time.Time {
	return time.Now().Add(l.cfg.GetPingInterval() + l.cfg.GetPongTimeout())
}

// readPump decodes server frames into events.
func (l *wsLink) readPump(ctx context.Context) error {
	defer l.conn.Close()

	if l.cfg.MaxMessageSize > 0 {
		l.conn.SetReadLimit(int64(l.cfg.MaxMessageSize))
	}
	keepalive := l.cfg.PingInterval > 0
	if keepalive {
		//nolint:errcheck // Best-effort deadline on connection setup
		l.conn.SetReadDeadline(l.readDeadline())
		l.conn.SetPongHandler(func(string) error {
			return l.conn.SetReadDeadline(l.readDeadline())
		})
	}

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("server closed connection: %w", err)
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		if keepalive {
			//nolint:errcheck // Best-effort deadline reset
			l.conn.SetReadDeadline(l.readDeadline())
		}

		ev, ok := l.decode(message)
		if !ok {
			continue
		}
		select {
		case l.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// decode turns a server frame into an Event. ok is false for frames that
// carry no event.
func (l *wsLink) decode(message []byte) (Event, bool) {
	var f Frame
	if err := json.Unmarshal(message, &f); err != nil {
		l.logger.Debug("dropping malformed frame", "error", err)
		return Event{}, false
	}

	switch f.Type {
	case FrameEvent:
		if f.EventType == "" {
			l.logger.Debug("dropping event frame without event_type")
			return Event{}, false
		}
		return Event{Kind: f.EventType, Payload: f.Payload}, true
	case FrameError:
		l.logger.Warn("event channel server error", "payload", string(f.Payload))
	case FramePing, FramePong:
	default:
		l.logger.Debug("ignoring frame", "type", f.Type)
	}
	return Event{}, false
}

// writePump writes queued frames and keepalive pings.
func (l *wsLink) writePump(ctx context.Context) error {
	var tick <-chan time.Time
	if l.cfg.PingInterval > 0 {
		ticker := time.NewTicker(l.cfg.GetPingInterval())
		defer ticker.Stop()
		tick = ticker.C
	}
	defer l.conn.Close()

	writeWait := l.cfg.GetPongTimeout()
	if writeWait <= 0 {
		writeWait = wsWriteWait
	}

	for {
		select {
		case <-l.stop:
			//nolint:errcheck // Best-effort close message
			l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return errLinkStopped
		case <-ctx.Done():
			return nil
		case message := <-l.out:
			//nolint:errcheck // Best-effort deadline; write error caught below
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
		case <-tick:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("writing ping: %w", err)
			}
		}
	}
}
