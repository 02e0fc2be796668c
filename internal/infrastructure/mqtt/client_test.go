package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/elock-client/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration pointing at a local broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "elock-test",
		},
		QoS: 1,
	}
}

// offlineClient returns a Client that was never connected.
func offlineClient() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

// recordingLogger captures warn/error calls.
type recordingLogger struct {
	mu     sync.Mutex
	debugs []string
	errors []string
	warns  []string
}

func (l *recordingLogger) Debug(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugs = append(l.debugs, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	_, err := Connect(context.Background(), cfg, Credentials{})
	if err == nil {
		t.Fatal("Connect() expected error for refused broker")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Host = "10.255.255.1" // unroutable, dial hangs until ctx ends

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, cfg, Credentials{})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if offlineClient().IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestPublishValidation(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{name: "empty topic", topic: "", qos: 1, want: ErrInvalidTopic},
		{name: "invalid qos", topic: "elock/x", qos: 3, want: ErrInvalidQoS},
		{name: "oversized payload", topic: "elock/x", qos: 1, payload: make([]byte, maxPayloadSize+1), want: ErrPublishFailed},
		{name: "disconnected", topic: "elock/x", qos: 1, payload: []byte(`{}`), want: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := offlineClient().Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{name: "empty topic", topic: "", qos: 1, handler: noop, want: ErrInvalidTopic},
		{name: "invalid qos", topic: "elock/#", qos: 5, handler: noop, want: ErrInvalidQoS},
		{name: "nil handler", topic: "elock/#", qos: 1, handler: nil, want: ErrSubscribeFailed},
		{name: "disconnected", topic: "elock/#", qos: 1, handler: noop, want: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := offlineClient()
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
			if c.SubscriptionCount() != 0 {
				t.Errorf("SubscriptionCount() = %d after failed subscribe, want 0", c.SubscriptionCount())
			}
		})
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	if err := offlineClient().Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := offlineClient().Unsubscribe("elock/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestDispatch_RecoversPanics(t *testing.T) {
	c := offlineClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "elock/door-locks/1/x", nil)

	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %d, want 1", len(logger.errors))
	}
}

func TestDispatch_LogsHandlerError(t *testing.T) {
	c := offlineClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { return fmt.Errorf("bad payload") }, "elock/door-locks/1/x", nil)

	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %d, want 1", len(logger.warns))
	}
}

func TestHandleDisconnect_InvokesCallback(t *testing.T) {
	c := offlineClient()
	c.connected = true

	var got error
	c.SetOnDisconnect(func(err error) { got = err })
	c.handleDisconnect(errors.New("link lost"))

	if got == nil || got.Error() != "link lost" {
		t.Errorf("callback error = %v, want link lost", got)
	}
	if c.connected {
		t.Error("connected still true after handleDisconnect")
	}
}

func TestHandleDisconnect_Logs(t *testing.T) {
	c := offlineClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.handleDisconnect(errors.New("link lost"))

	if len(logger.debugs) != 1 {
		t.Errorf("logged debug lines = %d, want 1", len(logger.debugs))
	}
	if c.ClientID() != "" {
		t.Errorf("ClientID() = %q for a client never dialled, want empty", c.ClientID())
	}
}

// =============================================================================
// Options and Topic Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg, Credentials{Username: "jwt", Password: "token-abc"})

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if opts.Username != "jwt" || opts.Password != "token-abc" {
		t.Errorf("credentials = %q/%q, want jwt/token-abc", opts.Username, opts.Password)
	}
	if !strings.HasPrefix(opts.ClientID, "elock-test-") {
		t.Errorf("ClientID = %q, want elock-test- prefix", opts.ClientID)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil with TLS enabled")
	}
}

func TestSessionClientID_Unique(t *testing.T) {
	a := sessionClientID("elock")
	b := sessionClientID("elock")
	if a == b {
		t.Errorf("sessionClientID returned %q twice", a)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "lock event", got: topics.LockEvent(42, "door-lock-updated"), want: "elock/door-locks/42/door-lock-updated"},
		{name: "lock room", got: topics.LockEvents(42), want: "elock/door-locks/42/+"},
		{name: "user events", got: topics.UserEvents("7"), want: "elock/users/7/+"},
		{name: "membership", got: topics.Membership("c1", "join-lock"), want: "elock/clients/c1/join-lock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseEventTopic(t *testing.T) {
	tests := []struct {
		topic    string
		wantKind string
		wantLock int64
		wantOK   bool
	}{
		{topic: "elock/door-locks/42/door-lock-updated", wantKind: "door-lock-updated", wantLock: 42, wantOK: true},
		{topic: "elock/users/7/door-lock-removed", wantKind: "door-lock-removed", wantLock: 0, wantOK: true},
		{topic: "elock/door-locks/abc/door-lock-updated", wantOK: false},
		{topic: "building/state/knx/1", wantOK: false},
		{topic: "elock/door-locks/42/", wantOK: false},
		{topic: "elock/door-locks/42", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, lock, ok := ParseEventTopic(tt.topic)
			if ok != tt.wantOK || kind != tt.wantKind || lock != tt.wantLock {
				t.Errorf("ParseEventTopic(%q) = (%q, %d, %v), want (%q, %d, %v)",
					tt.topic, kind, lock, ok, tt.wantKind, tt.wantLock, tt.wantOK)
			}
		})
	}
}
