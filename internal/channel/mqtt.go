package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/nerrad567/elock-client/internal/infrastructure/config"
	"github.com/nerrad567/elock-client/internal/infrastructure/mqtt"
	"github.com/nerrad567/elock-client/internal/session"
)

// mqttEventBufferSize is the inbound event buffer per MQTT link.
const mqttEventBufferSize = 256

// MQTTTransport delivers events through an MQTT broker. The session token
// is the broker password and its subject the username. Room joins map to
// subscriptions on elock/door-locks/{id}/+ and are announced on the
// client's membership topic.
type MQTTTransport struct {
	cfg    config.MQTTConfig
	logger Logger
}

// NewMQTTTransport creates a brokered transport.
func NewMQTTTransport(cfg config.MQTTConfig, logger Logger) *MQTTTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTTransport{cfg: cfg, logger: logger}
}

// Dial connects to the broker and subscribes to the user's own events when
// the token names a subject.
func (t *MQTTTransport) Dial(ctx context.Context, token string) (Link, error) {
	claims, err := session.ParseClaims(token)
	if err != nil {
		return nil, fmt.Errorf("reading token claims: %w", err)
	}

	client, err := mqtt.Connect(ctx, t.cfg, mqtt.Credentials{
		Username: claims.Subject,
		Password: token,
	})
	if err != nil {
		return nil, err
	}
	client.SetLogger(t.logger)

	l := &mqttLink{
		client: client,
		qos:    client.QoS(),
		logger: t.logger,
		events: make(chan Event, mqttEventBufferSize),
		done:   make(chan struct{}),
	}
	client.SetOnDisconnect(func(err error) {
		l.finish(fmt.Errorf("broker connection lost: %w", err))
	})

	if claims.Subject != "" {
		if err := client.Subscribe(mqtt.Topics{}.UserEvents(claims.Subject), l.qos, l.handle); err != nil {
			client.Close() //nolint:errcheck // dial already failed
			return nil, err
		}
	}

	return l, nil
}

// mqttLink adapts an mqtt.Client to Link.
type mqttLink struct {
	client *mqtt.Client
	qos    byte
	logger Logger

	events chan Event

	done     chan struct{}
	doneOnce sync.Once
	mu       sync.Mutex
	err      error
}

func (l *mqttLink) Events() <-chan Event  { return l.events }
func (l *mqttLink) Done() <-chan struct{} { return l.done }

func (l *mqttLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *mqttLink) Join(lockID int64) error {
	if err := l.client.Subscribe(mqtt.Topics{}.LockEvents(lockID), l.qos, l.handle); err != nil {
		return err
	}
	l.announce(FrameJoinLock, lockID)
	return nil
}

func (l *mqttLink) Leave(lockID int64) error {
	if err := l.client.Unsubscribe(mqtt.Topics{}.LockEvents(lockID)); err != nil {
		return err
	}
	l.announce(FrameLeaveLock, lockID)
	return nil
}

func (l *mqttLink) Close() error {
	l.finish(nil)
	return l.client.Close()
}

// announce publishes a membership change for servers that track rooms.
func (l *mqttLink) announce(action string, lockID int64) {
	payload, err := json.Marshal(RoomPayload{LockID: lockID})
	if err != nil {
		return
	}
	topic := mqtt.Topics{}.Membership(l.client.ClientID(), action)
	if err := l.client.PublishDefault(topic, payload); err != nil {
		l.logger.Debug("membership announcement failed", "action", action, "lock_id", lockID, "error", err)
	}
}

// handle turns a broker message into an Event. The topic's lock id fills in
// a payload that omits one.
func (l *mqttLink) handle(topic string, payload []byte) error {
	kind, lockID, ok := mqtt.ParseEventTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	if lockID != 0 && len(payload) == 0 {
		payload = []byte(`{"id":` + strconv.FormatInt(lockID, 10) + `}`)
	}

	select {
	case l.events <- Event{Kind: kind, Payload: payload}:
	case <-l.done:
	}
	return nil
}

func (l *mqttLink) finish(err error) {
	l.doneOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}
