package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the base for all elock topics.
//
//	elock/door-locks/{lockId}/{event}      lock room events
//	elock/users/{userId}/{event}           user-wide events
//	elock/clients/{clientId}/{membership}  room membership announcements
const TopicPrefix = "elock"

// Topics provides builders for elock MQTT topics.
type Topics struct{}

// LockEvent returns the topic for one event kind of one lock.
//
// Example: elock/door-locks/42/door-lock-updated
func (Topics) LockEvent(lockID int64, kind string) string {
	return fmt.Sprintf("%s/door-locks/%d/%s", TopicPrefix, lockID, kind)
}

// LockEvents returns the wildcard covering every event of one lock (its room).
//
// Example: elock/door-locks/42/+
func (Topics) LockEvents(lockID int64) string {
	return fmt.Sprintf("%s/door-locks/%d/+", TopicPrefix, lockID)
}

// UserEvents returns the wildcard covering events addressed to a user.
//
// Example: elock/users/7/+
func (Topics) UserEvents(userID string) string {
	return fmt.Sprintf("%s/users/%s/+", TopicPrefix, userID)
}

// Membership returns the topic a client announces room joins/leaves on.
//
// Example: elock/clients/elock-client-1a2b3c4d/join-lock
func (Topics) Membership(clientID, action string) string {
	return fmt.Sprintf("%s/clients/%s/%s", TopicPrefix, clientID, action)
}

// ParseEventTopic extracts the event kind (last segment) and, for lock
// topics, the lock id. ok is false for topics outside the elock tree.
func ParseEventTopic(topic string) (kind string, lockID int64, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[3] == "" {
		return "", 0, false
	}
	switch parts[1] {
	case "door-locks":
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return "", 0, false
		}
		return parts[3], id, true
	case "users":
		return parts[3], 0, true
	default:
		return "", 0, false
	}
}

// ClientID returns the per-session client identifier the broker sees.
// It is empty for a client that was never dialled.
func (c *Client) ClientID() string {
	if c.options == nil {
		return ""
	}
	return c.options.ClientID
}
