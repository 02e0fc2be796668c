// Package mqtt provides MQTT client connectivity for the elock event channel.
//
// This package manages:
//   - Connection to an MQTT broker authenticated with the session token
//   - Topic subscriptions with wildcard support
//   - Message publishing for room membership announcements
//   - Connection-lost notification for the channel manager
//
// # Architecture
//
// Deployments that fan lock events out through a broker instead of the
// websocket gateway use MQTT as the push transport:
//
//	elock backend → MQTT Broker → elock client (channel.MQTTTransport)
//
// Reconnection is deliberately NOT handled here. paho's auto-reconnect is
// disabled so that the channel manager can apply its bounded attempt policy
// and re-establish rooms itself.
//
// # Security Considerations
//
//   - The session token is sent as the MQTT password; use TLS outside a LAN
//   - The broker ACL decides which lock topics a token may subscribe to
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.Credentials{Username: "jwt", Password: token})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.LockEvents(42), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
