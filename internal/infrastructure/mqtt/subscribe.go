package mqtt

import (
	"fmt"
)

// Subscribe subscribes to topic at QoS 1. Messages on it are delivered to
// the message-received hook. done is called once the broker acknowledges.
//
// IoT Hub topics carry wildcards such as "devices/{id}/messages/devicebound/#".
func (t *Transport) Subscribe(topic string, done func(error)) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}

	// Check connection state
	if !t.IsConnected() {
		return ErrNotConnected
	}

	t.await(t.session.Subscribe(topic), ErrSubscribeFailed, func(err error) {
		if err == nil {
			// Track only acknowledged subscriptions
			t.subMu.Lock()
			t.subscriptions[topic] = struct{}{}
			t.subMu.Unlock()
		}
		if done != nil {
			done(err)
		}
	})
	return nil
}

// Unsubscribe removes a subscription. done is called once the broker
// acknowledges. Messages already in flight may still be delivered.
func (t *Transport) Unsubscribe(topic string, done func(error)) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}

	// Check connection state
	if !t.IsConnected() {
		return ErrNotConnected
	}

	// Remove from tracking
	t.subMu.Lock()
	delete(t.subscriptions, topic)
	t.subMu.Unlock()

	t.await(t.session.Unsubscribe(topic), ErrUnsubscribeFailed, done)
	return nil
}

// SubscriptionCount returns the number of acknowledged subscriptions.
//
// This can be useful for monitoring and debugging.
func (t *Transport) SubscriptionCount() int {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	return len(t.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (t *Transport) HasSubscription(topic string) bool {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	_, exists := t.subscriptions[topic]
	return exists
}

// String describes the transport for logs.
func (t *Transport) String() string {
	return fmt.Sprintf("mqtt(%s@%s)", t.cfg.ClientID, t.cfg.Hostname)
}
