package mqtt

import (
	"fmt"
)

// Maximum payload size for IoT Hub device-to-cloud messages (256KB).
const maxPayloadSize = 256 << 10

// Publish sends payload to topic at QoS 1. done is called with the outcome
// once the broker acknowledges the message or the operation times out.
//
// Returns:
//   - error: non-nil when the publish could not be started; done is not called
func (t *Transport) Publish(topic string, payload []byte, done func(error)) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	// Check connection state
	if !t.IsConnected() {
		return ErrNotConnected
	}

	t.await(t.session.Publish(topic, payload), ErrPublishFailed, done)
	return nil
}
