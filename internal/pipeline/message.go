package pipeline

import "encoding/json"

// Message is a device-to-cloud or cloud-to-device message.
//
// Data is carried opaquely; the pipeline only encodes the system and custom
// properties into the MQTT topic.
type Message struct {
	Data []byte

	// System properties.
	MessageID       string
	CorrelationID   string
	UserID          string
	ContentType     string
	ContentEncoding string

	// OutputName is set on module output messages.
	OutputName string

	// InputName is set on messages received on a module input.
	InputName string

	// CustomProperties are application properties sent alongside the payload.
	CustomProperties map[string]string
}

// NewMessage creates a message carrying data.
func NewMessage(data []byte) *Message {
	return &Message{
		Data:             data,
		CustomProperties: make(map[string]string),
	}
}

// MethodRequest is a direct method invocation received from the service.
type MethodRequest struct {
	RequestID string
	Name      string
	Payload   json.RawMessage
}

// MethodResponse answers a MethodRequest.
type MethodResponse struct {
	RequestID string
	Status    int
	Payload   any
}

// NewMethodResponse builds a response for req.
func NewMethodResponse(req *MethodRequest, status int, payload any) *MethodResponse {
	return &MethodResponse{
		RequestID: req.RequestID,
		Status:    status,
		Payload:   payload,
	}
}

// TwinPatch is a partial update of twin properties.
type TwinPatch map[string]any

// Twin is the full device twin document.
type Twin struct {
	Desired  map[string]any `json:"desired"`
	Reported map[string]any `json:"reported"`
}
