package pipeline

// Event is an upward-flowing occurrence produced by the transport stage or by
// a stage translating a transport message into something more specific.
type Event interface {
	Name() string

	event()
}

// IncomingMessageEvent is a raw MQTT message as delivered by the transport.
type IncomingMessageEvent struct {
	Topic   string
	Payload []byte
}

// C2DMessageEvent is a cloud-to-device message.
type C2DMessageEvent struct {
	Message *Message
}

// InputMessageEvent is a message delivered on a module input.
type InputMessageEvent struct {
	InputName string
	Message   *Message
}

// MethodRequestEvent is a direct method invocation.
type MethodRequestEvent struct {
	Request *MethodRequest
}

// TwinPatchEvent is a desired-properties patch pushed by the service.
type TwinPatchEvent struct {
	Patch TwinPatch
}

// ResponseEvent is the response to a correlated request.
type ResponseEvent struct {
	RequestID  string
	StatusCode int
	Body       []byte
}

func (*IncomingMessageEvent) Name() string { return "IncomingMessage" }
func (*C2DMessageEvent) Name() string      { return "C2DMessage" }
func (*InputMessageEvent) Name() string    { return "InputMessage" }
func (*MethodRequestEvent) Name() string   { return "MethodRequest" }
func (*TwinPatchEvent) Name() string       { return "TwinDesiredPropertiesPatch" }
func (*ResponseEvent) Name() string        { return "Response" }

func (*IncomingMessageEvent) event() {}
func (*C2DMessageEvent) event()      {}
func (*InputMessageEvent) event()    {}
func (*MethodRequestEvent) event()   {}
func (*TwinPatchEvent) event()       {}
func (*ResponseEvent) event()        {}
