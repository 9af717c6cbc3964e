package pipeline

import (
	"crypto/tls"
)

// Callback is invoked exactly once when an operation completes.
// err is nil on success.
type Callback func(op Operation, err error)

// Operation is a downward-flowing intent with a one-shot completion.
//
// The set of operations is closed: every implementation lives in this package
// and stages switch over the concrete types. Anything a stage does not
// recognise is forwarded unchanged.
type Operation interface {
	// Name identifies the operation kind for logs and metrics.
	Name() string

	state() *opState
}

// opState is the completion slot shared by all operations.
type opState struct {
	callback  Callback
	err       error
	completed bool
}

func (s *opState) state() *opState { return s }

// Err returns the completion error (nil until completed or on success).
func (s *opState) Err() error { return s.err }

// Completed reports whether the operation has completed.
func (s *opState) Completed() bool { return s.completed }

func newOpState(cb Callback) opState {
	return opState{callback: cb}
}

// =============================================================================
// Connection Operations
// =============================================================================

// ConnectOp opens the session.
type ConnectOp struct{ opState }

// DisconnectOp closes the session.
type DisconnectOp struct{ opState }

// ReconnectOp drops and re-opens the session, typically with a new credential.
type ReconnectOp struct{ opState }

func (*ConnectOp) Name() string    { return "Connect" }
func (*DisconnectOp) Name() string { return "Disconnect" }
func (*ReconnectOp) Name() string  { return "Reconnect" }

// isConnectionOp reports whether op belongs to the connection family.
func isConnectionOp(op Operation) bool {
	switch op.(type) {
	case *ConnectOp, *DisconnectOp, *ReconnectOp:
		return true
	default:
		return false
	}
}

// =============================================================================
// Configuration Operations
// =============================================================================

// SetAuthProviderOp configures the pipeline with shared-secret credentials.
type SetAuthProviderOp struct {
	opState
	Provider SASTokenProvider
}

// SetX509AuthProviderOp configures the pipeline with certificate credentials.
type SetX509AuthProviderOp struct {
	opState
	Provider X509Provider
}

// SetConnectionArgsOp carries hub-level connection parameters derived from
// the auth provider.
type SetConnectionArgsOp struct {
	opState
	DeviceID        string
	ModuleID        string
	Hostname        string
	GatewayHostname string
	CACert          string
	SASToken        string
	ClientCert      *tls.Certificate
}

// SetTransportConnectionArgsOp carries the protocol-level parameters used to
// construct the transport.
type SetTransportConnectionArgsOp struct {
	opState
	ClientID   string
	Hostname   string
	Username   string
	CACert     string
	SASToken   string
	ClientCert *tls.Certificate
}

// UpdateSASTokenOp replaces the credential used for subsequent connects.
type UpdateSASTokenOp struct {
	opState
	SASToken string
}

func (*SetAuthProviderOp) Name() string            { return "SetAuthProvider" }
func (*SetX509AuthProviderOp) Name() string        { return "SetX509AuthProvider" }
func (*SetConnectionArgsOp) Name() string          { return "SetConnectionArgs" }
func (*SetTransportConnectionArgsOp) Name() string { return "SetTransportConnectionArgs" }
func (*UpdateSASTokenOp) Name() string             { return "UpdateSASToken" }

// =============================================================================
// Device Operations
// =============================================================================

// SendTelemetryOp sends a device-to-cloud message.
type SendTelemetryOp struct {
	opState
	Message *Message
}

// SendOutputMessageOp sends a message on a named module output.
type SendOutputMessageOp struct {
	opState
	Message    *Message
	OutputName string
}

// SendMethodResponseOp answers a direct method request.
type SendMethodResponseOp struct {
	opState
	Response *MethodResponse
}

// GetTwinOp fetches the full twin. Twin is set on success.
type GetTwinOp struct {
	opState
	Twin *Twin
}

// PatchTwinReportedPropertiesOp updates reported properties.
type PatchTwinReportedPropertiesOp struct {
	opState
	Patch TwinPatch
}

// EnableFeatureOp subscribes to the topics backing a feature.
type EnableFeatureOp struct {
	opState
	Feature Feature
}

// DisableFeatureOp unsubscribes from the topics backing a feature.
type DisableFeatureOp struct {
	opState
	Feature Feature
}

func (*SendTelemetryOp) Name() string               { return "SendTelemetry" }
func (*SendOutputMessageOp) Name() string           { return "SendOutputMessage" }
func (*SendMethodResponseOp) Name() string          { return "SendMethodResponse" }
func (*GetTwinOp) Name() string                     { return "GetTwin" }
func (*PatchTwinReportedPropertiesOp) Name() string { return "PatchTwinReportedProperties" }
func (*EnableFeatureOp) Name() string               { return "EnableFeature" }
func (*DisableFeatureOp) Name() string              { return "DisableFeature" }

// =============================================================================
// Request/Response Operations
// =============================================================================

// SendRequestAndWaitOp is a correlated request. The coordinator stage assigns
// the request id and completes the operation when the matching response
// arrives. StatusCode and Response are set on success.
type SendRequestAndWaitOp struct {
	opState
	RequestType      string
	Method           string
	ResourceLocation string
	Body             []byte

	StatusCode int
	Response   []byte
}

// SendRequestOp publishes a request that has already been stamped with a
// request id. It completes when the request is acknowledged by the transport,
// not when the response arrives.
type SendRequestOp struct {
	opState
	RequestType      string
	Method           string
	ResourceLocation string
	Body             []byte
	RequestID        string
}

func (*SendRequestAndWaitOp) Name() string { return "SendRequestAndWait" }
func (*SendRequestOp) Name() string        { return "SendRequest" }

// =============================================================================
// Transport Operations
// =============================================================================

// PublishOp publishes payload on topic.
type PublishOp struct {
	opState
	Topic   string
	Payload []byte
}

// SubscribeOp subscribes to topic.
type SubscribeOp struct {
	opState
	Topic string
}

// UnsubscribeOp unsubscribes from topic.
type UnsubscribeOp struct {
	opState
	Topic string
}

func (*PublishOp) Name() string     { return "Publish" }
func (*SubscribeOp) Name() string   { return "Subscribe" }
func (*UnsubscribeOp) Name() string { return "Unsubscribe" }

// needsConnection reports whether op can only run on an open session.
func needsConnection(op Operation) bool {
	switch op.(type) {
	case *PublishOp, *SubscribeOp, *UnsubscribeOp:
		return true
	default:
		return false
	}
}
