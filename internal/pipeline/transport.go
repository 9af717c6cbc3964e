package pipeline

import "crypto/tls"

// Transport is the MQTT session the transport stage drives.
//
// Connect, Reconnect and Disconnect start the transition and report the
// outcome through the registered hooks. Publish, Subscribe and Unsubscribe
// report through done. A method that returns an error must not also report
// through a hook or done.
//
// Hooks and done callbacks may be called from any goroutine.
type Transport interface {
	Connect(password string) error
	Reconnect(password string) error
	Disconnect() error

	Publish(topic string, payload []byte, done func(error)) error
	Subscribe(topic string, done func(error)) error
	Unsubscribe(topic string, done func(error)) error

	SetOnConnected(fn func())
	SetOnConnectionFailure(fn func(cause error))
	SetOnDisconnected(fn func(cause error))
	SetOnMessageReceived(fn func(topic string, payload []byte))
}

// TransportConfig carries the protocol-level connection parameters.
type TransportConfig struct {
	ClientID   string
	Hostname   string
	Username   string
	CACert     string
	ClientCert *tls.Certificate
}

// TransportFactory constructs a transport for cfg.
type TransportFactory func(cfg TransportConfig) (Transport, error)
