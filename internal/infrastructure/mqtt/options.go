package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for CONNACK.
	defaultConnectTimeout = 30 * time.Second

	// defaultOperationTimeout is the maximum time to wait for PUBACK, SUBACK or UNSUBACK.
	defaultOperationTimeout = 30 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval IoT Hub expects.
	defaultKeepAlive = 60 * time.Second

	// qos is used for every publish and subscription. IoT Hub does not
	// support QoS 2.
	qos = 1

	// mqttPort and websocketPort are the IoT Hub endpoints.
	mqttPort      = 8883
	websocketPort = 443

	// websocketPath is the IoT Hub MQTT-over-websocket endpoint.
	websocketPath = "/$iothub/websocket"

	// protocolVersion311 selects MQTT 3.1.1.
	protocolVersion311 = 4

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options tunes the transport. The zero value dials MQTT over TLS on port
// 8883.
type Options struct {
	// Websockets dials wss://{host}:443/$iothub/websocket instead of ssl://{host}:8883.
	Websockets bool

	// BrokerURL overrides the derived endpoint, for local brokers.
	BrokerURL string

	// KeepAlive is the MQTT keepalive interval.
	KeepAlive time.Duration

	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration

	// OperationTimeout bounds each publish, subscribe and unsubscribe.
	OperationTimeout time.Duration

	// Logger receives warnings and errors. Optional.
	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = defaultOperationTimeout
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// brokerURL returns the endpoint dialled for cfg.
//
// Examples:
//
//	ssl://hub.azure-devices.net:8883
//	wss://hub.azure-devices.net:443/$iothub/websocket
func brokerURL(cfg pipeline.TransportConfig, opts Options) string {
	if opts.BrokerURL != "" {
		return opts.BrokerURL
	}
	if opts.Websockets {
		return fmt.Sprintf("wss://%s:%d%s", cfg.Hostname, websocketPort, websocketPath)
	}
	return fmt.Sprintf("ssl://%s:%d", cfg.Hostname, mqttPort)
}

// buildTLSConfig trusts cfg.CACert (or the system pool when empty) and
// presents cfg.ClientCert when set.
func buildTLSConfig(cfg pipeline.TransportConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: cfg.Hostname,
	}

	if cfg.CACert != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(cfg.CACert)) {
			return nil, ErrInvalidCACert
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.ClientCert != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.ClientCert}
	}

	return tlsConfig, nil
}

// buildClientOptions creates paho MQTT options for an IoT Hub session.
//
// This configures:
//   - Broker URL (ssl:// or wss:// per Options.Websockets)
//   - Client ID and username as IoT Hub requires them
//   - MQTT 3.1.1 with a persistent session
//   - No automatic reconnection; the pipeline decides when to reconnect
//   - TLS with the configured trust roots and client certificate
//
// The password is supplied per connection attempt through the credentials
// provider, so renewed SAS tokens take effect on the next connect.
func buildClientOptions(cfg pipeline.TransportConfig, opts Options) (*pahomqtt.ClientOptions, error) {
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	po := pahomqtt.NewClientOptions()
	po.AddBroker(brokerURL(cfg, opts))
	po.SetClientID(cfg.ClientID)
	po.SetUsername(cfg.Username)
	po.SetProtocolVersion(protocolVersion311)

	// IoT Hub keeps cloud-to-device messages for persistent sessions.
	po.SetCleanSession(false)

	po.SetAutoReconnect(false)
	po.SetConnectRetry(false)
	po.SetConnectTimeout(opts.ConnectTimeout)
	po.SetKeepAlive(opts.KeepAlive)
	po.SetTLSConfig(tlsConfig)

	return po, nil
}
