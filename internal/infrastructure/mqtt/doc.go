// Package mqtt provides the IoT Hub MQTT transport for Gray Logic devices.
//
// This package manages:
//   - TLS connection to IoT Hub over MQTT (port 8883) or websockets (port 443)
//   - SAS-token and X.509 client certificate authentication
//   - QoS 1 publishing and subscriptions acknowledged asynchronously
//   - Connection-lost detection reported to the pipeline
//
// # Architecture
//
// Transport implements pipeline.Transport. The pipeline's transport stage
// owns the session: it decides when to connect, reconnect and disconnect,
// and paho's own auto-reconnect is switched off.
//
//	Pipeline → Transport (paho) ↔ IoT Hub
//
// Every transition and acknowledgement is awaited on its own goroutine and
// reported through a hook or done callback; none of the Transport methods
// block on the network.
//
// # Security Considerations
//
//   - TLS 1.2 is the minimum version
//   - The CA bundle from the auth provider replaces the system pool when set
//   - SAS tokens are read through paho's credentials provider, so a renewed
//     token is used by the next connect without rebuilding the client
//
// # Usage
//
//	p, err := pipeline.New(provider, pipeline.Options{
//	    TransportFactory: mqtt.Factory(mqtt.Options{Websockets: cfg.Websockets}),
//	})
package mqtt
