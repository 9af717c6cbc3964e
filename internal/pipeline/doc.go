// Package pipeline implements the protocol-handling core of the Gray Logic
// device client.
//
// The pipeline turns high-level intents (connect, send telemetry, fetch the
// device twin, answer a direct method, enable a feature) into MQTT operations
// and routes inbound MQTT traffic back up as typed events.
//
// # Architecture
//
// The pipeline is a fixed chain of stages built once at construction:
//
//	Root → UseAuthProvider → HandleTwinOperations → CoordinateRequestAndResponse
//	     → IoTHubMQTTConverter → EnsureConnection → SerializeConnectOps → MQTTTransport
//
// Operations flow strictly downward from the root to the transport stage.
// Events and connection-state notifications flow strictly upward from the
// transport stage to the root, which hands them to the registered handlers.
// A stage that does not recognise an operation or event forwards it unchanged.
//
// # Concurrency
//
// All stage state is owned by a single worker goroutine. Operation
// submission and transport callbacks are marshalled onto that worker through
// an unbounded task queue, so stages never lock. Handlers and completion
// callbacks supplied by callers run on a second worker (the callback worker)
// so caller code never blocks the pipeline.
//
// The pipeline never blocks its own worker. Callers that want to wait for an
// operation use the async package or their own channel.
//
// # Errors
//
// Failures reach callers only through the completion of the operation they
// submitted. Conditions that cannot be attributed to any operation (a
// connection failure with nothing pending, an unexpected disconnect) go to
// the injected FailureSink.
//
// # Usage
//
//	p, err := pipeline.New(provider, pipeline.Options{
//	    TransportFactory: mqtt.Factory(mqtt.Options{}),
//	    Logger:           log,
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	p.Connect(func(err error) {
//	    log.Info("connected", "error", err)
//	})
package pipeline
