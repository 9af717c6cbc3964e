package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultUserAgent identifies the client to IoT Hub when Options.UserAgent
// is empty.
const DefaultUserAgent = "graylogic-device"

// Options configures a Pipeline.
type Options struct {
	// TransportFactory builds the MQTT session. Required.
	TransportFactory TransportFactory

	// Logger receives structured pipeline logs. Defaults to a no-op logger.
	Logger Logger

	// FailureSink receives failures no caller can observe. Defaults to
	// logging them at error level.
	FailureSink FailureSink

	// Recorder observes operations, events and connection changes.
	Recorder Recorder

	// UserAgent is sent as DeviceClientType in the MQTT username.
	UserAgent string
}

// Handlers receive inbound data and connection notifications. They run on
// the callback worker, one at a time. A nil handler drops its events with a
// warning.
type Handlers struct {
	OnConnected     func()
	OnDisconnected  func()
	OnC2DMessage    func(msg *Message)
	OnInputMessage  func(inputName string, msg *Message)
	OnMethodRequest func(req *MethodRequest)
	OnTwinPatch     func(patch TwinPatch)
}

// Pipeline is the IoT Hub pipeline: a fixed stage chain behind a
// callback-style operation surface.
//
// Thread Safety: all methods are safe for concurrent use. Callbacks passed
// to operations and the registered Handlers run on the callback worker and
// must not call Close.
type Pipeline struct {
	root     *RootStage
	features *FeatureSet
	log      Logger
	recorder Recorder

	mu       sync.RWMutex
	handlers Handlers

	closeOnce sync.Once
}

// New builds the stage chain and configures it with provider. It blocks
// until the configuration has reached the transport stage; a failure there
// is returned and the pipeline is not usable.
func New(provider AuthProvider, opts Options) (*Pipeline, error) {
	if opts.TransportFactory == nil {
		return nil, errors.New("pipeline: transport factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.FailureSink == nil {
		opts.FailureSink = logSink{logger: opts.Logger}
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	root := newRootStage(opts.Logger, opts.FailureSink, opts.Recorder)
	link(root,
		newAuthStage(),
		newTwinStage(),
		newCoordinatorStage(),
		newConverterStage(opts.UserAgent),
		newEnsureConnectionStage(),
		newSerializeConnectOpsStage(),
		newTransportStage(opts.TransportFactory),
	)

	p := &Pipeline{
		root:     root,
		features: NewFeatureSet(),
		log:      opts.Logger,
		recorder: opts.Recorder,
	}
	root.SetOnEvent(p.dispatch)
	root.SetOnConnected(p.connected)
	root.SetOnDisconnected(p.disconnected)

	done := make(chan error, 1)
	op, err := authOpFor(provider, func(_ Operation, err error) { done <- err })
	if err != nil {
		root.close()
		return nil, err
	}
	root.submit(op)
	if err := <-done; err != nil {
		root.close()
		return nil, fmt.Errorf("configuring pipeline: %w", err)
	}

	opts.Logger.Info("pipeline configured",
		"device_id", provider.DeviceID(),
		"module_id", provider.ModuleID(),
		"hostname", provider.Hostname(),
	)
	return p, nil
}

// SetHandlers replaces the registered handlers.
func (p *Pipeline) SetHandlers(h Handlers) {
	p.mu.Lock()
	p.handlers = h
	p.mu.Unlock()
}

// Connected reports whether the session is open.
func (p *Pipeline) Connected() bool {
	return p.root.Connected()
}

// FeatureEnabled reports whether f has been enabled.
func (p *Pipeline) FeatureEnabled(f Feature) bool {
	return p.features.Enabled(f)
}

// Close stops the pipeline. Operations still in flight, and any submitted
// afterwards, fail with ErrPipelineClosed. Close does not disconnect the
// transport.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.root.close()
		p.log.Info("pipeline closed")
	})
}

// =============================================================================
// Operations
// =============================================================================

// Connect opens the session.
func (p *Pipeline) Connect(cb func(err error)) {
	p.submit(&ConnectOp{}, cb)
}

// Disconnect closes the session.
func (p *Pipeline) Disconnect(cb func(err error)) {
	p.submit(&DisconnectOp{}, cb)
}

// Reconnect drops and re-opens the session.
func (p *Pipeline) Reconnect(cb func(err error)) {
	p.submit(&ReconnectOp{}, cb)
}

// SendTelemetry sends a device-to-cloud message, connecting first if needed.
func (p *Pipeline) SendTelemetry(msg *Message, cb func(err error)) {
	p.submit(&SendTelemetryOp{Message: msg}, cb)
}

// SendOutputMessage sends msg on the named module output.
func (p *Pipeline) SendOutputMessage(msg *Message, outputName string, cb func(err error)) {
	p.submit(&SendOutputMessageOp{Message: msg, OutputName: outputName}, cb)
}

// SendMethodResponse answers a direct method request.
func (p *Pipeline) SendMethodResponse(resp *MethodResponse, cb func(err error)) {
	p.submit(&SendMethodResponseOp{Response: resp}, cb)
}

// GetTwin fetches the full twin. The twin feature must be enabled.
func (p *Pipeline) GetTwin(cb func(twin *Twin, err error)) {
	op := &GetTwinOp{}
	p.submit(op, func(err error) {
		if cb != nil {
			cb(op.Twin, err)
		}
	})
}

// PatchTwinReportedProperties updates reported properties. The twin feature
// must be enabled.
func (p *Pipeline) PatchTwinReportedProperties(patch TwinPatch, cb func(err error)) {
	p.submit(&PatchTwinReportedPropertiesOp{Patch: patch}, cb)
}

// EnableFeature subscribes to the topics backing f. An unrecognised name is
// rejected before anything is submitted.
func (p *Pipeline) EnableFeature(f Feature, cb func(err error)) error {
	if err := f.Validate(); err != nil {
		return err
	}
	p.features.set(f, true)
	p.submit(&EnableFeatureOp{Feature: f}, func(err error) {
		if err != nil {
			p.features.set(f, false)
		}
		if cb != nil {
			cb(err)
		}
	})
	return nil
}

// DisableFeature unsubscribes from the topics backing f. An unrecognised
// name is rejected before anything is submitted.
func (p *Pipeline) DisableFeature(f Feature, cb func(err error)) error {
	if err := f.Validate(); err != nil {
		return err
	}
	prev := p.features.Enabled(f)
	p.features.set(f, false)
	p.submit(&DisableFeatureOp{Feature: f}, func(err error) {
		if err != nil {
			p.features.set(f, prev)
		}
		if cb != nil {
			cb(err)
		}
	})
	return nil
}

// submit attaches a completion that records the outcome and hands it to cb
// on the callback worker, then queues op at the root.
func (p *Pipeline) submit(op Operation, cb func(err error)) {
	start := time.Now()
	op.state().callback = func(o Operation, err error) {
		p.recorder.OperationCompleted(o.Name(), err, time.Since(start))
		if err != nil {
			p.log.Debug("operation failed", "op", o.Name(), "error", err)
		}
		if cb != nil {
			p.root.callback(func() { cb(err) })
		}
	}
	p.root.submit(op)
}

// =============================================================================
// Event Dispatch (callback worker)
// =============================================================================

func (p *Pipeline) current() Handlers {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers
}

func (p *Pipeline) connected() {
	if h := p.current(); h.OnConnected != nil {
		h.OnConnected()
	}
}

func (p *Pipeline) disconnected() {
	if h := p.current(); h.OnDisconnected != nil {
		h.OnDisconnected()
	}
}

// dispatch hands ev to its handler and reports whether one was registered.
func (p *Pipeline) dispatch(ev Event) bool {
	h := p.current()

	switch e := ev.(type) {
	case *C2DMessageEvent:
		if h.OnC2DMessage != nil {
			h.OnC2DMessage(e.Message)
			return true
		}
	case *InputMessageEvent:
		if h.OnInputMessage != nil {
			h.OnInputMessage(e.InputName, e.Message)
			return true
		}
	case *MethodRequestEvent:
		if h.OnMethodRequest != nil {
			h.OnMethodRequest(e.Request)
			return true
		}
	case *TwinPatchEvent:
		if h.OnTwinPatch != nil {
			h.OnTwinPatch(e.Patch)
			return true
		}
	}

	p.log.Warn("no handler for event, dropping", "event", ev.Name())
	return false
}
