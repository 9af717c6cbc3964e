package pipeline

import (
	"fmt"
)

// transportStage is the terminal stage. It owns the transport and the
// pending connection slot: the single Connect, Reconnect or Disconnect that
// has been issued to the transport and has not yet completed.
type transportStage struct {
	stageBase
	factory   TransportFactory
	transport Transport
	sasToken  string
	pending   Operation

	// inFlight holds publishes and (un)subscribes awaiting the broker's ack.
	inFlight map[Operation]struct{}
}

func newTransportStage(factory TransportFactory) *transportStage {
	return &transportStage{
		stageBase: stageBase{name: "MQTTTransport"},
		factory:   factory,
		inFlight:  make(map[Operation]struct{}),
	}
}

func (s *transportStage) ExecuteOp(op Operation) {
	switch op := op.(type) {
	case *SetTransportConnectionArgsOp:
		s.configure(op)

	case *UpdateSASTokenOp:
		s.sasToken = op.SASToken
		s.complete(op, nil)

	case *ConnectOp:
		s.startConnectionOp(op, func(t Transport) error { return t.Connect(s.sasToken) })

	case *ReconnectOp:
		s.startConnectionOp(op, func(t Transport) error { return t.Reconnect(s.sasToken) })

	case *DisconnectOp:
		s.startConnectionOp(op, func(t Transport) error { return t.Disconnect() })

	case *PublishOp:
		if !s.ready(op) {
			return
		}
		s.log.Debug("publishing", "stage", s.name, "topic", op.Topic)
		if err := s.transport.Publish(op.Topic, op.Payload, s.track(op)); err != nil {
			s.finish(op, err)
		}

	case *SubscribeOp:
		if !s.ready(op) {
			return
		}
		s.log.Debug("subscribing", "stage", s.name, "topic", op.Topic)
		if err := s.transport.Subscribe(op.Topic, s.track(op)); err != nil {
			s.finish(op, err)
		}

	case *UnsubscribeOp:
		if !s.ready(op) {
			return
		}
		s.log.Debug("unsubscribing", "stage", s.name, "topic", op.Topic)
		if err := s.transport.Unsubscribe(op.Topic, s.track(op)); err != nil {
			s.finish(op, err)
		}

	default:
		s.sendOpDown(op)
	}
}

func (s *transportStage) configure(op *SetTransportConnectionArgsOp) {
	s.log.Info("got connection args", "stage", s.name, "client_id", op.ClientID, "hostname", op.Hostname)

	t, err := s.factory(TransportConfig{
		ClientID:   op.ClientID,
		Hostname:   op.Hostname,
		Username:   op.Username,
		CACert:     op.CACert,
		ClientCert: op.ClientCert,
	})
	if err != nil {
		s.complete(op, fmt.Errorf("creating transport: %w", err))
		return
	}

	t.SetOnConnected(func() { s.post(s.onConnected) })
	t.SetOnConnectionFailure(func(cause error) { s.post(func() { s.onConnectionFailure(cause) }) })
	t.SetOnDisconnected(func(cause error) { s.post(func() { s.onDisconnected(cause) }) })
	t.SetOnMessageReceived(func(topic string, payload []byte) {
		s.post(func() {
			s.sendEventUp(&IncomingMessageEvent{Topic: topic, Payload: payload})
		})
	})

	s.transport = t
	s.sasToken = op.SASToken
	s.pending = nil
	s.complete(op, nil)
}

// startConnectionOp preempts any pending connection operation, makes op
// pending and starts the transition.
func (s *transportStage) startConnectionOp(op Operation, start func(Transport) error) {
	if !s.ready(op) {
		return
	}
	s.log.Info("starting connection operation", "stage", s.name, "op", op.Name())

	if old := s.pending; old != nil {
		s.log.Warn("preempting pending connection operation",
			"stage", s.name,
			"pending", old.Name(),
			"new", op.Name(),
		)
		s.pending = nil
		s.complete(old, fmt.Errorf("%w: %s replaced by %s", ErrPreempted, old.Name(), op.Name()))
	}

	s.pending = op
	if err := start(s.transport); err != nil {
		s.pending = nil
		s.complete(op, err)
	}
}

func (s *transportStage) ready(op Operation) bool {
	if s.transport == nil {
		s.complete(op, ErrTransportNotConfigured)
		return false
	}
	return true
}

// track records op as in flight and returns the transport completion that
// finishes it on the worker.
func (s *transportStage) track(op Operation) func(error) {
	s.inFlight[op] = struct{}{}
	return func(err error) {
		s.post(func() { s.finish(op, err) })
	}
}

// finish completes an in-flight op. Ops already failed by abort are skipped.
func (s *transportStage) finish(op Operation, err error) {
	if _, ok := s.inFlight[op]; !ok {
		s.log.Debug("ack for operation no longer in flight", "stage", s.name, "op", op.Name())
		return
	}
	delete(s.inFlight, op)
	s.complete(op, err)
}

func (s *transportStage) abort(err error) {
	if op := s.pending; op != nil {
		s.pending = nil
		s.complete(op, err)
	}
	for op := range s.inFlight {
		delete(s.inFlight, op)
		s.complete(op, err)
	}
}

// =============================================================================
// Transport Callbacks (run on the pipeline worker)
// =============================================================================

func (s *transportStage) onConnected() {
	s.log.Info("transport connected", "stage", s.name)
	s.connectedUp()

	switch op := s.pending.(type) {
	case *ConnectOp, *ReconnectOp:
		s.pending = nil
		s.complete(op, nil)
	case *DisconnectOp:
		s.log.Warn("connected while disconnect pending, ignoring", "stage", s.name)
	default:
		s.log.Warn("connection was unexpected", "stage", s.name)
	}
}

func (s *transportStage) onConnectionFailure(cause error) {
	s.log.Error("transport connection failure", "stage", s.name, "error", cause)

	switch op := s.pending.(type) {
	case *ConnectOp, *ReconnectOp:
		s.pending = nil
		s.complete(op, cause)
	case *DisconnectOp:
		s.log.Warn("connection failure while disconnect pending, ignoring", "stage", s.name)
	default:
		s.log.Warn("connection failure was unexpected", "stage", s.name)
		s.reportFailure(cause)
	}
}

func (s *transportStage) onDisconnected(cause error) {
	s.log.Info("transport disconnected", "stage", s.name, "cause", cause)
	s.disconnectedUp()

	if op, ok := s.pending.(*DisconnectOp); ok {
		s.pending = nil
		if cause != nil {
			s.complete(op, &ConnectionDroppedError{Cause: cause})
			return
		}
		s.complete(op, nil)
		return
	}

	s.log.Warn("disconnection was unexpected", "stage", s.name)
	s.reportFailure(&ConnectionDroppedError{Cause: cause})
}
