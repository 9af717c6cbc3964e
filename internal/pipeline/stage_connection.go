package pipeline

// ensureConnectionStage connects on demand. An operation that needs a
// session, issued while disconnected, waits behind a synthesized Connect and
// fails with that Connect's error if it fails.
type ensureConnectionStage struct {
	stageBase
	connecting bool
	waiting    []Operation
}

func newEnsureConnectionStage() *ensureConnectionStage {
	return &ensureConnectionStage{stageBase: stageBase{name: "EnsureConnection"}}
}

func (s *ensureConnectionStage) ExecuteOp(op Operation) {
	if !needsConnection(op) || s.root.Connected() {
		s.sendOpDown(op)
		return
	}

	s.waiting = append(s.waiting, op)
	if s.connecting {
		s.log.Debug("waiting for connect in progress", "stage", s.name, "op", op.Name())
		return
	}

	s.log.Info("not connected, connecting before operation", "stage", s.name, "op", op.Name())
	s.connecting = true
	s.sendOpDown(&ConnectOp{opState: newOpState(func(_ Operation, err error) {
		s.connecting = false
		waiting := s.waiting
		s.waiting = nil

		for _, w := range waiting {
			if err != nil {
				s.complete(w, err)
				continue
			}
			s.sendOpDown(w)
		}
	})})
}

func (s *ensureConnectionStage) abort(err error) {
	waiting := s.waiting
	s.waiting = nil
	for _, w := range waiting {
		s.complete(w, err)
	}
}

// serializeConnectOpsStage allows at most one Connect, Disconnect or
// Reconnect below it at a time. Every operation arriving while one is in
// flight is queued and released in arrival order when it completes.
type serializeConnectOpsStage struct {
	stageBase
	inFlight  Operation
	queue     []Operation
	releasing bool
}

func newSerializeConnectOpsStage() *serializeConnectOpsStage {
	return &serializeConnectOpsStage{stageBase: stageBase{name: "SerializeConnectOps"}}
}

func (s *serializeConnectOpsStage) ExecuteOp(op Operation) {
	if s.inFlight != nil {
		s.log.Debug("connection operation in flight, queueing",
			"stage", s.name,
			"op", op.Name(),
			"in_flight", s.inFlight.Name(),
		)
		s.queue = append(s.queue, op)
		return
	}

	if isConnectionOp(op) {
		s.inFlight = op
		st := op.state()
		cb := st.callback
		st.callback = func(o Operation, err error) {
			defer func() {
				s.inFlight = nil
				s.release()
			}()
			if cb != nil {
				cb(o, err)
			}
		}
	}

	s.sendOpDown(op)
}

func (s *serializeConnectOpsStage) release() {
	if s.releasing {
		return
	}
	s.releasing = true
	defer func() { s.releasing = false }()

	for s.inFlight == nil && len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		runOp(s, next)
	}
}

func (s *serializeConnectOpsStage) abort(err error) {
	queue := s.queue
	s.queue = nil
	for _, op := range queue {
		s.complete(op, err)
	}
}
