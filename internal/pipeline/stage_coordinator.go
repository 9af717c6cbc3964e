package pipeline

import (
	"github.com/google/uuid"
)

// coordinatorStage pairs correlated requests with their responses.
//
// Requests are pending until their response arrives or the connection
// drops. There is no timeout.
type coordinatorStage struct {
	stageBase
	pending map[string]*SendRequestAndWaitOp
	newID   func() string
}

func newCoordinatorStage() *coordinatorStage {
	return &coordinatorStage{
		stageBase: stageBase{name: "CoordinateRequestAndResponse"},
		pending:   make(map[string]*SendRequestAndWaitOp),
		newID:     uuid.NewString,
	}
}

func (s *coordinatorStage) ExecuteOp(op Operation) {
	req, ok := op.(*SendRequestAndWaitOp)
	if !ok {
		s.sendOpDown(op)
		return
	}

	id := s.newID()
	s.pending[id] = req
	s.log.Debug("sending correlated request",
		"stage", s.name,
		"request_id", id,
		"method", req.Method,
		"resource", req.ResourceLocation,
	)

	s.sendOpDown(&SendRequestOp{
		opState: newOpState(func(_ Operation, err error) {
			if err == nil {
				return
			}
			// The response may already have completed the request.
			if s.pending[id] != req {
				return
			}
			delete(s.pending, id)
			s.complete(req, err)
		}),
		RequestType:      req.RequestType,
		Method:           req.Method,
		ResourceLocation: req.ResourceLocation,
		Body:             req.Body,
		RequestID:        id,
	})
}

func (s *coordinatorStage) HandleEvent(ev Event) {
	resp, ok := ev.(*ResponseEvent)
	if !ok {
		s.sendEventUp(ev)
		return
	}

	req, ok := s.pending[resp.RequestID]
	if !ok {
		s.log.Warn("response for unknown request, dropping",
			"stage", s.name,
			"request_id", resp.RequestID,
			"status", resp.StatusCode,
		)
		return
	}

	delete(s.pending, resp.RequestID)
	req.StatusCode = resp.StatusCode
	req.Response = resp.Body
	s.complete(req, nil)
}

// OnDisconnected fails every pending request. Callers re-issue after
// reconnecting.
func (s *coordinatorStage) OnDisconnected() {
	s.disconnectedUp()

	for id, req := range s.pending {
		delete(s.pending, id)
		s.log.Debug("failing pending request on disconnect", "stage", s.name, "request_id", id)
		s.complete(req, &ConnectionDroppedError{})
	}
}

func (s *coordinatorStage) abort(err error) {
	for id, req := range s.pending {
		delete(s.pending, id)
		s.complete(req, err)
	}
}

// pendingCount returns the number of requests awaiting a response.
func (s *coordinatorStage) pendingCount() int {
	return len(s.pending)
}
