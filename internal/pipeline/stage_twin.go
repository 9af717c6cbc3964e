package pipeline

import (
	"encoding/json"
	"fmt"
)

// Twin request parameters.
const (
	requestTypeTwin      = "twin"
	twinResourceRoot     = "/"
	twinResourceReported = "/properties/reported/"
)

// twinStage converts twin operations into correlated requests and interprets
// the responses.
type twinStage struct {
	stageBase
}

func newTwinStage() *twinStage {
	return &twinStage{stageBase: stageBase{name: "HandleTwinOperations"}}
}

func (s *twinStage) ExecuteOp(op Operation) {
	switch op := op.(type) {
	case *GetTwinOp:
		s.sendOpDown(&SendRequestAndWaitOp{
			opState: newOpState(func(req Operation, err error) {
				body, err := twinResult(req.(*SendRequestAndWaitOp), err)
				if err != nil {
					s.complete(op, err)
					return
				}
				var twin Twin
				if err := json.Unmarshal(body, &twin); err != nil {
					s.complete(op, fmt.Errorf("decoding twin: %w", err))
					return
				}
				op.Twin = &twin
				s.complete(op, nil)
			}),
			RequestType:      requestTypeTwin,
			Method:           "GET",
			ResourceLocation: twinResourceRoot,
			Body:             []byte(" "),
		})

	case *PatchTwinReportedPropertiesOp:
		body, err := json.Marshal(op.Patch)
		if err != nil {
			s.complete(op, fmt.Errorf("encoding reported properties: %w", err))
			return
		}
		s.sendOpDown(&SendRequestAndWaitOp{
			opState: newOpState(func(req Operation, err error) {
				_, err = twinResult(req.(*SendRequestAndWaitOp), err)
				s.complete(op, err)
			}),
			RequestType:      requestTypeTwin,
			Method:           "PATCH",
			ResourceLocation: twinResourceReported,
			Body:             body,
		})

	default:
		s.sendOpDown(op)
	}
}

// twinResult maps a completed request to its body or a ServiceError.
func twinResult(req *SendRequestAndWaitOp, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if req.StatusCode >= 300 {
		return nil, &ServiceError{StatusCode: req.StatusCode, Body: req.Response}
	}
	return req.Response, nil
}
