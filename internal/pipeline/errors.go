package pipeline

import (
	"errors"
	"fmt"
)

// Domain-specific errors for pipeline operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrPreempted is returned when a pending Connect, Reconnect or Disconnect
	// is cancelled because a newer connection operation was issued.
	ErrPreempted = errors.New("pipeline: cancelled by a newer connect, disconnect or reconnect")

	// ErrConnectionDropped is returned when the connection that would carry an
	// operation (or its response) is lost.
	ErrConnectionDropped = errors.New("pipeline: connection dropped")

	// ErrNoNextStage is returned when an operation reaches the end of the chain
	// without being handled.
	ErrNoNextStage = errors.New("pipeline: operation reached the end of the pipeline")

	// ErrInvalidFeature is returned for feature names other than the five
	// recognised features.
	ErrInvalidFeature = errors.New("pipeline: invalid feature name")

	// ErrNotImplemented is returned for request types the pipeline cannot send.
	ErrNotImplemented = errors.New("pipeline: not implemented")

	// ErrStagePanic is returned when a stage panics while executing an operation.
	ErrStagePanic = errors.New("pipeline: stage panicked")

	// ErrAlreadyCompleted is reported when an operation is completed twice.
	ErrAlreadyCompleted = errors.New("pipeline: operation already completed")

	// ErrTransportNotConfigured is returned when a transport operation arrives
	// before connection arguments have been set.
	ErrTransportNotConfigured = errors.New("pipeline: transport not configured")

	// ErrPipelineClosed is returned for operations submitted after Close.
	ErrPipelineClosed = errors.New("pipeline: closed")

	// ErrInvalidAuthProvider is returned when the supplied credentials are
	// neither shared-secret nor certificate based.
	ErrInvalidAuthProvider = errors.New("pipeline: unsupported auth provider")

	// ErrMalformedTopic is reported when an inbound topic matches a known
	// prefix but cannot be parsed.
	ErrMalformedTopic = errors.New("pipeline: malformed topic")
)

// ConnectionDroppedError carries the transport cause of a dropped connection.
// It matches ErrConnectionDropped with errors.Is.
type ConnectionDroppedError struct {
	Cause error
}

func (e *ConnectionDroppedError) Error() string {
	if e.Cause == nil {
		return ErrConnectionDropped.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConnectionDropped.Error(), e.Cause)
}

func (e *ConnectionDroppedError) Unwrap() error { return e.Cause }

func (e *ConnectionDroppedError) Is(target error) bool {
	return target == ErrConnectionDropped
}

// ServiceError is returned when the service answers a correlated request
// with a failure status (>= 300).
type ServiceError struct {
	StatusCode int
	Body       []byte
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("pipeline: service returned status %d", e.StatusCode)
}

// Fatal marks a panic value that must not be absorbed by the pipeline.
// Stages recover every other panic and turn it into an operation failure.
type Fatal struct {
	Err error
}

func (f Fatal) Error() string { return "pipeline: fatal: " + f.Err.Error() }

func (f Fatal) Unwrap() error { return f.Err }
