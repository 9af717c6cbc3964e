package pipeline

import (
	"time"
)

// Logger defines the logging interface used by the pipeline.
// This allows injection of the application's structured logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that discards all output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// FailureSink receives failures that cannot be attributed to any submitted
// operation, such as a connection failure with nothing pending.
//
// Report is called on the callback worker, never on the pipeline worker.
type FailureSink interface {
	Report(err error)
}

// FailureSinkFunc adapts a function to FailureSink.
type FailureSinkFunc func(err error)

// Report calls f(err).
func (f FailureSinkFunc) Report(err error) { f(err) }

// logSink is the default FailureSink.
type logSink struct {
	logger Logger
}

func (s logSink) Report(err error) {
	s.logger.Error("unhandled pipeline failure", "error", err)
}

// Recorder observes pipeline activity for metrics and history.
//
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	// OperationCompleted is called once for every operation submitted by a
	// caller, with the time from submission to completion.
	OperationCompleted(op string, err error, elapsed time.Duration)

	// EventDispatched is called for every event reaching the root stage.
	// handled is false when no handler was registered and the event was dropped.
	EventDispatched(event string, handled bool)

	// ConnectionStateChanged is called when the root stage observes a
	// connected or disconnected notification.
	ConnectionStateChanged(connected bool)

	// UnhandledFailure is called for every failure sent to the FailureSink.
	UnhandledFailure(err error)
}

type noopRecorder struct{}

func (noopRecorder) OperationCompleted(string, error, time.Duration) {}
func (noopRecorder) EventDispatched(string, bool)                   {}
func (noopRecorder) ConnectionStateChanged(bool)                    {}
func (noopRecorder) UnhandledFailure(error)                         {}

// Recorders fans out to several recorders.
type Recorders []Recorder

func (rs Recorders) OperationCompleted(op string, err error, elapsed time.Duration) {
	for _, r := range rs {
		r.OperationCompleted(op, err, elapsed)
	}
}

func (rs Recorders) EventDispatched(event string, handled bool) {
	for _, r := range rs {
		r.EventDispatched(event, handled)
	}
}

func (rs Recorders) ConnectionStateChanged(connected bool) {
	for _, r := range rs {
		r.ConnectionStateChanged(connected)
	}
}

func (rs Recorders) UnhandledFailure(err error) {
	for _, r := range rs {
		r.UnhandledFailure(err)
	}
}
