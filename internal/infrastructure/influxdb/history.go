package influxdb

import (
	"errors"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

// Measurement names written by History.
const (
	MeasurementOperations = "device_operations"
	MeasurementEvents     = "device_events"
	MeasurementConnection = "device_connection"
	MeasurementFailures   = "device_failures"
)

// Operation outcomes used as the "outcome" tag.
const (
	OutcomeSuccess      = "success"
	OutcomeServiceError = "service_error"
	OutcomeError        = "error"
)

// PointWriter is the write half of Client.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time)
}

// History records pipeline activity as InfluxDB points.
//
// Every point is tagged with the device (and module, when set) so several
// agents can share a bucket.
type History struct {
	w        PointWriter
	deviceID string
	moduleID string
	now      func() time.Time
}

var _ pipeline.Recorder = (*History)(nil)

// NewHistory returns a History writing to w.
func NewHistory(w PointWriter, deviceID, moduleID string) *History {
	return &History{
		w:        w,
		deviceID: deviceID,
		moduleID: moduleID,
		now:      time.Now,
	}
}

func (h *History) tags(extra map[string]string) map[string]string {
	tags := map[string]string{"device_id": h.deviceID}
	if h.moduleID != "" {
		tags["module_id"] = h.moduleID
	}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

// OperationCompleted writes one point per completed operation with its
// latency in milliseconds. Failures carry the error text, and service
// failures the returned status code.
func (h *History) OperationCompleted(op string, err error, elapsed time.Duration) {
	outcome := OutcomeSuccess
	fields := map[string]any{
		"elapsed_ms": float64(elapsed) / float64(time.Millisecond),
	}

	var svcErr *pipeline.ServiceError
	switch {
	case err == nil:
	case errors.As(err, &svcErr):
		outcome = OutcomeServiceError
		fields["status"] = svcErr.StatusCode
		fields["error"] = err.Error()
	default:
		outcome = OutcomeError
		fields["error"] = err.Error()
	}

	h.w.WritePointWithTime(MeasurementOperations,
		h.tags(map[string]string{"operation": op, "outcome": outcome}),
		fields, h.now())
}

// EventDispatched writes a counter point per inbound event.
func (h *History) EventDispatched(event string, handled bool) {
	h.w.WritePointWithTime(MeasurementEvents,
		h.tags(map[string]string{"event": event, "handled": strconv.FormatBool(handled)}),
		map[string]any{"count": 1}, h.now())
}

// ConnectionStateChanged writes the new connection state.
func (h *History) ConnectionStateChanged(connected bool) {
	h.w.WritePointWithTime(MeasurementConnection, h.tags(nil),
		map[string]any{"connected": connected}, h.now())
}

// UnhandledFailure writes failures no caller was waiting for.
func (h *History) UnhandledFailure(err error) {
	h.w.WritePointWithTime(MeasurementFailures, h.tags(nil),
		map[string]any{"error": err.Error()}, h.now())
}
