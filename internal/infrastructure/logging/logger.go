package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-device/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "graylogic-device"

// Redacted replaces credential values in log output.
const Redacted = "<redacted>"

// Attribute keys whose values are always redacted.
var secretKeys = map[string]bool{
	"password":          true,
	"sas_token":         true,
	"token":             true,
	"connection_string": true,
	"shared_access_key": true,
}

// Substrings that mark a string value as carrying a credential.
var secretMarkers = []string{
	"SharedAccessKey=",
	"SharedAccessSignature ",
	"sig=",
}

// Logger is the device agent's structured logger.
//
// Entries carry the service and version, plus device identity and component
// once ForDevice and Component have been applied. Credential values are
// redacted before they reach the handler.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the config.
//
// Output is JSON unless cfg.Format is "text", written to stdout unless
// cfg.Output is "stderr".
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return newWithWriter(cfg, version, w)
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactAttr,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

// parseLevel maps debug, info, warn(ing) and error to slog levels. Anything
// else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactAttr hides credentials, keyed by name or recognised in string values.
// Error values are rendered to strings first so that a wrapped connection
// string cannot slip through.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}

	var s string
	switch v := a.Value.Any().(type) {
	case string:
		s = v
	case error:
		s = v.Error()
	default:
		return a
	}
	for _, m := range secretMarkers {
		if strings.Contains(s, m) {
			return slog.String(a.Key, Redacted)
		}
	}
	return a
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger for one layer of the agent, such as
// "pipeline" or "mqtt".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// ForDevice returns a child logger tagged with the IoT Hub identity. The
// module_id field is omitted for device identities.
func (l *Logger) ForDevice(deviceID, moduleID string) *Logger {
	if moduleID == "" {
		return l.With("device_id", deviceID)
	}
	return l.With("device_id", deviceID, "module_id", moduleID)
}

// Default is the logger used before configuration has been loaded: JSON to
// stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
