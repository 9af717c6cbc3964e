package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-device/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

// Logger must be usable wherever the pipeline expects a logger.
var _ pipeline.Logger = (*Logger)(nil)

func TestNew_Outputs(t *testing.T) {
	for _, cfg := range []config.LoggingConfig{
		{Level: "info", Format: "json", Output: "stdout"},
		{Level: "debug", Format: "text", Output: "stderr"},
	} {
		if New(cfg, "1.0.0") == nil {
			t.Fatalf("New(%+v) returned nil", cfg)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "debug level", input: "debug", expected: slog.LevelDebug},
		{name: "info level", input: "info", expected: slog.LevelInfo},
		{name: "warn level", input: "warn", expected: slog.LevelWarn},
		{name: "warning level", input: "warning", expected: slog.LevelWarn},
		{name: "error level", input: "error", expected: slog.LevelError},
		{name: "unknown defaults to info", input: "unknown", expected: slog.LevelInfo},
		{name: "empty defaults to info", input: "", expected: slog.LevelInfo},
		{name: "case insensitive", input: "DEBUG", expected: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogger_JSONDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "2.1.0", &buf)

	logger.Info("connected", "device_id", "thermostat-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	want := map[string]string{
		"msg":       "connected",
		"service":   ServiceName,
		"version":   "2.1.0",
		"device_id": "thermostat-1",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("entry[%q] = %v, want %q", k, entry[k], v)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, "dev", &buf)

	logger.Info("dropped")
	logger.Warn("kept")

	output := buf.String()
	if strings.Contains(output, "dropped") {
		t.Errorf("info entry written at warn level: %s", output)
	}
	if !strings.Contains(output, "kept") {
		t.Errorf("warn entry missing: %s", output)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", &buf)

	child := logger.With("component", "pipeline")
	if child == logger {
		t.Error("expected child logger to be different from parent")
	}

	child.Info("stage ready")
	if !strings.Contains(buf.String(), `"component":"pipeline"`) {
		t.Errorf("child entry missing component field: %s", buf.String())
	}
}

func TestLogger_ComponentAndDevice(t *testing.T) {
	tests := []struct {
		name     string
		moduleID string
		want     map[string]any
		absent   string
	}{
		{
			name:   "device identity",
			want:   map[string]any{"component": "pipeline", "device_id": "thermostat-1"},
			absent: "module_id",
		},
		{
			name:     "module identity",
			moduleID: "filter",
			want:     map[string]any{"component": "pipeline", "device_id": "thermostat-1", "module_id": "filter"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", &buf)

			logger.ForDevice("thermostat-1", tt.moduleID).Component("pipeline").Info("connected")

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse JSON output: %v", err)
			}
			for k, v := range tt.want {
				if entry[k] != v {
					t.Errorf("entry[%q] = %v, want %v", k, entry[k], v)
				}
			}
			if _, ok := entry[tt.absent]; tt.absent != "" && ok {
				t.Errorf("entry has %q: %v", tt.absent, entry)
			}
		})
	}
}

func TestLogger_RedactsCredentials(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
		want  any
	}{
		{name: "token key", key: "token", value: "abc", want: Redacted},
		{name: "key match is case insensitive", key: "Password", value: "hunter2", want: Redacted},
		{name: "connection string value", key: "source", value: "HostName=h;DeviceId=d;SharedAccessKey=a2V5", want: Redacted},
		{name: "sas token value", key: "auth", value: "SharedAccessSignature sr=h&sig=x&se=1", want: Redacted},
		{name: "error carrying a signature", key: "error", value: errors.New("connect: sr=h&sig=x"), want: Redacted},
		{name: "plain string", key: "topic", value: "devices/d/messages/events/", want: "devices/d/messages/events/"},
		{name: "number", key: "status", value: 200, want: float64(200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", &buf)

			logger.Info("event", tt.key, tt.value)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse JSON output: %v", err)
			}
			if entry[tt.key] != tt.want {
				t.Errorf("entry[%q] = %v, want %v", tt.key, entry[tt.key], tt.want)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
}
