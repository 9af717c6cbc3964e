// Package logging provides structured logging for the Gray Logic device agent.
//
// This package wraps Go's standard log/slog package. The resulting Logger
// satisfies the logger interfaces of the pipeline and MQTT transport packages,
// so one configured logger is shared by every layer.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	pipeLog := logger.ForDevice(deviceID, moduleID).Component("pipeline")
//	pipeLog.Info("connected")
//
// # Security
//
// Values under keys such as token or password, and strings that look like a
// connection string or SAS token, are written as "<redacted>". Do not rely on
// this: never log credentials deliberately.
package logging
