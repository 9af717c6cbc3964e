package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a Gray Logic device.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// DeviceConfig contains the IoT Hub identity and session settings.
//
// Exactly one of ConnectionString or X509 identifies the device.
type DeviceConfig struct {
	// ConnectionString is an IoT Hub device or module connection string.
	ConnectionString string `yaml:"connection_string"`

	// X509 identifies the device by certificate instead of a connection string.
	X509 X509Config `yaml:"x509"`

	// CAFile is a PEM bundle of trusted roots. Empty uses the system pool.
	CAFile string `yaml:"ca_file"`

	// GatewayHostname, when set, is dialled instead of the hub.
	GatewayHostname string `yaml:"gateway_hostname"`

	// Websockets tunnels MQTT through port 443.
	Websockets bool `yaml:"websockets"`

	// KeepAlive is the MQTT keepalive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// TokenTTL is the lifetime of generated SAS tokens in seconds.
	TokenTTL int `yaml:"token_ttl"`

	// TokenRenewalMargin is how many seconds before expiry a token is renewed.
	TokenRenewalMargin int `yaml:"token_renewal_margin"`

	// UserAgent is reported to IoT Hub as the client type.
	UserAgent string `yaml:"user_agent"`
}

// X509Config contains certificate-based identity settings.
type X509Config struct {
	Hostname string `yaml:"hostname"`
	DeviceID string `yaml:"device_id"`
	ModuleID string `yaml:"module_id"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether any certificate identity field is set.
func (x X509Config) Enabled() bool {
	return x.Hostname != "" || x.DeviceID != "" || x.CertFile != "" || x.KeyFile != ""
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// InfluxDBConfig contains InfluxDB connection settings for operation history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GLDEVICE_SECTION_KEY
// For example: GLDEVICE_CONNECTION_STRING, GLDEVICE_LOG_LEVEL
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults and environment only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			KeepAlive:          60,
			TokenTTL:           3600,
			TokenRenewalMargin: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GLDEVICE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Device
	if v := os.Getenv("GLDEVICE_CONNECTION_STRING"); v != "" {
		cfg.Device.ConnectionString = v
	}
	if v := os.Getenv("GLDEVICE_CA_FILE"); v != "" {
		cfg.Device.CAFile = v
	}
	if v := os.Getenv("GLDEVICE_X509_CERT_FILE"); v != "" {
		cfg.Device.X509.CertFile = v
	}
	if v := os.Getenv("GLDEVICE_X509_KEY_FILE"); v != "" {
		cfg.Device.X509.KeyFile = v
	}
	if v := os.Getenv("GLDEVICE_WEBSOCKETS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GLDEVICE_WEBSOCKETS: %w", err)
		}
		cfg.Device.Websockets = b
	}

	// Logging
	if v := os.Getenv("GLDEVICE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Metrics
	if v := os.Getenv("GLDEVICE_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}

	// InfluxDB
	if v := os.Getenv("GLDEVICE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Identity validation
	hasConnStr := c.Device.ConnectionString != ""
	x := c.Device.X509
	switch {
	case hasConnStr && x.Hostname != "":
		errs = append(errs, "device.connection_string and device.x509.hostname are mutually exclusive")
	case !hasConnStr && !x.Enabled():
		errs = append(errs, "device.connection_string or device.x509 is required (set GLDEVICE_CONNECTION_STRING environment variable)")
	case !hasConnStr:
		if x.Hostname == "" {
			errs = append(errs, "device.x509.hostname is required")
		}
		if x.DeviceID == "" {
			errs = append(errs, "device.x509.device_id is required")
		}
		if x.CertFile == "" || x.KeyFile == "" {
			errs = append(errs, "device.x509.cert_file and device.x509.key_file are required")
		}
	}

	// Session validation
	if c.Device.KeepAlive < 0 {
		errs = append(errs, "device.keep_alive must not be negative")
	}
	if c.Device.TokenTTL <= 0 {
		errs = append(errs, "device.token_ttl must be positive")
	} else if c.Device.TokenRenewalMargin <= 0 || c.Device.TokenRenewalMargin >= c.Device.TokenTTL {
		errs = append(errs, "device.token_renewal_margin must be positive and shorter than device.token_ttl")
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
		if c.InfluxDB.BatchSize < 1 {
			errs = append(errs, "influxdb.batch_size must be at least 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetKeepAlive returns the MQTT keepalive interval as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.Device.KeepAlive) * time.Second
}

// GetTokenTTL returns the SAS token lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Device.TokenTTL) * time.Second
}

// GetTokenRenewalMargin returns the SAS token renewal margin as a Duration.
func (c *Config) GetTokenRenewalMargin() time.Duration {
	return time.Duration(c.Device.TokenRenewalMargin) * time.Second
}

// GetFlushInterval returns the InfluxDB flush interval as a Duration.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.InfluxDB.FlushInterval) * time.Second
}
