package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConnectionString = "HostName=hub.example.net;DeviceId=thermostat-1;SharedAccessKey=c2VjcmV0"

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
device:
  connection_string: "HostName=hub.example.net;DeviceId=thermostat-1;SharedAccessKey=c2VjcmV0"
  websockets: true
  keep_alive: 30
logging:
  level: "debug"
  format: "text"
metrics:
  enabled: true
  listen: ":9100"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "device.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ConnectionString != testConnectionString {
		t.Errorf("Device.ConnectionString = %q", cfg.Device.ConnectionString)
	}

	if !cfg.Device.Websockets {
		t.Error("Device.Websockets = false, want true")
	}

	if got := cfg.GetKeepAlive().Seconds(); got != 30 {
		t.Errorf("GetKeepAlive() = %v, want 30", got)
	}

	// Defaults survive for keys the file omits
	if cfg.Device.TokenTTL != 3600 {
		t.Errorf("Device.TokenTTL = %d, want default 3600", cfg.Device.TokenTTL)
	}

	if cfg.Metrics.Listen != ":9100" {
		t.Errorf("Metrics.Listen = %q, want %q", cfg.Metrics.Listen, ":9100")
	}
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	t.Setenv("GLDEVICE_CONNECTION_STRING", testConnectionString)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Device.ConnectionString != testConnectionString {
		t.Errorf("Device.ConnectionString = %q", cfg.Device.ConnectionString)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/device.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "device.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
device:
  connection_string: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "device.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing identity, got nil")
	}
}

func TestLoad_BadWebsocketsEnv(t *testing.T) {
	t.Setenv("GLDEVICE_CONNECTION_STRING", testConnectionString)
	t.Setenv("GLDEVICE_WEBSOCKETS", "sometimes")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "GLDEVICE_WEBSOCKETS") {
		t.Errorf("Load() error = %v, want GLDEVICE_WEBSOCKETS parse error", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Device.ConnectionString = testConnectionString
		return cfg
	}
	validX509 := X509Config{
		Hostname: "hub.example.net",
		DeviceID: "thermostat-1",
		CertFile: "/etc/gldevice/device.pem",
		KeyFile:  "/etc/gldevice/device.key",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid connection string",
			mutate: func(*Config) {},
		},
		{
			name: "valid x509",
			mutate: func(c *Config) {
				c.Device.ConnectionString = ""
				c.Device.X509 = validX509
			},
		},
		{
			name:    "no identity",
			mutate:  func(c *Config) { c.Device.ConnectionString = "" },
			wantErr: "device.connection_string or device.x509 is required",
		},
		{
			name:    "both identities",
			mutate:  func(c *Config) { c.Device.X509 = validX509 },
			wantErr: "mutually exclusive",
		},
		{
			name: "x509 without key",
			mutate: func(c *Config) {
				c.Device.ConnectionString = ""
				c.Device.X509 = validX509
				c.Device.X509.KeyFile = ""
			},
			wantErr: "device.x509.cert_file and device.x509.key_file are required",
		},
		{
			name:    "renewal margin not shorter than ttl",
			mutate:  func(c *Config) { c.Device.TokenRenewalMargin = c.Device.TokenTTL },
			wantErr: "device.token_renewal_margin",
		},
		{
			name:    "zero ttl",
			mutate:  func(c *Config) { c.Device.TokenTTL = 0 },
			wantErr: "device.token_ttl must be positive",
		},
		{
			name:    "negative keep alive",
			mutate:  func(c *Config) { c.Device.KeepAlive = -1 },
			wantErr: "device.keep_alive",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name: "metrics without listen address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = ""
			},
			wantErr: "metrics.listen",
		},
		{
			name:    "influxdb without url",
			mutate:  func(c *Config) { c.InfluxDB = InfluxDBConfig{Enabled: true, Org: "o", Bucket: "b", BatchSize: 10} },
			wantErr: "influxdb.url",
		},
		{
			name:    "influxdb without bucket",
			mutate:  func(c *Config) { c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://influx:8086", Org: "o", BatchSize: 10} },
			wantErr: "influxdb.org and influxdb.bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "loud"
	cfg.Device.KeepAlive = -5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"device.connection_string", "device.keep_alive", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err, want)
		}
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		Device: DeviceConfig{
			KeepAlive:          45,
			TokenTTL:           600,
			TokenRenewalMargin: 60,
		},
		InfluxDB: InfluxDBConfig{FlushInterval: 5},
	}

	if got := cfg.GetKeepAlive().Seconds(); got != 45 {
		t.Errorf("GetKeepAlive() = %v, want 45", got)
	}

	if got := cfg.GetTokenTTL().Seconds(); got != 600 {
		t.Errorf("GetTokenTTL() = %v, want 600", got)
	}

	if got := cfg.GetTokenRenewalMargin().Seconds(); got != 60 {
		t.Errorf("GetTokenRenewalMargin() = %v, want 60", got)
	}

	if got := cfg.GetFlushInterval().Seconds(); got != 5 {
		t.Errorf("GetFlushInterval() = %v, want 5", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("GLDEVICE_CONNECTION_STRING", testConnectionString)
	t.Setenv("GLDEVICE_CA_FILE", "/etc/ssl/hub.pem")
	t.Setenv("GLDEVICE_X509_CERT_FILE", "/etc/gldevice/device.pem")
	t.Setenv("GLDEVICE_X509_KEY_FILE", "/etc/gldevice/device.key")
	t.Setenv("GLDEVICE_WEBSOCKETS", "true")
	t.Setenv("GLDEVICE_LOG_LEVEL", "debug")
	t.Setenv("GLDEVICE_METRICS_LISTEN", "127.0.0.1:9000")
	t.Setenv("GLDEVICE_INFLUXDB_TOKEN", "secret-token")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Device.ConnectionString != testConnectionString {
		t.Errorf("Device.ConnectionString = %q", cfg.Device.ConnectionString)
	}

	if cfg.Device.CAFile != "/etc/ssl/hub.pem" {
		t.Errorf("Device.CAFile = %q, want %q", cfg.Device.CAFile, "/etc/ssl/hub.pem")
	}

	if cfg.Device.X509.CertFile != "/etc/gldevice/device.pem" || cfg.Device.X509.KeyFile != "/etc/gldevice/device.key" {
		t.Errorf("Device.X509 = %+v", cfg.Device.X509)
	}

	if !cfg.Device.Websockets {
		t.Error("Device.Websockets = false, want true")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}

	if cfg.Metrics.Listen != "127.0.0.1:9000" {
		t.Errorf("Metrics.Listen = %q, want %q", cfg.Metrics.Listen, "127.0.0.1:9000")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Device.KeepAlive != 60 {
		t.Errorf("defaultConfig Device.KeepAlive = %d, want 60", cfg.Device.KeepAlive)
	}

	if cfg.Device.TokenRenewalMargin >= cfg.Device.TokenTTL {
		t.Error("defaultConfig renewal margin should be shorter than the token TTL")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("defaultConfig Logging.Level = %q, want info", cfg.Logging.Level)
	}
}
