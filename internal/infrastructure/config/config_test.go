package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: "lifx-test"
lifx:
  message_timeout: 250ms
  update_interval: 5s
  discovery:
    enabled: true
    broadcast_addresses: ["192.168.1.255"]
  devices:
    - host: "192.168.1.20"
      serial: "d0:73:d5:01:02:03"
    - host: "192.168.1.21"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "lifx-test" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "lifx-test")
	}
	if cfg.LIFX.MessageTimeout != 250*time.Millisecond {
		t.Errorf("LIFX.MessageTimeout = %v, want 250ms", cfg.LIFX.MessageTimeout)
	}
	if cfg.LIFX.UpdateInterval != 5*time.Second {
		t.Errorf("LIFX.UpdateInterval = %v, want 5s", cfg.LIFX.UpdateInterval)
	}
	// Unset values keep their defaults.
	if cfg.LIFX.RetryCount != 3 {
		t.Errorf("LIFX.RetryCount = %d, want 3", cfg.LIFX.RetryCount)
	}
	if len(cfg.LIFX.Devices) != 2 {
		t.Fatalf("len(LIFX.Devices) = %d, want 2", len(cfg.LIFX.Devices))
	}
	if cfg.LIFX.Devices[1].Serial != "" {
		t.Errorf("Devices[1].Serial = %q, want empty", cfg.LIFX.Devices[1].Serial)
	}
	if got := cfg.LIFX.Discovery.BroadcastAddresses; len(got) != 1 || got[0] != "192.168.1.255" {
		t.Errorf("BroadcastAddresses = %v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: ""
lifx:
  devices:
    - serial: "not-a-serial"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// Every problem is reported, not just the first.
	for _, want := range []string{"bridge.id", "lifx.devices[0].host", "lifx.devices[0].serial"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "missing bridge ID", mutate: func(c *Config) { c.Bridge.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "negative history retention", mutate: func(c *Config) { c.Database.HistoryRetentionDays = -1 }, wantErr: true},
		{name: "history kept forever", mutate: func(c *Config) { c.Database.HistoryRetentionDays = 0 }, wantErr: false},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid api port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid api port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "invalid lifx port", mutate: func(c *Config) { c.LIFX.Port = 0 }, wantErr: true},
		{name: "zero retries", mutate: func(c *Config) { c.LIFX.RetryCount = 0 }, wantErr: true},
		{name: "zero message timeout", mutate: func(c *Config) { c.LIFX.MessageTimeout = 0 }, wantErr: true},
		{
			name:    "overall shorter than message timeout",
			mutate:  func(c *Config) { c.LIFX.OverallTimeout = 100 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "compact serial",
			mutate:  func(c *Config) { c.LIFX.Devices = []LIFXDeviceConfig{{Host: "10.0.0.2", Serial: "d073d5010203"}} },
			wantErr: false,
		},
		{
			name:    "short serial",
			mutate:  func(c *Config) { c.LIFX.Devices = []LIFXDeviceConfig{{Host: "10.0.0.2", Serial: "d0:73:d5"}} },
			wantErr: true,
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "nats enabled without url",
			mutate:  func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		Bridge: BridgeConfig{HealthInterval: 15},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetHealthInterval().Seconds(); got != 15 {
		t.Errorf("GetHealthInterval() = %v, want 15", got)
	}
	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("LIFXBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("LIFXBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LIFXBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("LIFXBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("LIFXBRIDGE_API_HOST", "192.168.1.1")
	t.Setenv("LIFXBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("LIFXBRIDGE_NATS_URL", "nats://bus:4222")
	t.Setenv("LIFXBRIDGE_LIFX_BROADCAST_ADDRESSES", "10.0.0.255, 10.0.1.255,")
	t.Setenv("LIFXBRIDGE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		name, got, want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"NATS.URL", cfg.NATS.URL, "nats://bus:4222"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}

	addrs := cfg.LIFX.Discovery.BroadcastAddresses
	if len(addrs) != 2 || addrs[0] != "10.0.0.255" || addrs[1] != "10.0.1.255" {
		t.Errorf("BroadcastAddresses = %v, want [10.0.0.255 10.0.1.255]", addrs)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate: %v", err)
	}
	if cfg.LIFX.Port != 56700 {
		t.Errorf("LIFX.Port = %d, want 56700", cfg.LIFX.Port)
	}
	if cfg.LIFX.OverallTimeout != 9*time.Second {
		t.Errorf("LIFX.OverallTimeout = %v, want 9s", cfg.LIFX.OverallTimeout)
	}
	if cfg.LIFX.Discovery.GracePeriod != 180*time.Second {
		t.Errorf("Discovery.GracePeriod = %v, want 180s", cfg.LIFX.Discovery.GracePeriod)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}
