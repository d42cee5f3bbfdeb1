package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
cbus:
  interface: "tcp"
  host: "192.168.1.50"
  port: 10001
  network: 254
  application: 56
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic_root: "cbus"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
devices:
  - group: 21
    name: "Kitchen Downlights"
    type: "light"
    dimmable: true
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CBus.Host != "192.168.1.50" {
		t.Errorf("CBus.Host = %q, want %q", cfg.CBus.Host, "192.168.1.50")
	}

	if cfg.CBus.Network != 254 {
		t.Errorf("CBus.Network = %d, want 254", cfg.CBus.Network)
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	if len(cfg.Devices) != 1 || cfg.Devices[0].Group != 21 {
		t.Errorf("Devices = %+v, want one entry for group 21", cfg.Devices)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
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
cbus:
  interface: "tcp"
  host: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing cbus.host, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.CBus.Host = "192.168.1.50"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid tcp config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "valid serial config",
			mutate: func(c *Config) {
				c.CBus.Interface = InterfaceSerial
				c.CBus.Host = ""
				c.CBus.SerialDevice = "/dev/ttyUSB0"
			},
			wantErr: false,
		},
		{
			name: "pci treated as serial",
			mutate: func(c *Config) {
				c.CBus.Interface = InterfacePCI
				c.CBus.SerialDevice = "/dev/ttyUSB0"
			},
			wantErr: false,
		},
		{
			name: "tcp without host",
			mutate: func(c *Config) {
				c.CBus.Host = ""
			},
			wantErr: true,
		},
		{
			name: "serial without device",
			mutate: func(c *Config) {
				c.CBus.Interface = InterfaceSerial
				c.CBus.SerialDevice = ""
			},
			wantErr: true,
		},
		{
			name: "unknown interface",
			mutate: func(c *Config) {
				c.CBus.Interface = "modem"
			},
			wantErr: true,
		},
		{
			name: "network out of range",
			mutate: func(c *Config) {
				c.CBus.Network = 300
			},
			wantErr: true,
		},
		{
			name: "application out of range",
			mutate: func(c *Config) {
				c.CBus.Application = -1
			},
			wantErr: true,
		},
		{
			name: "invalid QoS",
			mutate: func(c *Config) {
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "topic root with separator",
			mutate: func(c *Config) {
				c.MQTT.TopicRoot = "home/cbus"
			},
			wantErr: true,
		},
		{
			name: "topic root with wildcard",
			mutate: func(c *Config) {
				c.MQTT.TopicRoot = "cbus#"
			},
			wantErr: true,
		},
		{
			name: "duplicate device group",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{
					{Group: 21, Name: "A"},
					{Group: 21, Name: "B"},
				}
			},
			wantErr: true,
		},
		{
			name: "device group out of range",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{Group: 256, Name: "A"}}
			},
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

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("CBUSBRIDGE_CBUS_HOST", "10.0.0.5")
	t.Setenv("CBUSBRIDGE_CBUS_SERIAL_DEVICE", "/dev/ttyUSB1")
	t.Setenv("CBUSBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("CBUSBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("CBUSBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("CBUSBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("CBUSBRIDGE_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.CBus.Host != "10.0.0.5" {
		t.Errorf("CBus.Host = %q, want %q", cfg.CBus.Host, "10.0.0.5")
	}

	if cfg.CBus.SerialDevice != "/dev/ttyUSB1" {
		t.Errorf("CBus.SerialDevice = %q, want %q", cfg.CBus.SerialDevice, "/dev/ttyUSB1")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.CBus.Network != 254 {
		t.Errorf("defaultConfig CBus.Network = %d, want 254", cfg.CBus.Network)
	}

	if cfg.CBus.Application != 56 {
		t.Errorf("defaultConfig CBus.Application = %d, want 56", cfg.CBus.Application)
	}

	if cfg.CBus.Port != 10001 {
		t.Errorf("defaultConfig CBus.Port = %d, want 10001", cfg.CBus.Port)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.MQTT.TopicRoot != "cbus" {
		t.Errorf("defaultConfig MQTT.TopicRoot = %q, want %q", cfg.MQTT.TopicRoot, "cbus")
	}

	if !cfg.CBus.Monitoring.Enabled {
		t.Error("defaultConfig monitoring should be enabled")
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := CBusConfig{
		TimeoutSeconds: 5,
		Monitoring:     MonitoringConfig{PollIntervalSeconds: 30},
	}

	if got := cfg.Timeout().Seconds(); got != 5 {
		t.Errorf("Timeout() = %v, want 5", got)
	}

	if got := cfg.PollInterval().Seconds(); got != 30 {
		t.Errorf("PollInterval() = %v, want 30", got)
	}
}
