package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the C-Bus bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	CBus     CBusConfig     `yaml:"cbus"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Devices are the statically configured C-Bus groups.
	Devices []DeviceConfig `yaml:"devices"`

	// Templates are named presets applied to device entries via their
	// "template" field. Explicit device fields override template values.
	Templates []TemplateConfig `yaml:"templates"`
}

// InterfaceType identifies how the bridge reaches the C-Bus network.
type InterfaceType string

// Supported interface types.
const (
	// InterfaceTCP connects to a CNI (network-attached gateway) over TCP.
	InterfaceTCP InterfaceType = "tcp"

	// InterfaceSerial connects to a PCI over a local serial port.
	InterfaceSerial InterfaceType = "serial"

	// InterfacePCI is treated as serial; kept as a distinct value because
	// installations name them differently in existing configs.
	InterfacePCI InterfaceType = "pci"
)

// CBusConfig contains C-Bus interface settings.
type CBusConfig struct {
	// Interface selects the transport: "tcp" (CNI), "serial" or "pci" (PCI).
	Interface InterfaceType `yaml:"interface"`

	// Host and Port locate the CNI for TCP connections.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SerialDevice is the serial port path for serial/pci connections
	// (e.g. /dev/ttyUSB0).
	SerialDevice string `yaml:"serial_device"`

	// Network is the C-Bus network id. Default: 254.
	Network int `yaml:"network"`

	// Application is the C-Bus application id. Default: 56 (lighting).
	Application int `yaml:"application"`

	// TimeoutSeconds bounds connects, reads and writes. Default: 5.
	TimeoutSeconds int `yaml:"timeout"`

	// MaxRetries bounds additional attempts the initial bus connection
	// makes before startup fails. Reconnection after a working link
	// drops is unbounded. Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// Monitoring contains the poll scheduler settings.
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// MonitoringConfig contains poll scheduler settings.
type MonitoringConfig struct {
	// Enabled turns on bus monitoring and the poll/conflict/cleanup
	// schedulers. Default: true.
	Enabled bool `yaml:"enabled"`

	// PollIntervalSeconds is the poll scheduler period P. Default: 30.
	PollIntervalSeconds int `yaml:"poll_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicRoot is the first topic segment for all bridge topics.
	// Default: "cbus".
	TopicRoot string `yaml:"topic_root"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite settings for the state history store.
type DatabaseConfig struct {
	// Enabled turns on level-change history persistence. Default: true.
	Enabled bool `yaml:"enabled"`

	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains the optional time-series telemetry sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DeviceConfig describes one statically configured C-Bus group.
type DeviceConfig struct {
	Group    int    `yaml:"group"`
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Dimmable *bool  `yaml:"dimmable"`
	Area     string `yaml:"area"`
	Template string `yaml:"template"`
}

// TemplateConfig describes a named device preset.
type TemplateConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Dimmable bool   `yaml:"dimmable"`
	Area     string `yaml:"area"`
}

// Default C-Bus protocol values.
const (
	defaultNetwork      = 254
	defaultApplication  = 56 // lighting
	defaultCNIPort      = 10001
	defaultTimeout      = 5
	defaultMaxRetries   = 3
	defaultPollInterval = 30
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CBUSBRIDGE_SECTION_KEY
// For example: CBUSBRIDGE_CBUS_HOST, CBUSBRIDGE_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		CBus: CBusConfig{
			Interface:      InterfaceTCP,
			Port:           defaultCNIPort,
			Network:        defaultNetwork,
			Application:    defaultApplication,
			TimeoutSeconds: defaultTimeout,
			MaxRetries:     defaultMaxRetries,
			Monitoring: MonitoringConfig{
				Enabled:             true,
				PollIntervalSeconds: defaultPollInterval,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cbus-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicRoot: "cbus",
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/cbusbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CBUSBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// C-Bus
	if v := os.Getenv("CBUSBRIDGE_CBUS_HOST"); v != "" {
		cfg.CBus.Host = v
	}
	if v := os.Getenv("CBUSBRIDGE_CBUS_SERIAL_DEVICE"); v != "" {
		cfg.CBus.SerialDevice = v
	}

	// MQTT
	if v := os.Getenv("CBUSBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CBUSBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CBUSBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("CBUSBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("CBUSBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Configuration errors are fatal at startup: they are reported before any
// connection attempt is made.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.CBus.Interface {
	case InterfaceTCP:
		if c.CBus.Host == "" {
			errs = append(errs, "cbus.host is required for the tcp interface")
		}
		if c.CBus.Port < 1 || c.CBus.Port > 65535 {
			errs = append(errs, "cbus.port must be between 1 and 65535")
		}
	case InterfaceSerial, InterfacePCI:
		if c.CBus.SerialDevice == "" {
			errs = append(errs, "cbus.serial_device is required for serial/pci interfaces")
		}
	case "":
		errs = append(errs, "cbus.interface is required (tcp, serial or pci)")
	default:
		errs = append(errs, fmt.Sprintf("cbus.interface %q is not supported (use tcp, serial or pci)", c.CBus.Interface))
	}

	if c.CBus.Network < 0 || c.CBus.Network > 255 {
		errs = append(errs, "cbus.network must be between 0 and 255")
	}
	if c.CBus.Application < 0 || c.CBus.Application > 255 {
		errs = append(errs, "cbus.application must be between 0 and 255")
	}
	if c.CBus.TimeoutSeconds <= 0 {
		errs = append(errs, "cbus.timeout must be positive")
	}
	if c.CBus.Monitoring.PollIntervalSeconds <= 0 {
		errs = append(errs, "cbus.monitoring.poll_interval must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicRoot == "" {
		errs = append(errs, "mqtt.topic_root is required")
	} else if strings.ContainsAny(c.MQTT.TopicRoot, "/#+") {
		errs = append(errs, "mqtt.topic_root must be a single topic segment")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}

	seen := make(map[int]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Group < 0 || d.Group > 255 {
			errs = append(errs, fmt.Sprintf("devices: group %d out of range 0-255", d.Group))
		}
		if seen[d.Group] {
			errs = append(errs, fmt.Sprintf("devices: duplicate group %d", d.Group))
		}
		seen[d.Group] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Timeout returns the C-Bus operation timeout as a Duration.
func (c CBusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the poll scheduler period as a Duration.
func (c CBusConfig) PollInterval() time.Duration {
	return time.Duration(c.Monitoring.PollIntervalSeconds) * time.Second
}
