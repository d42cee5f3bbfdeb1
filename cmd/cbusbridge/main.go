// cbusbridge connects a Clipsal C-Bus installation to an MQTT broker.
//
// It speaks the C-Bus line protocol over a CNI (TCP) or PCI (serial),
// keeps an authoritative per-group state table, and mirrors state
// changes to hierarchical MQTT topics that smart-home hubs consume.
// Commands arriving on the write topics are applied optimistically and
// confirmed by the bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fawkner/cbus-bridge/internal/bridge"
	"github.com/fawkner/cbus-bridge/internal/cbus"
	"github.com/fawkner/cbus-bridge/internal/device"
	"github.com/fawkner/cbus-bridge/internal/infrastructure/config"
	"github.com/fawkner/cbus-bridge/internal/infrastructure/database"
	"github.com/fawkner/cbus-bridge/internal/infrastructure/influxdb"
	"github.com/fawkner/cbus-bridge/internal/infrastructure/logging"
	"github.com/fawkner/cbus-bridge/internal/infrastructure/mqtt"
	"github.com/fawkner/cbus-bridge/internal/state"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting cbusbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the history database (optional)
	var history state.HistoryRecorder
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if schemaErr := db.InitSchema(ctx); schemaErr != nil {
			return fmt.Errorf("initialising schema: %w", schemaErr)
		}
		history = state.NewSQLiteHistory(db, cfg.CBus.Network, cfg.CBus.Application)
		log.Info("state history enabled", "path", cfg.Database.Path)
	} else {
		log.Info("state history disabled")
	}

	// Build the device registry from configured devices and templates
	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("building device registry: %w", err)
	}
	registry.SetLogger(log)
	log.Info("device registry initialised", "devices", registry.Count())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to the bus
	busClient, err := cbus.Connect(ctx, cbus.ClientConfig{
		Transport: cbus.TransportConfig{
			Interface:    string(cfg.CBus.Interface),
			Host:         cfg.CBus.Host,
			Port:         cfg.CBus.Port,
			SerialDevice: cfg.CBus.SerialDevice,
			Timeout:      cfg.CBus.Timeout(),
		},
		Network:        cfg.CBus.Network,
		Application:    cfg.CBus.Application,
		ReadTimeout:    cfg.CBus.Timeout(),
		ConnectRetries: cfg.CBus.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("connecting to C-Bus: %w", err)
	}
	defer func() {
		log.Info("closing bus connection")
		if closeErr := busClient.Close(); closeErr != nil {
			log.Error("error closing bus connection", "error", closeErr)
		}
	}()
	busClient.SetLogger(log)
	log.Info("C-Bus connected",
		"interface", cfg.CBus.Interface,
		"network", cfg.CBus.Network,
		"application", cfg.CBus.Application,
	)

	// Build the state store and seed configured groups
	store := state.New(state.Config{
		PollInterval: cfg.CBus.PollInterval(),
	}, busClient, nil, history)
	store.SetLogger(log)

	groups := make([]int, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		groups = append(groups, d.Group)
	}
	store.Seed(groups)

	// Build the dispatcher and wire it (plus telemetry) as the store's
	// change notification sinks
	dispatcher := bridge.New(bridge.Config{
		Scheme: bridge.TopicScheme{
			Root:        cfg.MQTT.TopicRoot,
			Network:     cfg.CBus.Network,
			Application: cfg.CBus.Application,
		},
		QoS: byte(cfg.MQTT.QoS),
	}, mqttClient, store, registry)
	dispatcher.SetLogger(log)

	notifiers := state.Notifiers{dispatcher}
	if influxClient != nil {
		notifiers = append(notifiers, state.NotifierFunc(func(st state.DeviceState) {
			influxClient.WriteGroupLevel(cfg.CBus.Network, cfg.CBus.Application,
				st.Group, st.Level, string(st.LastSource))
		}))
	}
	store.SetNotifier(notifiers)

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("subscribing to write topics: %w", err)
	}
	log.Info("dispatcher started", "topic_root", cfg.MQTT.TopicRoot)

	// Run the schedulers and the bus event consumer
	if cfg.CBus.Monitoring.Enabled {
		go store.Run(ctx, busClient.Events())
		log.Info("state schedulers started",
			"poll_interval", cfg.CBus.PollInterval(),
		)

		// Ask every group to report so the table starts warm instead of
		// waiting for the first poll.
		if err := busClient.QueryStatus(ctx); err != nil {
			log.Warn("initial status query failed", "error", err)
		}
	} else {
		log.Info("monitoring disabled, schedulers not started")
	}

	// Start the heartbeat reporter
	healthCfg := bridge.HealthReporterConfig{
		Version:   version,
		Topics:    mqttClient.Topics(),
		Publisher: mqttClient,
		Bus:       busClient,
		Store:     store,
		Bridge:    dispatcher,
		Registry:  registry,
	}
	if influxClient != nil {
		healthCfg.StatsSink = influxClient.WriteBridgeStats
	}
	health := bridge.NewHealthReporter(healthCfg)
	health.SetLogger(log)
	health.Start(ctx)
	defer health.Stop()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Health reporter (final stopping status)
	// 2. Bus connection
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database (if enabled)

	log.Info("cbusbridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CBUSBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CBUSBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildRegistry converts configured devices and templates into the
// registry's own types.
func buildRegistry(cfg *config.Config) (*device.Registry, error) {
	templates := make([]device.Template, 0, len(cfg.Templates))
	for _, t := range cfg.Templates {
		templates = append(templates, device.Template{
			Name:     t.Name,
			Kind:     device.Kind(t.Type),
			Dimmable: t.Dimmable,
			Area:     t.Area,
		})
	}

	entries := make([]device.Entry, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		entries = append(entries, device.Entry{
			Group:    d.Group,
			Name:     d.Name,
			Kind:     device.Kind(d.Type),
			Dimmable: d.Dimmable,
			Area:     d.Area,
			Template: d.Template,
		})
	}

	return device.NewRegistry(entries, templates)
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: History database (may be nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Bus health is verified during Connect: the init sequence completes
	// before the client is returned.

	return nil
}
