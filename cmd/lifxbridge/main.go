// Gray Logic LIFX Bridge
//
// This is the main entry point for the LIFX LAN bridge. It discovers and
// polls LIFX lights on the local network and connects them to Gray Logic
// Core over MQTT:
//   - Per-device coordinators poll state and publish it as retained messages
//   - Commands from Core are executed and acknowledged
//   - Devices are remembered in SQLite across restarts
//   - Optional telemetry to InfluxDB and device events to NATS
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-lifx/internal/api"
	"github.com/nerrad567/gray-logic-lifx/internal/bridges/lifx"
	"github.com/nerrad567/gray-logic-lifx/internal/device"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/natsbus"
	"github.com/nerrad567/gray-logic-lifx/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
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

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting LIFX bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	all, err := migrations.All()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if migrateErr := db.Migrate(ctx, all); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry and state history
	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	historyRepo := device.NewSQLiteStateHistoryRepository(db.DB)

	if days := cfg.Database.HistoryRetentionDays; days > 0 {
		pruneCtx, stopPrune := context.WithCancel(ctx)
		pruneDone := make(chan struct{})
		go func() {
			defer close(pruneDone)
			runHistoryPruner(pruneCtx, historyRepo, time.Duration(days)*24*time.Hour, historyPruneInterval, log)
		}()
		defer func() {
			stopPrune()
			<-pruneDone
		}()
	}

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
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

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
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to NATS (optional)
	var bus *natsbus.Bus
	if cfg.NATS.Enabled {
		bus, err = natsbus.Connect(cfg.NATS, log)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer func() {
			log.Info("closing NATS connection")
			if closeErr := bus.Close(); closeErr != nil {
				log.Error("error closing NATS", "error", closeErr)
			}
		}()
		log.Info("NATS configured", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	} else {
		log.Info("NATS disabled")
	}

	// Start the LIFX bridge
	bridge, err := newBridge(cfg, bridgeDeps{
		mqtt:     mqttClient,
		registry: deviceRegistry,
		history:  historyRepo,
		influx:   influxClient,
		bus:      bus,
		metrics:  lifx.NewMetrics(prometheus.DefaultRegisterer),
		log:      log,
	})
	if err != nil {
		return fmt.Errorf("creating LIFX bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting LIFX bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping LIFX bridge")
		bridge.Stop()
	}()
	log.Info("LIFX bridge started",
		"bridge_id", cfg.Bridge.ID,
		"static_devices", len(cfg.LIFX.Devices),
		"discovery", cfg.LIFX.Discovery.Enabled,
	)

	if bus != nil {
		if reqErr := registerRequestHandlers(bus, bridge); reqErr != nil {
			return fmt.Errorf("registering NATS request handlers: %w", reqErr)
		}
	}

	// Start HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Bridge:   bridge,
			Registry: deviceRegistry,
			History:  historyRepo,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, NATS, InfluxDB,
	// MQTT, database.

	log.Info("LIFX bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LIFXBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LIFXBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// NATS reconnects in the background and is not required at startup.

	return nil
}

// bridgeDeps are the collaborators handed to the LIFX bridge. influx and
// bus may be nil.
type bridgeDeps struct {
	mqtt     *mqtt.Client
	registry *device.Registry
	history  device.StateHistoryRepository
	influx   *influxdb.Client
	bus      *natsbus.Bus
	metrics  *lifx.Metrics
	log      *logging.Logger
}

// newBridge builds the LIFX bridge from configuration.
func newBridge(cfg *config.Config, deps bridgeDeps) (*lifx.Bridge, error) {
	opts := lifx.BridgeOptions{
		Config:     bridgeConfig(cfg),
		MQTTClient: &mqttBridgeAdapter{client: deps.mqtt},
		Registry:   &registryAdapter{registry: deps.registry},
		History:    &historyAdapter{repo: deps.history},
		Metrics:    deps.metrics,
		Logger:     deps.log,
	}
	if deps.influx != nil {
		opts.Telemetry = &telemetryAdapter{client: deps.influx}
	}
	if deps.bus != nil {
		opts.Events = &eventAdapter{bus: deps.bus}
	}
	return lifx.NewBridge(opts)
}

// bridgeConfig maps the lifx and bridge config sections onto the bridge.
func bridgeConfig(cfg *config.Config) lifx.BridgeConfig {
	conn := lifx.ConnectionConfig{
		Port:           cfg.LIFX.Port,
		MessageTimeout: cfg.LIFX.MessageTimeout,
		RetryCount:     cfg.LIFX.RetryCount,
		OverallTimeout: cfg.LIFX.OverallTimeout,
		MaxInFlight:    int64(cfg.LIFX.MaxInFlight),
	}

	bc := lifx.BridgeConfig{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: time.Duration(cfg.Bridge.HealthInterval) * time.Second,
		Connection:     conn,
		Coordinator: lifx.CoordinatorConfig{
			UpdateInterval: cfg.LIFX.UpdateInterval,
			MaxInFlight:    int64(cfg.LIFX.MaxInFlight),
		},
	}

	if cfg.LIFX.Discovery.Enabled {
		bc.Discovery = &lifx.DiscoveryConfig{
			BroadcastAddresses: cfg.LIFX.Discovery.BroadcastAddresses,
			Port:               cfg.LIFX.Port,
			Interval:           cfg.LIFX.Discovery.Interval,
			GracePeriod:        cfg.LIFX.Discovery.GracePeriod,
			Connection:         conn,
		}
	}

	for _, d := range cfg.LIFX.Devices {
		bc.StaticDevices = append(bc.StaticDevices, lifx.StaticDevice{
			Host:   d.Host,
			Port:   d.Port,
			Serial: d.Serial,
		})
	}

	return bc
}
