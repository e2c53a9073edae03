// Verdant Core - Plant Monitoring Platform
//
// This is the main entry point for the Verdant Core application.
// Verdant Core is the backend for a network of plant-monitoring kits:
//   - Kits publish sensor measurements over an authenticated websocket channel
//   - Dashboard viewers subscribe to a kit's live measurement stream
//   - REDUCED measurements are persisted to SQLite; RAW ones are ephemeral
//   - Optional mirrors: MQTT broker fan-out and InfluxDB telemetry
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/verdantlab/verdant-core/migrations"

	"github.com/verdantlab/verdant-core/internal/api"
	"github.com/verdantlab/verdant-core/internal/auth"
	"github.com/verdantlab/verdant-core/internal/infrastructure/config"
	"github.com/verdantlab/verdant-core/internal/infrastructure/database"
	"github.com/verdantlab/verdant-core/internal/infrastructure/influxdb"
	"github.com/verdantlab/verdant-core/internal/infrastructure/logging"
	"github.com/verdantlab/verdant-core/internal/infrastructure/mqtt"
	"github.com/verdantlab/verdant-core/internal/kit"
	"github.com/verdantlab/verdant-core/internal/measurement"
	"github.com/verdantlab/verdant-core/internal/stream"
)

// Stamped at build time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the components together and blocks until the context is
// cancelled. It is separate from main so tests can drive it and so every
// exit path flows through the deferred closers in reverse start order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Verdant Core", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "log_level", cfg.Logging.Level)

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if err := db.Close(); err != nil {
			log.Error("error closing database", "error", err)
		}
	}()

	// Domain layer: registry, accounts, measurement pipeline.
	kits := kit.NewRegistry(kit.NewSQLiteRepository(db.DB))
	kits.SetLogger(log)
	users := auth.NewUserRepository(db.DB)
	if _, err := auth.SeedAdmin(ctx, users, log.Logger); err != nil {
		return fmt.Errorf("seeding admin account: %w", err)
	}
	resolver := auth.NewResolver(kits, users, cfg.Security.JWT.Secret, log)
	normalizer := measurement.NewNormalizer(kits)
	store := measurement.NewSQLiteStore(db.DB)
	streams := stream.NewRegistry(log)

	mqttClient, mqttDown, err := connectMQTT(cfg.MQTT, streams, log)
	if err != nil {
		return err
	}
	defer mqttDown()

	influxClient, influxDown, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	defer influxDown()

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Kits:       kits,
		Users:      users,
		Resolver:   resolver,
		Normalizer: normalizer,
		Store:      store,
		Streams:    streams,
		Influx:     influxClient,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"websocket", cfg.WebSocket.Path,
	)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Path)
	return db, nil
}

// connectMQTT brings up the optional broker mirror and attaches it to the
// stream registry. Returns a nil client and a no-op closer when disabled.
func connectMQTT(cfg config.MQTTConfig, streams *stream.Registry, log *logging.Logger) (*mqtt.Client, func(), error) {
	if !cfg.Enabled {
		log.Info("MQTT mirror disabled")
		return nil, func() {}, nil
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetOnConnect(func() { log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	streams.SetMirror(mqtt.NewMeasurementMirror(client, log))

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		"client_id", cfg.ClientID,
	)
	down := func() {
		log.Info("disconnecting from MQTT")
		if err := client.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}
	return client, down, nil
}

// connectInflux brings up the optional telemetry sink. Returns a nil
// client and a no-op closer when disabled.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, func(), error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, func() {}, nil
	}

	client, err := influxdb.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })

	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	down := func() {
		log.Info("closing InfluxDB connection")
		if err := client.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
	}
	return client, down, nil
}

// getConfigPath honours VERDANT_CONFIG, falling back to the repo default.
func getConfigPath() string {
	if path := os.Getenv("VERDANT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck probes every connected backend. The MQTT and InfluxDB
// clients are nil when their mirrors are disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
