// FrameGate - gallery gateway for Samsung Frame TVs
//
// This is the main entry point. FrameGate finds Frame TVs on the local
// network, remembers the one the user picked, and serves a gallery UI and
// HTTP API for the artwork stored on it:
//   - SSDP discovery with descriptor checks
//   - One serialised art-channel connection per selected TV
//   - Persistent thumbnail cache in SQLite
//   - Optional MQTT and InfluxDB event feeds
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/framegate/internal/api"
	"github.com/nerrad567/framegate/internal/device"
	"github.com/nerrad567/framegate/internal/discovery"
	"github.com/nerrad567/framegate/internal/events"
	"github.com/nerrad567/framegate/internal/infrastructure/config"
	"github.com/nerrad567/framegate/internal/infrastructure/database"
	"github.com/nerrad567/framegate/internal/infrastructure/influxdb"
	"github.com/nerrad567/framegate/internal/infrastructure/logging"
	"github.com/nerrad567/framegate/internal/infrastructure/mqtt"
	"github.com/nerrad567/framegate/internal/settings"
	"github.com/nerrad567/framegate/internal/thumbcache"
	"github.com/nerrad567/framegate/migrations"
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

// run is the application, separated from main for testability. It returns
// nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting FrameGate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Thumbnail cache database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.ThumbnailCache.Path,
		WALMode:     cfg.ThumbnailCache.WALMode,
		BusyTimeout: cfg.ThumbnailCache.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening thumbnail cache: %w", err)
	}
	defer func() {
		log.Info("closing thumbnail cache")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing thumbnail cache", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("thumbnail cache ready", "path", db.Path(), "migrations_applied", applied)

	store := settings.NewStore(cfg.Settings.Path)
	cache := thumbcache.New(db)
	cache.SetLogger(log.Component("thumbcache"))

	// Event sinks. The hub exists before the server so it can be a sink.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)
	sinks := events.Fanout{hub}

	mqttClient := connectMQTT(cfg.MQTT, log)
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		mqttSink := events.NewMQTTSink(mqttClient, mqttClient.Topics())
		mqttSink.SetLogger(log.Component("mqtt"))
		async := events.NewAsync(mqttSink, events.DefaultAsyncBuffer)
		// Runs before the client closes, so queued events still go out.
		defer func() {
			async.Close()
			if dropped := async.Dropped(); dropped > 0 {
				log.Warn("MQTT events dropped", "count", dropped)
			}
		}()
		sinks = append(sinks, async)
	}

	influxClient := connectInfluxDB(ctx, cfg.InfluxDB, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		sinks = append(sinks, events.NewMetricsSink(influxClient))
	}

	// Device registry
	registry := device.NewRegistry(store, cache, device.FrameTVDialer(cfg.Device), device.OptionsFromConfig(cfg.Device))
	registry.SetLogger(log.Component("device"))
	registry.SetEventSink(sinks)
	defer func() {
		log.Info("closing device connection")
		if closeErr := registry.Close(); closeErr != nil {
			log.Error("error closing device connection", "error", closeErr)
		}
	}()

	conn, err := registry.InitializeFromSettings(ctx)
	switch {
	case err != nil:
		// A damaged settings file should not keep the gallery from starting;
		// the user can pick the TV again.
		log.Error("could not restore TV selection", "path", store.Path(), "error", err)
	case conn != nil:
		log.Info("TV selection restored", "address", conn.Address())
	}

	scanner := discovery.New(cfg.Discovery)
	scanner.SetLogger(log.Component("discovery"))
	scanner.SetEventSink(sinks)

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Registry:   registry,
		Scanner:    scanner,
		Thumbnails: cache,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr())
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse order: API server, device connection,
	// InfluxDB, MQTT event queue, MQTT, thumbnail cache.
	return nil
}

// loadConfig reads the configuration. FRAMEGATE_CONFIG names the file; the
// default path may be absent, in which case the built-in defaults apply.
func loadConfig(log *logging.Logger) (*config.Config, error) {
	path := getConfigPath()
	if path != defaultConfigPath {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		log.Info("configuration loaded", "path", path)
		return cfg, nil
	}

	cfg, fromFile, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if fromFile {
		log.Info("configuration loaded", "path", path)
	} else {
		log.Info("no configuration file, using defaults", "path", path)
	}
	return cfg, nil
}

// getConfigPath returns the configuration file path.
// Uses FRAMEGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FRAMEGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT connects the optional MQTT event feed. A broker that cannot
// be reached is logged and the feed is skipped.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) *mqtt.Client {
	if !cfg.Enabled {
		log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		log.Warn("MQTT unavailable, events will not be published", "error", err)
		return nil
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"topic_prefix", client.Topics().Prefix(),
	)
	return client
}

// connectInfluxDB connects the optional telemetry feed.
func connectInfluxDB(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Client {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		log.Warn("InfluxDB unavailable, telemetry will not be recorded", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client
}

// healthCheck verifies the infrastructure connections. Optional clients
// may be nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("thumbnail cache: %w", err)
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
