package main

import (
	"context"
	"fmt"
	"time"

	_ "github.com/nerrad567/switchboard-core/migrations"

	"github.com/nerrad567/switchboard-core/internal/api"
	"github.com/nerrad567/switchboard-core/internal/bridge"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/config"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/database"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/logging"
	"github.com/nerrad567/switchboard-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/switchboard-core/internal/process"
)

// shutdownGrace is added to the worker graceful timeout when waiting for
// supervisors to stop.
const shutdownGrace = 5 * time.Second

// run starts the core and blocks until ctx is cancelled. Infrastructure is
// closed in reverse order of opening by the deferred calls.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Switchboard Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if path == "" {
		log.Info("no config file found, using defaults")
	} else {
		log.Info("configuration loaded", "path", path)
	}

	log = logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: time.Duration(cfg.Database.BusyTimeout) * time.Second,
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	checks := map[string]api.HealthChecker{"database": db}

	store := bridge.NewSQLiteStore(db.DB)
	store.SetLogger(log.With("component", "bridge_store"))

	hub := api.NewHub(cfg.WebSocket, log)
	sinks := bridge.MultiSink{hub}
	observers := bridge.Observers{store}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", mqttClient.Topics().Prefix,
		)

		publisher := newMQTTPublisher(mqttClient, log)
		sinks = append(sinks, publisher)
		observers = append(observers, publisher)
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

		observers = append(observers, influxObserver{client: influxClient})
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	manager := bridge.NewManager(bridge.Options{
		Launcher: bridge.NewProcessLauncher(newLauncher(cfg.Bridges, log)),
		Sink:     sinks,
		Observer: observers,
		Backoff:  backoffFor(cfg.Bridges),
		Store:    store,
		Logger:   log.With("component", "bridge"),
	})

	if mqttClient != nil {
		topics := mqttClient.Topics()
		if subErr := mqttClient.Subscribe(topics.AllBridgeCommands(), mqttClient.QoS(), commandHandler(topics, manager)); subErr != nil {
			return fmt.Errorf("subscribing to bridge commands: %w", subErr)
		}
		log.Info("listening for MQTT bridge commands", "topic", topics.AllBridgeCommands())
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.With("component", "api"),
		Bridges:  manager,
		Hub:      hub,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	go hub.Run(ctx)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	if err := manager.RestoreAutostart(ctx, cfg.Bridges.Autostart); err != nil {
		log.Warn("restoring autostart bridges", "error", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "bridges", manager.Running())

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := server.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Bridges.GracefulTimeout()+shutdownGrace)
	defer cancel()
	if err := manager.Shutdown(stopCtx); err != nil {
		log.Error("bridges did not stop cleanly", "error", err)
	}

	log.Info("Switchboard Core stopped")
	return nil
}

// newLauncher maps the bridges config section onto the process launcher.
func newLauncher(cfg config.BridgesConfig, log *logging.Logger) *process.Launcher {
	services := make(map[string]process.ServiceConfig, len(cfg.Services))
	for name, svc := range cfg.Services {
		services[name] = process.ServiceConfig{
			Args:    svc.Args,
			Env:     svc.Env,
			WorkDir: svc.WorkDir,
		}
	}

	launcher := process.NewLauncher(process.LauncherConfig{
		Prefix:          cfg.BinaryPrefix,
		Dir:             cfg.BinaryDir,
		GracefulTimeout: cfg.GracefulTimeout(),
		MaxLineSize:     cfg.MaxLineBytes,
		Services:        services,
	})
	launcher.SetLogger(log.With("component", "process"))
	return launcher
}

// backoffFor returns the restart policy named by restart_strategy.
func backoffFor(cfg config.BridgesConfig) bridge.Backoff {
	if cfg.RestartStrategy == config.RestartExponential {
		return bridge.ExponentialBackoff{
			Base: cfg.RestartDelay(),
			Max:  cfg.MaxRestartDelay(),
		}
	}
	return bridge.FixedBackoff(cfg.RestartDelay())
}
