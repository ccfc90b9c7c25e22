package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devportal-core/internal/api"
	"github.com/nerrad567/devportal-core/internal/audit"
	"github.com/nerrad567/devportal-core/internal/auth"
	"github.com/nerrad567/devportal-core/internal/device"
	"github.com/nerrad567/devportal-core/internal/infrastructure/config"
	"github.com/nerrad567/devportal-core/internal/infrastructure/database"
	"github.com/nerrad567/devportal-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/devportal-core/internal/infrastructure/logging"
	"github.com/nerrad567/devportal-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devportal-core/internal/infrastructure/natsbus"
	"github.com/nerrad567/devportal-core/internal/monitor"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep registered devices connected and serve the local API",
		Long: `serve runs until interrupted. It connects every registered device,
retries failed connects, streams system performance and publishes status to
the configured MQTT broker, NATS server and InfluxDB bucket. Device commands
are accepted on MQTT, NATS and, when api.enabled is set, the REST API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a.cfg, a.build)
		},
	}
}

// serve is the long-running service. Deferred closes run in reverse order
// of startup.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - cfg: Loaded configuration
//   - build: Version stamped into logs and the API
//
// Returns:
//   - error: nil on clean shutdown, or the first startup failure
func serve(ctx context.Context, cfg *config.Config, build BuildInfo) error { //nolint:gocognit,gocyclo // sequential startup of optional components
	log := logging.New(cfg.Logging, build.Version)
	log.Info("starting devportal service",
		"version", build.Version,
		"commit", build.Commit,
		"build_date", build.Date,
	)

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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetStats().TotalDevices)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, audit.SourceMonitor, log)

	// MQTT (optional)
	mqttClient, err := mqtt.Connect(cfg.MQTT, log)
	switch {
	case errors.Is(err, mqtt.ErrDisabled):
		log.Info("MQTT disabled")
	case err != nil:
		return fmt.Errorf("connecting to MQTT: %w", err)
	default:
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	// NATS (optional)
	natsClient, err := natsbus.Connect(cfg.NATS, log)
	switch {
	case errors.Is(err, natsbus.ErrDisabled):
		log.Info("NATS disabled")
	case err != nil:
		return fmt.Errorf("connecting to NATS: %w", err)
	default:
		defer func() {
			log.Info("draining NATS connection")
			if closeErr := natsClient.Close(); closeErr != nil {
				log.Error("error closing NATS", "error", closeErr)
			}
		}()
	}

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	mon, err := monitor.New(cfg.Portal, registry, monitor.Options{Logger: log, Audit: recorder})
	if err != nil {
		return fmt.Errorf("creating device monitor: %w", err)
	}
	if mqttClient != nil {
		mon.AddSink(monitor.NewMQTTSink(mqttClient, log))
		// #nosec G115 -- qos is validated to 0..2
		if subErr := mqttClient.Subscribe(mqtt.Topics{}.AllDeviceCommands(), byte(cfg.MQTT.QoS), mon.HandleMQTTCommand); subErr != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", subErr)
		}
	}
	if natsClient != nil {
		mon.AddSink(monitor.NewNATSSink(natsClient, log))
		if subErr := natsClient.ServeCommands(mon.HandleNATSCommand); subErr != nil {
			return fmt.Errorf("serving NATS commands: %w", subErr)
		}
	}
	if influxClient != nil {
		mon.AddSink(monitor.NewInfluxSink(influxClient))
	}

	// Local API with the shared WebSocket hub
	var server *api.Server
	if cfg.API.Enabled {
		operators, opErr := auth.NewOperatorStore(cfg.Security.Operators)
		if opErr != nil {
			return fmt.Errorf("loading operators: %w", opErr)
		}
		if operators.Len() == 0 {
			log.Warn("no API operators configured; only health endpoints are usable")
		}

		hub := api.NewHub(cfg.WebSocket, log)
		go hub.Run(ctx)
		mon.AddSink(monitor.NewHubSink(hub))

		server, err = api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Security:    cfg.Security,
			Logger:      log,
			Registry:    registry,
			Operators:   operators,
			Controller:  mon,
			AuditRepo:   auditRepo,
			Audit:       recorder,
			ExternalHub: hub,
			Version:     build.Version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	mon.Start(ctx)
	defer mon.Stop()

	if err := healthCheck(ctx, db, mqttClient, natsClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies the connections that were opened. Nil clients are
// disabled components and are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, natsClient *natsbus.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if natsClient != nil {
		if err := natsClient.HealthCheck(); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
