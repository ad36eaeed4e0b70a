// Door-lock gateway daemon.
//
// doorlockd keeps track of which door locks are reachable, over a direct
// WebSocket session or a publish/subscribe broker, and delivers operator
// commands to them. Command outcomes are written to the audit trail and
// pushed to dashboard clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/Kenox00/door-lock-sub001/migrations"

	"github.com/Kenox00/door-lock-sub001/internal/api"
	"github.com/Kenox00/door-lock-sub001/internal/audit"
	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/broker"
	"github.com/Kenox00/door-lock-sub001/internal/device"
	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/database"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/influxdb"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/logging"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/mqtt"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/nats"
	"github.com/Kenox00/door-lock-sub001/internal/notify"
	"github.com/Kenox00/door-lock-sub001/internal/session"
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

// run wires the gateway and blocks until ctx is cancelled. Deferred closes
// run in reverse order: API, sessions, broker channel, manager, hub, broker
// connection, InfluxDB, database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting door-lock gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"gateway_id", cfg.Gateway.ID,
		"broker", cfg.Broker.Kind,
	)

	db, err := database.Open(ctx, database.Config{
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

	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedAdmin(ctx, users, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry loaded", "devices", len(registry.ListDevices()))

	auditRepo := audit.NewSQLiteRepository(db.DB)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	conn, err := connectBroker(cfg, log)
	if err != nil {
		return err
	}
	defer conn.close()

	hub := notify.NewHub(cfg.WebSocket, api.DeviceAuthorizer(registry))
	hub.SetLogger(log)
	defer hub.Close()

	manager := dispatch.New(registry, audit.NewSink(auditRepo), hub, dispatchOptions(cfg.Dispatch))
	manager.SetLogger(log)
	if influxClient != nil {
		manager.SetTelemetry(influxClient)
	}
	defer func() {
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing dispatch manager", "error", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })

	channel := broker.NewChannel(conn.bus, mqtt.Topics{Prefix: cfg.Broker.TopicPrefix}, manager, registry)
	channel.SetLogger(log)
	if startErr := channel.Start(gctx); startErr != nil {
		return fmt.Errorf("starting broker channel: %w", startErr)
	}
	defer channel.Stop()

	sessions := session.NewServer(cfg.Session, registry, manager)
	sessions.SetLogger(log)
	defer sessions.Close()

	srv, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Session:       cfg.Session,
		Security:      cfg.Security,
		Logger:        log,
		DB:            db,
		Devices:       registry,
		Users:         users,
		Audit:         auditRepo,
		Dispatch:      manager,
		Hub:           hub,
		DeviceChannel: sessions,
		Broker:        conn.status,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(gctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if healthErr := healthCheck(gctx, db, conn, influxClient); healthErr != nil {
		return fmt.Errorf("health check failed: %w", healthErr)
	}
	log.Info("gateway ready",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"device_session_path", cfg.Session.Path,
	)

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if waitErr := g.Wait(); waitErr != nil {
		return waitErr
	}
	log.Info("door-lock gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DOORLOCK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DOORLOCK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// dispatchOptions maps configuration onto the manager's tuning knobs.
func dispatchOptions(cfg config.DispatchConfig) dispatch.Options {
	return dispatch.Options{
		CommandTimeout:        cfg.GetCommandTimeout(),
		BrokerPresenceTTL:     cfg.GetBrokerPresenceTTL(),
		PresenceSweepInterval: cfg.GetPresenceSweepInterval(),
		LowBatteryThreshold:   cfg.LowBatteryThreshold,
		SinkTimeout:           cfg.GetSinkTimeout(),
	}
}

// brokerConn is the connected publish/subscribe transport.
type brokerConn struct {
	bus    broker.Bus
	status api.BrokerStatus
	health func(ctx context.Context) error
	close  func()
}

// connectBroker dials the broker selected by broker.kind.
func connectBroker(cfg *config.Config, log *logging.Logger) (*brokerConn, error) {
	switch cfg.Broker.Kind {
	case config.BrokerKindNATS:
		client, err := nats.Connect(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		client.SetLogger(log)
		client.SetOnDisconnect(func(err error) {
			log.Warn("NATS disconnected", "error", err)
		})
		log.Info("NATS connected", "url", cfg.NATS.URL)
		return &brokerConn{
			bus:    broker.NewNATSBus(client),
			status: client,
			health: client.HealthCheck,
			close: func() {
				log.Info("disconnecting from NATS")
				if err := client.Close(); err != nil {
					log.Error("error closing NATS", "error", err)
				}
			},
		}, nil

	default:
		client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: cfg.Broker.TopicPrefix})
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		return &brokerConn{
			bus:    broker.NewMQTTBus(client, cfg.MQTT.QoS),
			status: client,
			health: client.HealthCheck,
			close: func() {
				log.Info("disconnecting from MQTT")
				if err := client.Close(); err != nil {
					log.Error("error closing MQTT", "error", err)
				}
			},
		}, nil
	}
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, conn *brokerConn, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := conn.health(ctx); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
