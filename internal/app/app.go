// Package app assembles the store, trigger handlers and gateways from
// configuration. The server, consumer and ridectl binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/enforcer"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/importer"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/migrations"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	// Base is the raw backend. Store reports every write to the change
	// sink and is what domain code writes through.
	Base  storage.Store
	Store *storage.ObservedStore
	Bus   *events.Bus

	Importer *importer.Importer
	Enforcer *enforcer.Enforcer
	Notifier *notify.Notifier
	Queue    *notify.QueueProcessor
	WS       *dispatch.WSRegistry

	closers []func(context.Context) error
}

// New connects to the configured backends. With Kafka configured, changes
// are published to the topic and triggers run in the consumer; otherwise
// they run in-process on Bus.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Bus: events.NewBus(logger), WS: dispatch.NewWSRegistry()}

	base, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Base = base

	var sink storage.ChangeSink = a.Bus
	if cfg.KafkaEnabled() {
		pub := ingest.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		sink = pub
		logger.Info("change events published to kafka", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}
	a.Store = storage.Observe(base, sink, logger)

	claimGuard, queueGuard := a.guards()
	sms := dispatch.NewTwilioSMS(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)
	var fcm dispatch.Pusher
	if cfg.FCMEndpoint != "" && cfg.FCMKey != "" {
		fcm = dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey)
	}

	a.Importer = importer.New(a.Store, logger)
	a.Enforcer = enforcer.New(a.Store, logger)
	a.Notifier = notify.New(notify.StoreDirectory{Store: base}, claimGuard, sms, logger)
	a.Notifier.Live = a.WS
	a.Queue = notify.NewQueueProcessor(a.Store, queueGuard, dispatch.NewPushDispatcher(a.WS, fcm), sms, logger)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	switch a.Config.StoreBackend {
	case config.BackendPostgres:
		ps, err := storage.NewPostgresStore(a.Config.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return ps.Close() })
		if a.Config.RunMigrations {
			if err := migrate(ctx, ps, a.Logger); err != nil {
				return nil, err
			}
		}
		return ps, nil
	case config.BackendMongo:
		ms, err := storage.NewMongoStore(ctx, a.Config.MongoURI, a.Config.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		a.closers = append(a.closers, ms.Close)
		return ms, nil
	default:
		a.Logger.Warn("using in-memory store; data is lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

func migrate(ctx context.Context, ps *storage.PostgresStore, logger *slog.Logger) error {
	scripts, err := migrations.Scripts()
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, s := range scripts {
		if err := ps.Migrate(ctx, s.SQL); err != nil {
			return fmt.Errorf("migration %s: %w", s.Name, err)
		}
		logger.Info("migration applied", "name", s.Name)
	}
	return nil
}

// guards prefers Redis markers when REDIS_ADDR is set. Store markers are
// written to the unobserved backend so they do not produce change events.
func (a *App) guards() (claim, queue notify.Guard) {
	if a.Config.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr, Password: a.Config.RedisPassword})
		a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
		return notify.NewRedisGuard(rc, notify.GuardNamespace, a.Config.GuardTTL),
			notify.NewRedisGuard(rc, notify.QueueGuardNamespace, a.Config.GuardTTL)
	}
	return notify.NewStoreGuard(a.Base, notify.GuardNamespace), notify.NewStoreGuard(a.Base, notify.QueueGuardNamespace)
}

// RegisterTriggers wires the document triggers onto bus.
func (a *App) RegisterTriggers(bus *events.Bus) {
	bus.OnCreate(models.CollectionLiveRides, "ensureLiveRideOpen", a.Enforcer.HandleCreated)
	bus.OnCreate(models.CollectionClaimedRides, "notifyDriverOnClaim", a.Notifier.HandleClaimCreated)
	bus.OnUpdate(models.CollectionLiveRides, "notifyDriverOnLiveClaim", a.Notifier.HandleLiveUpdated)
	bus.OnCreate(models.CollectionNotifyQueue, "notifyQueueOnCreate", a.Queue.HandleCreated)
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
