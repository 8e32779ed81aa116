package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/config"
	"freightflow/db"
	"freightflow/events"
	"freightflow/logging"
	"freightflow/store"
	"freightflow/store/memory"
	"freightflow/store/postgres"
	"freightflow/workflow"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "freightflow: %v\n", err)
		os.Exit(1)
	}
}

// backend is the storage the process runs against.
type backend struct {
	store    store.Store
	users    auth.Repository
	carriers carrier.ProfileReader
	outbox   events.Outbox
	close    func()
}

func openBackend(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (backend, error) {
	if cfg.StorageDriver == config.DriverMemory {
		log.WithField("action", "storage_selected").Warn("using in-memory storage; data is lost on exit")
		mem := memory.New()
		return backend{store: mem, users: mem.Users(), carriers: mem.CarrierProfiles(), outbox: mem, close: func() {}}, nil
	}

	if cfg.MigrationURL != "" {
		if err := db.RunMigrations(cfg.MigrationURL, cfg.DatabaseURL); err != nil {
			return backend{}, err
		}
		log.WithField("action", "migrations_applied").Info("database schema up to date")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return backend{}, err
	}
	pg := postgres.New(pool).WithLogger(log)
	return backend{
		store:    pg,
		users:    auth.NewRepository(pool),
		carriers: pg.CarrierProfiles(),
		outbox:   pg,
		close:    pool.Close,
	}, nil
}

func openPublisher(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (events.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		return events.LogPublisher{Log: log}, func() {}, nil
	}
	p, err := events.DialRabbit(ctx, cfg.AMQPURL, cfg.AMQPExchange, log)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

func run() error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}
	log, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer be.close()

	publisher, closePublisher, err := openPublisher(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open publisher: %w", err)
	}
	defer closePublisher()

	svc := workflow.NewService(be.store, log).
		WithLocation(cfg.Location()).
		WithSettlementCutoff(cfg.SettlementCutoffHour)

	server := &Server{
		authService:    auth.NewService(be.users, cfg.JWTSecret).WithLogger(log),
		workflow:       svc,
		carrierService: carrier.NewService(be.carriers),
		log:            log,
		timeout:        cfg.RequestTimeout,
	}
	httpServer := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	relay := events.NewRelay(be.outbox, publisher, log, cfg.OutboxPollInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"action": "server_started", "address": cfg.ServerAddress}).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.WithField("action", "server_stopping").Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
