package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freightmarket/auth"
	"freightmarket/config"
	"freightmarket/db"
	"freightmarket/events"
	"freightmarket/logging"
	"freightmarket/market"
)

func main() {
	configPath := flag.String("config", os.Getenv("FREIGHT_CONFIG"), "path to the TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "freightmarket: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.ProfileRuntime, logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	engine := market.New(backend, cfg.MarketOptions(), log)
	platformCfg, err := engine.Init(ctx, cfg.InitialPlatform())
	if err != nil {
		return fmt.Errorf("seed platform config: %w", err)
	}
	log.Info("platform ready",
		zap.String("admin", platformCfg.Admin),
		zap.Uint8("fee_percent", platformCfg.FeePercent),
		zap.Uint64("current_time", platformCfg.CurrentTime),
	)

	publisher, err := openPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("close publisher", zap.Error(err))
		}
	}()

	ttl, _ := cfg.TokenTTL()
	interval, _ := cfg.RelayInterval()
	shutdownTimeout, _ := cfg.ShutdownTimeout()

	authService := auth.NewService(backend.Accounts, cfg.Auth.JWTSecret, ttl)
	relay := events.NewRelay(backend.Outbox, publisher, log.Named("relay"), cfg.Events.BatchSize, interval)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           NewServer(engine, authService, log).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (market.Backend, func(), error) {
	if cfg.Storage.Driver == config.StorageMemory {
		log.Warn("using in-memory storage; state is lost on exit")
		return market.NewMemoryBackend(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return market.Backend{}, nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return market.Backend{}, nil, fmt.Errorf("apply migrations: %w", err)
	}
	return market.NewPostgresBackend(pool), pool.Close, nil
}

func openPublisher(cfg config.Config, log *zap.Logger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case config.EventsKafka:
		return events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic), nil
	case config.EventsRabbitMQ:
		p, err := events.NewRabbitPublisher(cfg.Events.RabbitMQURL, cfg.Events.Exchange)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return events.NewLogPublisher(log.Named("events")), nil
	}
}
