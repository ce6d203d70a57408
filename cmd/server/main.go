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

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dinein/backend/internal/cache"
	"dinein/backend/internal/cart"
	"dinein/backend/internal/checkout"
	"dinein/backend/internal/config"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/httpapi"
	"dinein/backend/internal/logger"
	"dinein/backend/internal/outbox"
	"dinein/backend/internal/printing"
	"dinein/backend/internal/realtime"
	"dinein/backend/internal/remote"
	"dinein/backend/internal/service"
	"dinein/backend/internal/stock"
	"dinein/backend/internal/store"
	"dinein/backend/internal/store/memory"
	pgstore "dinein/backend/internal/store/postgres"
	sqlitestore "dinein/backend/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		Service:  "dinein",
		Terminal: cfg.TerminalID,
		Level:    cfg.LogLevel,
		Format:   cfg.LogFormat,
	})
	if err := validateSecurityConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid security configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closers, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("repository unavailable")
	}

	carts := cart.Store(repo)
	if cfg.RedisAddr != "" {
		redisCarts := cache.NewRedisCartStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TerminalID, cfg.CartTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisCarts.Ping(pingCtx)
		cancel()
		if err != nil {
			log.WithError(err).Warn("redis unavailable, carts are kept in the repository only")
			_ = redisCarts.Close()
		} else {
			carts = cache.NewWriteThrough(redisCarts, repo, log.WithField("component", "cart_cache"))
			closers = append(closers, redisCarts.Close)
			log.Info("cart cache: redis")
		}
	}

	bus := eventbus.New(log)
	queue := outbox.New(repo)
	dispatcher := printing.NewDispatcher(repo, printing.NewDeviceConnector(), bus, log.WithField("component", "printing"))
	reconciler := stock.NewReconciler(repo, bus, log.WithField("component", "stock"))

	manager := checkout.NewManager(checkout.Deps{
		Repo:    repo,
		Carts:   carts,
		Bus:     bus,
		Stock:   reconciler,
		Outbox:  queue,
		Printer: dispatcher,
		Log:     log.WithField("component", "checkout"),
	}, checkout.Options{
		KitchenRouting: cfg.KitchenRouting,
		TokenNumbers:   cfg.TokenNumbers,
		PrintReceipt:   cfg.PrintReceipt,
		PrintKOT:       cfg.PrintKOT,
		OpenDrawer:     cfg.OpenDrawer,
	})

	svc := service.New(repo, manager, queue, bus, log)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, cfg.ManagerPIN, repo, log)
	hub := realtime.NewHub(bus, log, cfg.AllowedOrigin)
	api := httpapi.New(svc, auth, hub, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.Address()).Info("dine-in backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.SyncEnabled() {
		client, err := remote.New(remote.Config{
			BaseURL:    cfg.RemoteBaseURL,
			TerminalID: cfg.TerminalID,
			Secret:     cfg.RemoteSecret,
			Timeout:    cfg.RemoteCallTimeout,
		})
		if err != nil {
			log.WithError(err).Fatal("invalid remote configuration")
		}
		worker := outbox.NewWorker(queue, client, outbox.WorkerConfig{
			Interval:    cfg.SyncInterval,
			MaxAttempts: cfg.SyncMaxAttempts,
		}, bus, log)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
		log.WithField("remote", cfg.RemoteBaseURL).Info("outbox sync enabled")
	} else {
		log.Info("outbox sync disabled, entries stay pending")
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		hub.Close()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close failed")
		}
	}
	log.Info("server stopped")
}

func openRepository(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store.Repository, []func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := pgstore.New(openCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		log.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case config.DriverSQLite:
		db, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		log.WithField("path", cfg.SQLitePath).Info("repository: sqlite")
		return db, []func() error{db.Close}, nil
	default:
		log.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	if cfg.SyncEnabled() && len(cfg.RemoteSecret) < 32 {
		return fmt.Errorf("REMOTE_SECRET must be at least 32 characters when REMOTE_BASE_URL is set")
	}
	return nil
}

// validatePINStrength rejects repeated-digit, sequential and commonly used PINs.
func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must be digits only")
		}
	}
	known := map[string]bool{
		"121212": true, "112233": true, "123123": true, "101010": true, "696969": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame, ascending, descending := true, true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		allSame = allSame && diff == 0
		ascending = ascending && diff == 1
		descending = descending && diff == -1
	}
	switch {
	case allSame:
		return fmt.Errorf("repeated-digit PIN not allowed")
	case ascending, descending:
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
