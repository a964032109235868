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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/ukydev/fieldops/internal/auth"
	"github.com/ukydev/fieldops/internal/config"
	"github.com/ukydev/fieldops/internal/custody"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/evidence"
	"github.com/ukydev/fieldops/internal/handlers"
	"github.com/ukydev/fieldops/internal/inventory"
	"github.com/ukydev/fieldops/internal/lifecycle"
	"github.com/ukydev/fieldops/internal/metrics"
	"github.com/ukydev/fieldops/internal/notify"
)

type flags struct {
	configPath string
	store      string
	port       string
	seed       bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := pflag.NewFlagSet("fieldops", pflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.store, "store", "", "store driver: sqlite, mongo or memory (overrides config)")
	fs.StringVar(&f.port, "port", "", "HTTP port (overrides config)")
	fs.BoolVar(&f.seed, "seed", false, "load demo technicians, jobs, assets and consumables")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// loadConfig reads the config and applies command-line overrides.
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.store != "" {
		cfg.StoreDriver = f.store
	}
	if f.port != "" {
		cfg.Port = f.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return db.OpenSQLite(cfg.SQLitePath)
	case config.DriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store, err := db.NewMongoStore(ctx, client, cfg.MongoDB)
		if err != nil {
			client.Disconnect(ctx)
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return db.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// app is the wired service.
type app struct {
	store     db.Store
	publisher *notify.Publisher
	handler   http.Handler
}

func buildApp(ctx context.Context, cfg *config.Config, seed bool) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	log.WithField("driver", cfg.StoreDriver).Info("Store opened")

	if seed {
		if err := db.Seed(ctx, store, time.Now()); err != nil {
			store.Close(ctx)
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	a := &app{store: store}
	logger := log.StandardLogger()

	coordinator := custody.New(store, custody.Options{Logger: logger, MaxConflictRetries: cfg.MaxConflictRetries})
	engineOpts := lifecycle.Options{
		Logger:             logger,
		MaxConflictRetries: cfg.MaxConflictRetries,
		Releaser:           coordinator,
	}
	if cfg.MQTTBroker != "" {
		client, err := notify.Connect(cfg.MQTTBroker, cfg.MQTTClientID, 10*time.Second)
		if err != nil {
			// Notifications are optional; the engine runs without them.
			log.WithError(err).WithField("broker", cfg.MQTTBroker).Warn("MQTT unavailable, lifecycle notifications disabled")
		} else {
			a.publisher = notify.NewPublisher(client, cfg.MQTTTopicPrefix)
			engineOpts.Publisher = a.publisher
			log.WithField("broker", cfg.MQTTBroker).Info("Publishing lifecycle notifications")
		}
	}

	deps := handlers.Dependencies{
		Jobs:           lifecycle.New(store, engineOpts),
		Custody:        coordinator,
		Inventory:      inventory.New(store, inventory.Options{Logger: logger, MaxConflictRetries: cfg.MaxConflictRetries}),
		Evidence:       evidence.New(store, evidence.Options{Logger: logger, MaxConflictRetries: cfg.MaxConflictRetries}),
		Tokens:         auth.NewService(cfg.JWTSecret, cfg.JWTExpiry),
		Technicians:    store,
		LoginRateLimit: cfg.LoginRateLimit,
	}
	if cfg.MetricsEnabled {
		deps.Registry = metrics.NewRegistry()
	}
	a.handler = handlers.NewRouter(deps)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if err := a.store.Close(ctx); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid flags: %v", err)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ConfigureLogger()

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, f.seed)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	a.close(shutdownCtx)
	log.Info("Server exited")
}
