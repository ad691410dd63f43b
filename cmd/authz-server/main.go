// Package main provides the entry point for the authorization server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/policyflow/go-core/internal/api/rest"
	"github.com/policyflow/go-core/internal/audit"
	"github.com/policyflow/go-core/internal/cache"
	"github.com/policyflow/go-core/internal/engine"
	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/internal/metrics"
	"github.com/policyflow/go-core/internal/policy"
	"github.com/policyflow/go-core/internal/storage"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to YAML config file")
		policyDir       = flag.String("policy-dir", "", "Directory to load policy definitions from (overrides config)")
		logLevel        = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("authz-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *policyDir != "" {
		cfg.Policies.Dir = *policyDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := initLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting authorization server",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	decisionCache, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Fatal("failed to create decision cache", zap.Error(err))
	}

	auditLogger, err := audit.NewLogger(&cfg.Audit)
	if err != nil {
		logger.Fatal("failed to create audit logger", zap.Error(err))
	}
	defer auditLogger.Close()

	registry := policy.NewRegistry(logger)
	loader := policy.NewLoader(logger)

	if cfg.Policies.Dir != "" {
		defs, err := loader.LoadFromDirectory(cfg.Policies.Dir)
		if err != nil {
			logger.Fatal("failed to load policy definitions", zap.Error(err))
		}
		for _, def := range defs {
			if _, err := registry.Register(def); err != nil {
				logger.Fatal("failed to register policy definition",
					zap.String("entity", def.Entity),
					zap.Error(err),
				)
			}
		}
		logger.Info("policy definitions loaded",
			zap.String("dir", cfg.Policies.Dir),
			zap.Strings("entities", registry.Entities()),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Policies.Watch && cfg.Policies.Dir != "" {
		watcher, err := policy.NewFileWatcher(cfg.Policies.Dir, registry, loader, logger)
		if err != nil {
			logger.Fatal("failed to create policy watcher", zap.Error(err))
		}
		if err := watcher.Watch(ctx); err != nil {
			logger.Fatal("failed to start policy watcher", zap.Error(err))
		}
		defer watcher.Stop()

		go func() {
			for ev := range watcher.EventChan() {
				if m != nil {
					m.RecordReload(ev.Error == nil)
				}
			}
		}()
	}

	store, dbCloser, err := buildStore(cfg.Storage)
	if err != nil {
		logger.Fatal("failed to create record store", zap.Error(err))
	}
	if dbCloser != nil {
		defer dbCloser.Close()
	}

	eng := engine.New(engine.Config{
		Cache:   decisionCache,
		Metrics: m,
		Audit:   auditLogger,
		Logger:  logger,
	}, registry)

	restCfg := rest.Config{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		EnableCORS:   cfg.Server.EnableCORS,
		Version:      Version,
	}
	if m != nil {
		restCfg.MetricsHandler = m.Handler()
	}
	if cfg.Auth.Enabled {
		authn, err := rest.NewAuthenticator(cfg.Auth.Secret, []string{"/health", "/metrics"})
		if err != nil {
			logger.Fatal("failed to create authenticator", zap.Error(err))
		}
		restCfg.Authenticator = authn
	}

	srv, err := rest.New(restCfg, eng, store, logger)
	if err != nil {
		logger.Fatal("failed to create REST server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		_ = auditLogger.Flush()
	}

	logger.Info("server stopped")
}

// buildStore constructs the record store the query endpoint serves
// from. A nil store disables the endpoint.
func buildStore(cfg StorageConfig) (storage.RecordStore, *sql.DB, error) {
	switch cfg.Driver {
	case "":
		return nil, nil, nil
	case "memory":
		return storage.NewMemoryStore(), nil, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return storage.NewSQLStore(db, filter.Postgres, cfg.Tables), db, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return storage.NewSQLStore(db, filter.SQLite, cfg.Tables), db, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// initLogger initializes the zap logger.
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
