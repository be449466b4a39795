// Package main provides the depot server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/depot/merges"
	"github.com/assetdepot/depot/pkg/depot/server"
	"github.com/assetdepot/depot/pkg/ha"
	"github.com/assetdepot/depot/pkg/identity"
)

func main() {
	var (
		listenAddr   string
		databaseType string
		databaseDSN  string
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "", "Database type (postgres, mysql, or sqlite)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	tokenCfg := identity.TokenConfigFromEnv()
	srv := server.New(db, tokenCfg, logger)

	haCfg := ha.ConfigFromEnv()
	migrate := func() error { return srv.AutoMigrate() }
	if haCfg.MigrationLockEnabled {
		locker := ha.NewMigrationLocker(db)
		err = locker.WithLock(ctx, migrate)
	} else {
		err = migrate()
	}
	if err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	if err := seedAdmin(srv.Users, logger); err != nil {
		logger.Error("failed to seed admin user", "error", err)
		os.Exit(1)
	}

	// Merge workers and audit retention are singleton loops. With leader
	// election enabled only the elected replica runs them; otherwise this
	// instance runs them unconditionally.
	runLoops := func(loopCtx context.Context) {
		workerCfg := merges.WorkerConfigFromEnv()
		pool := merges.NewWorkerPool(srv.Merges, workerCfg, logger)
		go pool.Run(loopCtx)

		auditCfg := audit.ConfigFromEnv()
		go audit.RunRetention(loopCtx, srv.Audit, auditCfg, logger)
	}
	if haCfg.LeaderElectionEnabled {
		elector := ha.NewLeaderElector(db, haCfg, logger)
		elector.OnStartLeading(runLoops)
		go elector.Run(ctx)
	} else {
		runLoops(ctx)
	}

	router := srv.MountRoutes()
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	logger.Info("depot server ready", "listen", listenAddr)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("depot server stopped")
}

func setupDatabase(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
	}
	if dbType == "" {
		dbType = os.Getenv("DATABASE_TYPE")
		if dbType == "" {
			dbType = "postgres"
		}
	}

	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
		dialector = postgres.Open(dsn)
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
		dialector = mysql.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "depot.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database type %q (expected postgres, mysql, or sqlite)", dbType)
	}

	return gorm.Open(dialector, &gorm.Config{})
}

// seedAdmin creates the bootstrap admin account when DEPOT_ADMIN_USERNAME
// and DEPOT_ADMIN_PASSWORD are set and the user does not exist yet.
func seedAdmin(users *identity.UserStore, logger *slog.Logger) error {
	username := os.Getenv("DEPOT_ADMIN_USERNAME")
	password := os.Getenv("DEPOT_ADMIN_PASSWORD")
	if username == "" || password == "" {
		return nil
	}

	existing, err := users.GetByUsername(username)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if _, err := users.Create(username, password, identity.AdminRole); err != nil {
		return err
	}
	logger.Info("seeded admin user", "username", username)
	return nil
}
