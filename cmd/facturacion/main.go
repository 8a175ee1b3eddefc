package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	accountpg "facturacl/ms_facturacion_marketplace/internal/adapters/account/postgres"
	auditpg "facturacl/ms_facturacion_marketplace/internal/adapters/audit/postgres"
	healthhttp "facturacl/ms_facturacion_marketplace/internal/adapters/http/health"
	processhttp "facturacl/ms_facturacion_marketplace/internal/adapters/http/process"
	saleshttp "facturacl/ms_facturacion_marketplace/internal/adapters/http/sales"
	"facturacl/ms_facturacion_marketplace/internal/adapters/integration"
	salepg "facturacl/ms_facturacion_marketplace/internal/adapters/sale/postgres"
	apphealth "facturacl/ms_facturacion_marketplace/internal/application/health"
	"facturacl/ms_facturacion_marketplace/internal/application/reconcile"
	appsync "facturacl/ms_facturacion_marketplace/internal/application/sync"
	"facturacl/ms_facturacion_marketplace/internal/core/audit"
	"facturacl/ms_facturacion_marketplace/internal/infrastructure/config"
	"facturacl/ms_facturacion_marketplace/internal/infrastructure/database"
	"facturacl/ms_facturacion_marketplace/internal/infrastructure/http/server"
	"facturacl/ms_facturacion_marketplace/internal/infrastructure/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "service stopped: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.App.Name, cfg.Log.Level, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	log.Info("database connection established", "database", cfg.Database.Database)

	if err := database.RunMigrations(ctx, pool, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	var auditRepo audit.Repository
	if cfg.Audit.Enabled {
		auditRepo = auditpg.NewRepository(pool, log)
		log.Info("provider call audit trail enabled", "max_body_size", cfg.Audit.MaxBodySize)
	}

	accountRepo := accountpg.NewRepository(pool, log)
	ledger := salepg.NewLedger(pool, log)

	registry := integration.NewRegistry(&cfg, accountRepo, auditRepo, log)
	engine := reconcile.NewService(ledger, accountRepo, registry, reconcile.Config{
		FetchLimit:             cfg.Sync.FetchLimit,
		UploadResponseMaxLen:   cfg.Sync.UploadResponseMaxLen,
		ProviderResponseMaxLen: cfg.Sync.ProviderResponseMaxLen,
	}, log)

	worker := appsync.NewWorker(engine, accountRepo, cfg.Sync.Interval, cfg.Sync.LookbackDays, log)
	if cfg.Sync.Enabled {
		go worker.Run(ctx)
	} else {
		log.Info("periodic sync disabled, only manual triggers will run")
	}

	healthService := apphealth.NewService(apphealth.Metadata{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}, pool)

	processHandler := processhttp.NewHandler(engine, worker, cfg.Auth.Enabled, log)
	salesHandler := saleshttp.NewHandler(ledger, cfg.Auth.Enabled, log)

	srv, err := server.New(server.Options{
		Config:         cfg,
		Logger:         log,
		HealthHandler:  http.HandlerFunc(healthhttp.NewHandler(healthService).Status),
		ProcessHandler: http.HandlerFunc(processHandler.Process),
		SalesHandler:   http.HandlerFunc(salesHandler.List),
		SyncHandler:    http.HandlerFunc(processHandler.SyncSales),
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Close()

	return srv.Run(ctx)
}
