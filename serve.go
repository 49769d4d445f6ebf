package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/auth"
	"github.com/healthsync/connector-engine/pkg/cache"
	"github.com/healthsync/connector-engine/pkg/config"
	"github.com/healthsync/connector-engine/pkg/crypto"
	"github.com/healthsync/connector-engine/pkg/database"
	"github.com/healthsync/connector-engine/pkg/handlers"
	"github.com/healthsync/connector-engine/pkg/middleware"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories"
	"github.com/healthsync/connector-engine/pkg/retry"
	"github.com/healthsync/connector-engine/pkg/services"
)

const shutdownTimeout = 15 * time.Second

func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.Bool("schema_cache", cfg.Redis.Host != ""))

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		return fmt.Errorf("invalid CREDENTIALS_KEY: %w", err)
	}
	logger.Info("Credentials key loaded", zap.String("fingerprint", encryptor.Fingerprint()))

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrate(db, logger); err != nil {
		return err
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	schemas := cache.New(redisClient, cfg.Redis.SchemaTTL, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	connMgr := connector.NewConnectionManager(connector.ConnectionManagerConfig{
		TTLMinutes:   cfg.Connectors.ConnectionTTLMinutes,
		PoolMaxConns: cfg.Connectors.PoolMaxConns,
	}, logger)
	defer func() { _ = connMgr.Close() }()

	dispatcher := connector.NewDispatcher(connector.DispatcherConfig{
		Timeouts: connectorTimeouts(cfg.Connectors),
		ConnMgr:  connMgr,
		Metrics:  connector.NewMetrics(registry),
		Logger:   logger,
	})
	for _, info := range dispatcher.Connectors() {
		logger.Debug("Connector registered", zap.String("type", string(info.Type)))
	}

	store := repositories.NewStore(db)
	connectionService := services.NewConnectionService(store, encryptor, schemas, logger)
	integrationService := services.NewIntegrationService(connectionService, dispatcher, schemas, logger)
	fieldService := services.NewWorkflowFieldService(store, logger)
	mappingService := services.NewFieldMappingService(store, logger)
	configurationService := services.NewWorkflowConfigurationService(store, logger)
	pushRetry := retry.DefaultConfig()
	pushRetry.MaxRetries = cfg.PushRetry.MaxRetries
	pushRetry.InitialDelay = cfg.PushRetry.InitialDelay
	pushRetry.MaxDelay = cfg.PushRetry.MaxDelay
	pushService := services.NewPushService(store, connectionService, dispatcher, pushRetry, logger)

	authService, err := auth.NewAuthService(auth.Config{
		EnableVerification: cfg.Auth.EnableVerification,
		Secret:             cfg.Auth.JWTSecret,
		AdminRole:          cfg.Auth.AdminRole,
	}, logger)
	if err != nil {
		return err
	}
	if !cfg.Auth.EnableVerification {
		logger.Warn("Admin API authentication is disabled")
	}
	authMiddleware := auth.NewMiddleware(authService, logger)

	mux := http.NewServeMux()
	checks := []handlers.HealthCheck{{Name: "store", Pinger: db, Required: true}}
	if redisClient != nil {
		checks = append(checks, handlers.HealthCheck{
			Name:   "schema_cache",
			Pinger: handlers.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		})
	}
	handlers.NewHealthHandler(cfg, logger, checks...).RegisterRoutes(mux)
	handlers.NewConnectionsHandler(connectionService, integrationService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewCatalogHandler(integrationService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewWorkflowsHandler(fieldService, mappingService, configurationService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewSubmissionsHandler(pushService, logger).RegisterRoutes(mux, authMiddleware)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpMetrics := middleware.NewHTTPMetrics(registry)
	handler := middleware.RequestLogger(logger)(httpMetrics.Middleware(mux))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting connector-engine", zap.String("addr", server.Addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func connectorTimeouts(cfg config.ConnectorsConfig) map[models.ConnectorType]connector.Timeouts {
	sql := connector.Timeouts{Connect: cfg.SQL.ConnectTimeout, Read: cfg.SQL.ReadTimeout}
	timeouts := map[models.ConnectorType]connector.Timeouts{
		models.ConnectorDHIS2: {Connect: cfg.DHIS2.ConnectTimeout, Read: cfg.DHIS2.ReadTimeout},
	}
	for _, t := range []models.ConnectorType{
		models.ConnectorPostgres,
		models.ConnectorMySQL,
		models.ConnectorSQLite,
		models.ConnectorMSSQL,
		models.ConnectorOracle,
	} {
		timeouts[t] = sql
	}
	return timeouts
}
