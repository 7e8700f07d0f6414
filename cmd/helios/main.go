package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/helios-portal/helios/internal/app"
	"github.com/helios-portal/helios/internal/audit"
	"github.com/helios-portal/helios/internal/authz"
	"github.com/helios-portal/helios/internal/content"
	"github.com/helios-portal/helios/internal/menus"
	"github.com/helios-portal/helios/internal/observability"
	"github.com/helios-portal/helios/internal/permissions"
	"github.com/helios-portal/helios/internal/platform/cache"
	"github.com/helios-portal/helios/internal/platform/db"
	"github.com/helios-portal/helios/internal/roles"
	"github.com/helios-portal/helios/internal/users"
	"github.com/helios-portal/helios/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, "helios-api")
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	auditEmitter := audit.NewEmitter(queueClient, logger)

	authzRepo := authz.NewRepository(pool)
	hierarchy := authz.NewHierarchyValidator(authzRepo)
	decisionCache := authz.NewDecisionCache(redisClient, cfg.AuthzCacheTTL)
	registry := authz.NewRegistry(pool, authzRepo, hierarchy, decisionCache, auditEmitter, logger).
		WithConflictObserver(metrics)
	authzService := authz.NewService(authz.ServiceParams{
		Repo:     authzRepo,
		Cache:    decisionCache,
		Registry: registry,
		Emitter:  auditEmitter,
		Metrics:  metrics,
		Logger:   logger,
	})
	guard := authz.Middleware{Service: authzService, Logger: logger}
	authzHandler := authz.NewHandler(logger, authzService, guard)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, authzRepo, decisionCache).WithLogger(logger)
	usersHandler := users.NewHandler(logger, usersService, guard)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, authzRepo, registry, hierarchy, decisionCache).WithLogger(logger)
	rolesHandler := roles.NewHandler(logger, rolesService, guard)

	permissionsRepo := permissions.NewRepository(pool)
	permissionsService := permissions.NewService(permissionsRepo, authzRepo, decisionCache).WithLogger(logger)
	permissionsHandler := permissions.NewHandler(logger, permissionsService, guard)

	menusRepo := menus.NewRepository(pool)
	menusService := menus.NewService(menusRepo, authzRepo, hierarchy, decisionCache).WithLogger(logger)
	menusHandler := menus.NewHandler(logger, menusService, guard)

	contentRepo := content.NewRepository(pool)
	contentService := content.NewService(contentRepo, authzRepo, decisionCache).WithLogger(logger)
	contentHandler := content.NewHandler(logger, contentService, guard)

	auditStore := audit.NewStore(pool)
	auditService := audit.NewService(auditStore)
	auditHandler := audit.NewHandler(logger, auditService, guard)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	if err := decisionCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("decision cache listener", slog.Any("error", err))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthzHandler:       authzHandler,
		UsersHandler:       usersHandler,
		RolesHandler:       rolesHandler,
		PermissionsHandler: permissionsHandler,
		MenusHandler:       menusHandler,
		ContentHandler:     contentHandler,
		AuditHandler:       auditHandler,
		JobsHandler:        jobsHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
