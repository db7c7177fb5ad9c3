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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/epicoop/epicoop/internal/app"
	"github.com/epicoop/epicoop/internal/audit"
	"github.com/epicoop/epicoop/internal/auth"
	"github.com/epicoop/epicoop/internal/catalogues"
	"github.com/epicoop/epicoop/internal/observability"
	"github.com/epicoop/epicoop/internal/rbac"
	"github.com/epicoop/epicoop/internal/roles"
	"github.com/epicoop/epicoop/internal/settings"
	"github.com/epicoop/epicoop/internal/shared"
	"github.com/epicoop/epicoop/internal/users"
	"github.com/epicoop/epicoop/internal/view"
	"github.com/epicoop/epicoop/jobs"
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

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "epicoop_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.New()

	permissionSource := rbac.NewPGSource(dbpool)
	permissionStore := rbac.NewStore(
		permissionSource,
		rbac.NewMemoryCache(),
		rbac.NewRedisPermissionCache(redisClient),
		logger,
		rbac.WithTTL(cfg.PermissionCacheTTL),
		rbac.WithMetrics(metrics),
	)
	rbacService := rbac.NewService(permissionStore, logger)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	rbacMiddleware := rbac.Middleware{
		Service:   rbacService,
		Audit:     &jobs.DenialRecorder{Client: asynqClient, Logger: logger},
		Templates: templates,
		Logger:    logger,
	}

	scopeResolver := shared.NewScopeResolver(rbacService)
	auditRecorder := audit.NewRecorder(dbpool)

	settingsService := settings.NewService(settings.NewPGRepository(dbpool), cfg.SettingsCacheTTL, logger)
	settingsHandler := settings.NewHandler(settingsService, &rbacMiddleware, logger)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, auditRecorder, logger)
	authHandler := auth.NewHandler(authService, sessionManager, csrfManager, templates, &rbacMiddleware, logger)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, rbacService.Resolver(), scopeResolver, auditRecorder, logger)
	usersHandler := users.NewHandler(usersService, &rbacMiddleware, logger)

	rolesRepo := roles.NewRepository(dbpool)
	rolesService := roles.NewService(rolesRepo, rbacService.Resolver(), scopeResolver, auditRecorder, logger)
	rolesHandler := roles.NewHandler(rolesService, &rbacMiddleware, logger)

	cataloguesRepo := catalogues.NewRepository(dbpool)
	cataloguesService := catalogues.NewService(cataloguesRepo, scopeResolver, logger)
	cataloguesHandler := catalogues.NewHandler(cataloguesService, &rbacMiddleware, logger)

	permissionsHandler := rbac.NewPermissionsHandler(logger, rbac.NewPermissionCatalog(dbpool), rbacMiddleware)
	auditHandler := audit.NewHandler(auditRecorder, &rbacMiddleware, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	gate := &app.MaintenanceGate{
		Settings:  settingsService,
		Admins:    rbacService,
		Templates: templates,
		Logger:    logger,
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Templates:          templates,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Metrics:            metrics,
		Gate:               gate,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        authHandler,
		UsersHandler:       usersHandler,
		RolesHandler:       rolesHandler,
		PermissionsHandler: permissionsHandler,
		CataloguesHandler:  cataloguesHandler,
		SettingsHandler:    settingsHandler,
		AuditHandler:       auditHandler,
		JobsHandler:        jobsHandler,
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
