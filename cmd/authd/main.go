package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"therapyhub.io/shared/auth"
	authfiber "therapyhub.io/shared/auth/fiber"
	"therapyhub.io/shared/config"
	"therapyhub.io/shared/logging"
	"therapyhub.io/shared/pg/model"
	"therapyhub.io/shared/pg/repo"
	"therapyhub.io/shared/redisstore"
)

var version = auth.Version

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.InitGlobalConfig(); err != nil {
		return fmt.Errorf("init config: %w", err)
	}
	log, err := logging.New(config.GetConfig("LOG_LEVEL"), config.GetConfig("LOG_FORMAT"))
	if err != nil {
		return err
	}
	cfg, err := auth.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := config.GetConfig("DATABASE_URL")
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL configuration is required")
	}
	db, err := repo.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	pg := repo.NewPostgresDB(db)

	var sessionStore model.SessionStore = pg
	deps := map[string]pinger{"database": pg}
	switch backend := config.GetConfigWithDefault("SESSION_BACKEND", "postgres"); backend {
	case "postgres":
	case "redis":
		rdb, err := redisstore.Open(ctx, config.GetConfigWithDefault("REDIS_URL", "redis://localhost:6379/0"))
		if err != nil {
			return err
		}
		defer rdb.Close()
		rs := redisstore.New(rdb, redisstore.WithPrefix(config.GetConfigWithDefault("REDIS_KEY_PREFIX", "auth:")))
		sessionStore = rs
		deps["redis"] = rs
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", backend)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := auth.NewMetrics(reg)

	hasher, err := auth.NewPasswordHasher(cfg.BCryptCost)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(cfg.Tokens)
	if err != nil {
		return err
	}

	cache := auth.NewPermissionCache(pg,
		auth.WithCacheTTL(cfg.PermissionCacheTTL),
		auth.WithCacheLogger(log),
		auth.WithCacheMetrics(metrics),
	)
	cache.StartJanitor(ctx, cfg.PermissionCacheTTL)

	authz := auth.NewAuthorizer(cache,
		auth.WithSuperAdminRole(cfg.SuperAdminRole),
		auth.WithAuthorizerLogger(log),
		auth.WithAuthorizerMetrics(metrics),
	)
	status := auth.NewStatusChecker(pg, cfg.StatusCacheTTL)
	sessions := auth.NewSessions(sessionStore, tokens,
		auth.WithRefreshStatusCheck(status),
		auth.WithSessionsLogger(log),
	)
	service := auth.NewAuthService(pg, hasher, sessions, status, log)
	roles := auth.NewRoleManager(pg, cache, log)

	app := fiber.New(fiber.Config{
		AppName:               "authd " + version,
		ErrorHandler:          authfiber.ErrorHandler(log),
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           60 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestLogger(log))

	app.Get("/healthz", healthz(deps))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	mw := authfiber.NewMiddleware(auth.NewAuthenticator(tokens, status), authz)
	authfiber.SetupAuthRoutes(app, authfiber.NewHandlers(service, roles), mw)

	addr := config.GetConfigWithDefault("HTTP_ADDR", ":8080")
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "version": version}).Info("authd listening")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthz(deps map[string]pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{}
		healthy := true
		for name, p := range deps {
			checks[name] = "ok"
			if err := p.Ping(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
			}
		}
		if !healthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(checks)
		}
		return c.JSON(checks)
	}
}

func requestLogger(log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = auth.AsAuthError(err).Type.Status()
			}
		}
		log.WithFields(logrus.Fields{
			"method":   c.Method(),
			"path":     c.Path(),
			"status":   status,
			"duration": time.Since(start).String(),
		}).Debug("request")
		return err
	}
}
