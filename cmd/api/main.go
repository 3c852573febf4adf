// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/angelamos/basecamp/internal/admin"
	"github.com/angelamos/basecamp/internal/auth"
	"github.com/angelamos/basecamp/internal/config"
	"github.com/angelamos/basecamp/internal/core"
	"github.com/angelamos/basecamp/internal/credential"
	"github.com/angelamos/basecamp/internal/health"
	"github.com/angelamos/basecamp/internal/legacy"
	"github.com/angelamos/basecamp/internal/lockout"
	"github.com/angelamos/basecamp/internal/middleware"
	"github.com/angelamos/basecamp/internal/onetime"
	"github.com/angelamos/basecamp/internal/routes"
	"github.com/angelamos/basecamp/internal/server"
	"github.com/angelamos/basecamp/internal/session"
	"github.com/angelamos/basecamp/internal/token"
)

const (
	drainDelay = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	//nolint:errcheck // .env is optional
	_ = godotenv.Load()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	if err := core.Migrate(ctx, db); err != nil {
		return err
	}

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	jwtManager, err := token.NewJWTManager(cfg.JWT)
	if err != nil {
		return err
	}
	logger.Info("JWT manager initialized",
		"algorithm", "ES256",
		"key_id", jwtManager.GetKeyID(),
	)

	userRepo := credential.NewRepository(db.DB)
	userSvc := credential.NewService(userRepo)

	guard := lockout.NewGuard(userRepo, lockout.Config{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	}, logger)

	tokenRepo := token.NewRepository(db.DB)
	tokenSvc := token.NewService(
		tokenRepo,
		jwtManager,
		userSvc,
		redis.Client,
		logger,
	)

	onetimeStore := onetime.NewStore(db.DB)

	authSvc := auth.NewService(
		userSvc,
		guard,
		tokenSvc,
		onetimeStore,
		auth.Config{
			VerifyEmailTTL:   cfg.Verify.EmailTokenExpire,
			ResetPasswordTTL: cfg.Verify.ResetTokenExpire,
		},
		logger,
	)
	authHandler := auth.NewHandler(authSvc)

	sessionStore := session.NewStore(
		redis.Client,
		session.Config{
			TTL:              cfg.Session.TTL,
			RotationInterval: cfg.Session.RotationInterval,
		},
		session.PolicyFromMode(cfg.Session.FingerprintMode),
		logger,
	)
	logger.Info("session fingerprint policy active",
		"mode", cfg.Session.FingerprintMode,
	)

	bridge := legacy.NewBridge(
		sessionStore,
		tokenSvc,
		userSvc,
		legacy.Config{
			CookieName: cfg.Session.CookieName,
			Secure:     cfg.IsProduction(),
		},
		logger,
	)

	healthHandler := health.NewHandler(
		health.Probe{Name: "postgres", Ping: db.Ping},
		health.Probe{Name: "redis", Ping: redis.Ping},
	)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:       db.Stats,
		RedisStats:    redis.PoolStats,
		DBPing:        db.Ping,
		RedisPing:     redis.Ping,
		Lockouts:      guard,
		RefreshTokens: tokenRepo,
		OneTimeTokens: onetimeStore,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerMinute(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
			),
			FailOpen: true,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	router.Get("/.well-known/jwks.json", jwtManager.GetJWKSHandler())

	classifier := routes.Default()
	authenticator := middleware.Authenticator(tokenSvc, classifier)
	requireAuth := func(next http.Handler) http.Handler {
		// Route-group middleware for endpoints the classifier already marks
		// protected; it rejects anonymous requests that slipped past.
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !middleware.IsAuthenticated(r.Context()) {
				core.Unauthorized(w, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	adminOnly := middleware.RequireAdmin

	loginLimiter := middleware.LoginRateLimiter(
		redis.Client,
		cfg.RateLimit.LoginRequests,
		cfg.RateLimit.LoginWindow,
	)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(bridge.Middleware)
		r.Use(authenticator)

		authHandler.RegisterRoutes(r, loginLimiter, requireAuth)
		adminHandler.RegisterRoutes(r, requireAuth, adminOnly)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
