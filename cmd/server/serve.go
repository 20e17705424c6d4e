package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/s3-console/internal/account"
	"github.com/kenneth/s3-console/internal/api"
	"github.com/kenneth/s3-console/internal/audit"
	"github.com/kenneth/s3-console/internal/auth"
	"github.com/kenneth/s3-console/internal/bucket"
	"github.com/kenneth/s3-console/internal/cache"
	"github.com/kenneth/s3-console/internal/config"
	"github.com/kenneth/s3-console/internal/credentials"
	"github.com/kenneth/s3-console/internal/crypto"
	"github.com/kenneth/s3-console/internal/mail"
	"github.com/kenneth/s3-console/internal/metrics"
	"github.com/kenneth/s3-console/internal/middleware"
	"github.com/kenneth/s3-console/internal/s3"
	"github.com/kenneth/s3-console/internal/tracing"
	"github.com/kenneth/s3-console/internal/users"
)

const (
	generalLimitMessage = "Too many requests, please slow down."
	authLimitMessage    = "Too many login/signup attempts. Please try later."
	s3LimitMessage      = "Too many S3 operations, slow down."
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
	}).Info("Starting S3 console")

	stop := make(chan struct{})
	defer close(stop)

	// Initialize metrics
	m := metrics.NewMetrics()
	m.StartSystemMetricsCollector(15*time.Second, stop)

	// Initialize tracing
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()
	if cfg.Tracing.Enabled {
		logger.WithFields(logrus.Fields{
			"exporter":       cfg.Tracing.Exporter,
			"sampling_ratio": cfg.Tracing.SamplingRatio,
		}).Info("Tracing enabled")
	}

	// Initialize the user store
	repo, ready, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	cipher, err := crypto.NewSecretCipher(cfg.Security.EncryptionSecret, cfg.Security.CipherAlgorithm)
	if err != nil {
		return err
	}
	logger.WithField("algorithm", cipher.Algorithm()).Info("Credential encryption initialized")
	sessions, err := auth.NewSessions(cfg.Security.JWTSecret, cfg.Security.SessionTTL)
	if err != nil {
		return err
	}

	// Initialize audit logger if enabled
	var auditLogger audit.Logger = audit.Nop{}
	if cfg.Audit.Enabled {
		auditLogger = audit.NewLogger(cfg.Audit.MaxEvents, audit.NewLogrusWriter(logger))
		logger.WithField("max_events", cfg.Audit.MaxEvents).Info("Audit logging enabled")
	}

	notifier := mail.NewNotifier(newMailSender(cfg, logger), cfg.Mail.FrontendURL)

	accounts := account.NewService(repo, sessions, notifier, account.Config{
		Logger:     logger,
		Metrics:    m,
		Audit:      auditLogger,
		BcryptCost: cfg.Security.BcryptCost,
	})
	store := credentials.NewStore(repo, cipher, notifier, logger, m, auditLogger)
	factory := s3.NewClientFactory(s3.FactoryOptions{
		Endpoint:             cfg.S3.Endpoint,
		UsePathStyle:         cfg.S3.UsePathStyle,
		ChecksumWhenRequired: cfg.S3.ChecksumWhenRequired,
	})
	buckets := bucket.NewService(store, factory, bucket.Config{
		ListMaxKeys: cfg.S3.ListMaxKeys,
		PageSize:    cfg.S3.PageSize,
		Logger:      logger,
		Metrics:     m,
		Audit:       auditLogger,
	})

	// Rate limiters share one counter store
	counters := cache.NewMemoryStore(0)
	cache.StartJanitor(counters, cfg.RateLimit.Window, stop)
	limiters := newLimiters(cfg, counters, logger, m)

	handler := api.NewHandler(accounts, store, buckets, api.Options{
		Logger:        logger,
		Metrics:       m,
		Limiters:      limiters,
		Ready:         ready,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		SecureCookies: cfg.Security.SecureCookies,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		Logging:           cfg.Logging,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		Tracing:           cfg.Tracing.Enabled,
		RedactSensitive:   cfg.Tracing.RedactSensitive,
	})

	// Hot reload of log level and rate limits
	reloader, err := config.NewConfigReloader(configPath, cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("Config hot reload disabled")
	} else {
		reloader.SetOnReloadCallback(func(old, next *config.Config) error {
			return applyReload(logger, limiters, next)
		})
		go reloader.Start()
		defer reloader.Stop()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLS.Enabled {
			logger.WithFields(logrus.Fields{
				"addr":      cfg.ListenAddr,
				"cert_file": cfg.TLS.CertFile,
				"key_file":  cfg.TLS.KeyFile,
			}).Info("Starting HTTPS server")
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			logger.WithField("addr", cfg.ListenAddr).Info("Starting HTTP server")
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// openRepository returns the user store, its readiness check and a close func.
func openRepository(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (users.Repository, api.ReadinessCheck, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory user store; accounts are lost on restart")
		return users.NewMemoryRepository(), nil, func() {}, nil
	}

	db, err := users.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Database.MigrateOnStart {
		if err := users.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		logger.Info("Database migrations applied")
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}
	return users.NewPostgresRepository(db), pingCheck(db), closeDB, nil
}

func pingCheck(db *sql.DB) api.ReadinessCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func newMailSender(cfg *config.Config, logger *logrus.Logger) mail.Sender {
	if !cfg.Mail.Enabled {
		logger.Warn("Mail delivery disabled; emails are written to the log")
		return mail.NewLogSender(logger)
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	})
}

// rateLimits returns the general, auth and s3 limits. Disabled rate
// limiting maps to zero, which lets every request through.
func rateLimits(cfg *config.Config) (general, authN, s3N int) {
	if !cfg.RateLimit.Enabled {
		return 0, 0, 0
	}
	return cfg.RateLimit.General, cfg.RateLimit.Auth, cfg.RateLimit.S3
}

func newLimiters(cfg *config.Config, store cache.Store, logger *logrus.Logger, m *metrics.Metrics) api.Limiters {
	general, authN, s3N := rateLimits(cfg)
	window := cfg.RateLimit.Window
	return api.Limiters{
		General: middleware.NewRateLimiter("general", generalLimitMessage, general, window, store, logger, m),
		Auth:    middleware.NewRateLimiter("auth", authLimitMessage, authN, window, store, logger, m),
		S3:      middleware.NewRateLimiter("s3", s3LimitMessage, s3N, window, store, logger, m),
	}
}

func applyReload(logger *logrus.Logger, limiters api.Limiters, next *config.Config) error {
	level, err := logrus.ParseLevel(next.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	general, authN, s3N := rateLimits(next)
	limiters.General.SetLimit(general, next.RateLimit.Window)
	limiters.Auth.SetLimit(authN, next.RateLimit.Window)
	limiters.S3.SetLimit(s3N, next.RateLimit.Window)

	logger.WithFields(logrus.Fields{
		"log_level":  next.LogLevel,
		"rate_limit": next.RateLimit.Enabled,
	}).Info("Applied reloaded configuration")
	return nil
}
