package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"credential_verifier/internal/auth"
	"credential_verifier/internal/config"
	"credential_verifier/internal/csrf"
	"credential_verifier/internal/extraction"
	"credential_verifier/internal/handler"
	"credential_verifier/internal/lock"
	"credential_verifier/internal/logger"
	"credential_verifier/internal/messaging"
	"credential_verifier/internal/metrics"
	"credential_verifier/internal/notification"
	"credential_verifier/internal/repository"
	"credential_verifier/internal/scoring"
	"credential_verifier/internal/service"
	"credential_verifier/internal/storage"
)

func runMigrations(ctx context.Context, db *pgxpool.Pool, log *zap.Logger) error {
	log.Info("running database migrations")

	migrationsDir := "migrations"
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ".sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}

		log.Info("migration applied", zap.String("file", filename))
	}

	return nil
}

func newMailer(cfg config.SMTPConfig, log *zap.Logger) notification.Mailer {
	if cfg.Host == "" {
		log.Warn("SMTP is not configured, emails will only be logged")
		return notification.NewLogMailer(log)
	}

	mailer, err := notification.NewSMTPMailer(notification.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}, log)
	if err != nil {
		log.Error("failed to create SMTP mailer, falling back to log mailer", zap.Error(err))
		return notification.NewLogMailer(log)
	}
	return mailer
}

func newLocker(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (lock.Locker, func()) {
	if cfg.URL == "" {
		log.Warn("redis is not configured, verification locks are process-local")
		return lock.NewNoopLocker(), func() {}
	}

	client, err := lock.NewRedisClient(ctx, cfg.URL, cfg.Password)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	log.Info("connected to redis")

	return lock.NewRedisLocker(client, log), func() {
		if err := client.Close(); err != nil {
			log.Warn("failed to close redis client", zap.Error(err))
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting credential verifier")

	if insecure := cfg.InsecureSecrets(); len(insecure) > 0 {
		if cfg.Log.Level != "debug" {
			log.Fatal("default secrets are only allowed with debug log level", zap.Strings("keys", insecure))
		}
		log.Warn("using default secrets, do not run this in production", zap.Strings("keys", insecure))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.DatabaseDSN())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}
	log.Info("connected to database")

	if err := runMigrations(ctx, db, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()

	locker, closeLocker := newLocker(ctx, cfg.Redis, log)
	defer closeLocker()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	store, err := storage.NewLocalDiplomaStore(cfg.Upload.Dir, cfg.Upload.MaxBytes, log)
	if err != nil {
		log.Fatal("failed to prepare upload directory", zap.Error(err))
	}

	cacheRepo := repository.NewDataCacheRepository(db, log)
	verificationRepo := repository.NewVerificationRepository(db, log)
	userRepo := repository.NewUserRepository(db, log)

	extractor := extraction.NewCachingExtractor(
		extraction.NewDocumentExtractor(extraction.NewTesseractOCR(cfg.Extraction.TesseractPath), cfg.Extraction.Timeout, m, log),
		cacheRepo,
		log,
	)
	scorer := scoring.NewScorer(scoring.Options{
		AnomalyPenalty:    cfg.Verification.AnomalyPenalty,
		KnownInstitutions: cfg.Verification.KnownInstitutions,
	})
	notifier := notification.NewMailNotifier(userRepo, newMailer(cfg.SMTP, log), m, log)

	deps := service.Dependencies{
		Verifications: verificationRepo,
		Users:         userRepo,
		Store:         store,
		Extractor:     extractor,
		Scorer:        scorer,
		Notifier:      notifier,
		Events:        natsClient,
		Locker:        locker,
		Metrics:       m,
	}
	if cfg.Verification.Async {
		deps.Queue = natsClient
	}

	verificationService := service.NewVerificationService(deps, service.Options{
		Thresholds: scoring.Thresholds{
			High: cfg.Verification.HighThreshold,
			Low:  cfg.Verification.LowThreshold,
		},
		LockTTL: cfg.Verification.LockTTL,
	}, log)

	if cfg.Verification.Async {
		err = natsClient.SubscribeToProcessRequests(ctx, func(ctx context.Context, req messaging.ProcessRequestMessage) {
			if _, err := verificationService.Process(ctx, req.VerificationID); err != nil {
				log.Error("background processing failed",
					zap.Int64("verification_id", req.VerificationID),
					zap.String("requested_by", req.RequestedBy),
					zap.Error(err))
			}
		})
		if err != nil {
			log.Fatal("failed to subscribe to process requests", zap.Error(err))
		}
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handler.NewRouter(handler.RouterConfig{
		Verifications: handler.NewVerificationHandler(verificationService, store, csrf.NewManager(cfg.CSRF.Secret, cfg.CSRF.TTL), log),
		JWT:           auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry),
		UploadDir:     cfg.Upload.Dir,
		MaxBytes:      cfg.Upload.MaxBytes,
		Gatherer:      registry,
		HealthCheck: func(c *gin.Context) error {
			return db.Ping(c.Request.Context())
		},
		Logger: log,
	})

	server := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
