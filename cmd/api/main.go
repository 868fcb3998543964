package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/citabot/citabot/cmd/mainconfig"
	"github.com/citabot/citabot/internal/api/router"
	"github.com/citabot/citabot/internal/appointments"
	"github.com/citabot/citabot/internal/calendar"
	appconfig "github.com/citabot/citabot/internal/config"
	"github.com/citabot/citabot/internal/dialog"
	"github.com/citabot/citabot/internal/llm"
	"github.com/citabot/citabot/internal/messages"
	"github.com/citabot/citabot/internal/messaging"
	"github.com/citabot/citabot/internal/nlp"
	"github.com/citabot/citabot/internal/observability/metrics"
	"github.com/citabot/citabot/internal/session"
	"github.com/citabot/citabot/internal/tenants"
	"github.com/citabot/citabot/pkg/logging"
)

func main() {
	// Missing .env is normal outside development.
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting citabot API server", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create db pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var deduper messaging.Deduper = messaging.NoopDeduper{}
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		deduper = messaging.NewRedisDeduper(rdb, cfg.DedupeTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, webhook dedupe disabled")
	}

	m := metrics.New(nil)

	llmClient := buildLLMClient(ctx, cfg, logger, m)
	if llmClient == nil {
		logger.Warn("no model API keys configured, running on keyword rules only")
	}

	provider, err := calendar.NewGoogleProvider(ctx, cfg.CalendarCredentialsFile)
	if err != nil {
		logger.Error("failed to create calendar provider", "error", err)
		os.Exit(1)
	}

	engine := dialog.NewEngine(dialog.Deps{
		DB:           pool,
		Sessions:     session.NewStore(cfg.SessionIdleTimeout),
		Appointments: appointments.NewRepository(),
		Messages:     messages.NewRepository(),
		Classifier:   nlp.NewClassifier(llmClient, cfg.GeminiModelID, logger),
		Extractor:    nlp.NewExtractor(llmClient, cfg.GeminiModelID, logger),
		Responder:    dialog.NewResponder(llmClient, cfg.GeminiModelID, logger),
		Checker:      calendar.NewChecker(provider),
		Calendar:     provider,
		Logger:       logger,
		Metrics:      m,
	},
		dialog.WithAppointmentDuration(cfg.AppointmentDuration),
		dialog.WithHistoryLimit(cfg.HistoryLimit),
	)

	tenantRepo := tenants.NewRepository(pool)

	queue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create dialog queue", "error", err)
		os.Exit(1)
	}
	dispatcher := dialog.NewDispatcher(engine, tenantRepo, queue, logger,
		dialog.WithWorkerCount(cfg.WorkerCount))

	webhook := messaging.NewWebhookHandler(dispatcher, tenantRepo, deduper, m, logger,
		messaging.WebhookConfig{
			AuthToken: cfg.TwilioAuthToken,
			PublicURL: strings.TrimSuffix(cfg.PublicBaseURL, "/") + "/webhooks/twilio/whatsapp",
		})

	handler := router.New(&router.Config{
		Logger:            logger,
		WebhookHandler:    webhook,
		MetricsHandler:    promhttp.Handler(),
		WebhookRatePerSec: 2,
		WebhookBurst:      10,
		AllowedOrigins:    cfg.AllowedOrigins,
		HealthCheck: func(r *http.Request) error {
			return pool.Ping(r.Context())
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// buildLLMClient composes Gemini as primary with OpenAI as fallback. Either
// key alone works; with neither a nil client keeps the deterministic rules
// running.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, m *metrics.Metrics) llm.Client {
	var primary llm.Client
	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
		} else {
			primary = llm.Instrument("gemini", g, m)
		}
	}

	var fallback llm.Client
	if cfg.OpenAIAPIKey != "" {
		o, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModelID)
		if err != nil {
			logger.Error("failed to create openai client", "error", err)
		} else {
			fallback = llm.Instrument("openai", o, m)
		}
	}

	switch {
	case primary != nil && fallback != nil:
		return llm.NewFallbackClient(primary, fallback, logger)
	case primary != nil:
		return primary
	case fallback != nil:
		return fallback
	default:
		return nil
	}
}

func buildQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (dialog.Queue, error) {
	if cfg.UseMemoryQueue || cfg.DialogQueueURL == "" {
		logger.Info("using in-memory dialog queue")
		return dialog.NewMemoryQueue(0), nil
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("using SQS dialog queue", "queue_url", cfg.DialogQueueURL)
	return dialog.NewSQSQueue(awssqs.NewFromConfig(awsCfg), cfg.DialogQueueURL), nil
}
