package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signetry/db"
	"signetry/internal/audit"
	"signetry/internal/blob"
	"signetry/internal/credential"
	envelopehandler "signetry/internal/envelope/handler"
	envelopemetrics "signetry/internal/envelope/metrics"
	"signetry/internal/envelope/service"
	"signetry/internal/envelope/store"
	"signetry/internal/expiry"
	"signetry/internal/notify"
	"signetry/internal/platform/config"
	"signetry/internal/platform/httpserver"
	"signetry/internal/platform/logger"
	"signetry/internal/platform/middleware"
	platformredis "signetry/internal/platform/redis"
	"signetry/internal/provider"
	"signetry/internal/subject"
	"signetry/internal/webhook"
)

const retryWorkerInterval = time.Minute

// main wires dependencies and owns process lifecycle. Business logic lives
// in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: postgres when configured, in-memory for local development.
	var (
		envStore   store.Store
		auditStore audit.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		envStore = store.NewPostgres(pool)
		auditStore = audit.NewPostgresStore(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		envStore = store.NewMemory()
		auditStore = audit.NewInMemoryStore()
	}

	creds, err := credential.NewManager(cfg.Provider)
	if err != nil {
		log.Error("credential manager init failed", "error", err)
		os.Exit(1)
	}
	gateway := provider.NewClient(cfg.Provider, creds)

	var retryQueue webhook.RetryQueue = webhook.NewMemoryQueue()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		retryQueue = webhook.NewRedisQueue(redisClient.Client)
	}

	var notifier notify.Notifier = notify.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier, err := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	} else {
		log.Warn("KAFKA_BROKERS not set, notifications disabled")
	}

	blobs := blob.NewMemory()
	subjects := subject.NewMemory()

	svc := service.New(
		envStore, auditStore, gateway, blobs, subjects, notifier, retryQueue,
		envelopemetrics.New(), cfg.DefaultExpirationDays, log,
	)

	processor := webhook.NewProcessor(
		envStore, auditStore, gateway, blobs, notifier, retryQueue,
		[]byte(cfg.Webhook.SharedSecret), log,
	)

	validator := middleware.NewHS256Validator(cfg.JWTSigningKey)

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))

	envelopehandler.New(svc, log, validator).Register(router)
	webhook.NewHandler(processor, log).Routes(router)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if cfg.ExpirySweepInterval > 0 {
		sweeper := expiry.NewSweeper(envStore, auditStore, notifier, cfg.ExpirySweepInterval, log)
		go sweeper.Run(ctx)
	}
	retryWorker := webhook.NewRetryWorker(retryQueue, processor, retryWorkerInterval, log)
	go retryWorker.Run(ctx)

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("starting signetry", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
