package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidflow/internal/auth"
	"vidflow/internal/config"
	"vidflow/internal/database/migrations"
	"vidflow/internal/delivery"
	deliverydb "vidflow/internal/delivery/db"
	"vidflow/internal/kafka"
	"vidflow/internal/logger"
	"vidflow/internal/models"
	"vidflow/internal/notify"
	"vidflow/internal/order"
	"vidflow/internal/order/db"
	"vidflow/internal/order/order_api"
	rediswrap "vidflow/internal/order/redis"
	"vidflow/internal/payment"
	"vidflow/internal/pipeline"
	pipelinedb "vidflow/internal/pipeline/db"
	"vidflow/internal/pipeline/pipeline_api"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// without Redis only the payment lock is skipped
		logger.Warn("REDIS", fmt.Sprintf("Redis connection error, payment lock will be skipped until it recovers: %v", err))
	} else {
		logger.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	}
	return bunDB, redisClient
}

func newGateway(cfg *config.Config) (order.Gateway, error) {
	switch cfg.Payment.Provider {
	case config.ProviderStripe:
		return payment.NewStripeGateway(cfg.Payment.StripeSecretKey, nil)
	default:
		return payment.NewPortOneGateway(cfg.Payment.PortOneAPIBase, cfg.Payment.PortOneAPISecret, cfg.Payment.Timeout), nil
	}
}

func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	if cfg.Auth.OIDCIssuer != "" {
		return auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer)
	}
	return auth.NewHMACVerifier(cfg.Auth.JWTSecret), nil
}

type eventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

func newPublisher(cfg *config.Config, logger *logger.Logger) (eventPublisher, func()) {
	if !cfg.Kafka.Enabled {
		logger.Info("KAFKA", "Kafka disabled, domain events are logged only")
		return kafka.NewNopPublisher(logger), func() {}
	}

	topics := []string{cfg.Kafka.Topics.OrderCreated, cfg.Kafka.Topics.PipelineStageChange}
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, logger); err != nil {
		logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		logger.Info("KAFKA", "Required topics ensured successfully")
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	logger.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Kafka.Brokers))
	return producer, func() {
		if err := producer.Close(); err != nil {
			logger.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
}

// statusRecorder keeps the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(logger *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.LogAPI(r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}

	cfg := config.Load()
	logger, err := logger.NewFileLogger(cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("APP", "Starting VidFlow order service initialization")
	if err := cfg.Validate(); err != nil {
		logger.Fatal("CONFIG", err.Error())
	}

	ctx := context.Background()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB.DB, logger)
		if err := runner.MigrateUp(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	events, closeEvents := newPublisher(cfg, logger)
	defer closeEvents()

	gateway, err := newGateway(cfg)
	if err != nil {
		logger.Fatal("PAYMENT", fmt.Sprintf("Failed to create %s gateway: %v", cfg.Payment.Provider, err))
	}
	logger.Info("PAYMENT", fmt.Sprintf("Using %s payment gateway", cfg.Payment.Provider))

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		logger.Fatal("AUTH", fmt.Sprintf("Failed to create token verifier: %v", err))
	}

	orderService := order.NewOrderService(
		db.New(bunDB),
		gateway,
		rediswrap.NewPaymentLock(redisClient, cfg.Redis.PaymentLockTTL, logger),
		events,
		logger,
	)
	orderService.OrderCreatedTopic = cfg.Kafka.Topics.OrderCreated
	orderService.AtomicWrites = cfg.Order.AtomicWrites
	orderService.StripeWebhookSecret = cfg.Payment.StripeWebhookSecret
	orderService.LockWait = cfg.Redis.PaymentLockWait

	pipelineService := pipeline.NewService(pipelinedb.New(bunDB), events, logger)
	pipelineService.StageChangedTopic = cfg.Kafka.Topics.PipelineStageChange

	if cfg.Email.APIKey == "" {
		logger.Warn("CONFIG", "EMAIL_API_KEY not set, delivery emails will be rejected by the provider")
	}
	mailer := notify.NewHTTPMailer(cfg.Email.APIBase, cfg.Email.APIKey, cfg.Email.From)
	deliveryService := delivery.NewService(deliverydb.New(bunDB), mailer, pipelineService, cfg.Server.SiteBaseURL, logger)

	orderHandler := order_api.NewHandler(orderService, logger)
	pipelineHandler := pipeline_api.NewHandler(pipelineService, deliveryService, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		// --- Public Routes ---
		orderHandler.RegisterPublicRoutes(r)
		logger.Info("ROUTER", "Package and webhook routes registered")

		// --- Protected Routes ---
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(verifier, logger))
			orderHandler.RegisterRoutes(r)
			pipelineHandler.RegisterCustomerRoutes(r)
			logger.Info("ROUTER", "Order routes registered under /api/orders")

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleStaff, models.RoleAdmin))
				pipelineHandler.RegisterRoutes(r)
			})
			logger.Info("ROUTER", "Pipeline routes registered under /api/admin")
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 VidFlow order service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ VidFlow order service shutdown complete")
	}
}
