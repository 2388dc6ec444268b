package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"ms-payments/internal/auth"
	"ms-payments/internal/config"
	"ms-payments/internal/gateway"
	"ms-payments/internal/kafka"
	"ms-payments/internal/logger"
	"ms-payments/internal/payment"
	"ms-payments/internal/payment/api"
	paymentredis "ms-payments/internal/payment/redis"
	"ms-payments/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	log.Info("STARTUP", "Starting payment service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	ddb, err := storage.NewDynamoDBClient(ctx, cfg.DynamoDB)
	if err != nil {
		log.Fatal("STARTUP", fmt.Sprintf("Failed to create DynamoDB client: %v", err))
	}
	store := storage.NewDynamoStore(ddb, cfg.DynamoDB.PaymentsTable, cfg.DynamoDB.OrdersTable, log)

	// Redis webhook dedup
	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("STARTUP", fmt.Sprintf("Failed to connect to Redis at %s: %v", cfg.Redis.Addr, err))
	}
	defer redisClient.Close()
	dedup := paymentredis.NewDedup(redisClient, cfg.Redis.DedupTTL)
	log.Info("STARTUP", fmt.Sprintf("Connected to Redis at %s", cfg.Redis.Addr))

	// Kafka
	var producer *kafka.Producer
	var dlqConsumer *kafka.DeadLetterConsumer
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.PaymentCompleted,
			cfg.Kafka.Topics.PaymentFailed,
			cfg.Kafka.Topics.DeadLetter,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Fatal("STARTUP", fmt.Sprintf("Failed to ensure Kafka topics: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka, log)
		defer producer.Close()
		dlqConsumer = kafka.NewDeadLetterConsumer(cfg.Kafka, producer, log)
		defer dlqConsumer.Close()
		log.Info("STARTUP", fmt.Sprintf("Kafka connected via %v", cfg.Kafka.Brokers))
	} else {
		log.Warn("STARTUP", "Kafka disabled; payment events and dead letters will not be published")
	}

	// Gateway adapters
	stripeAdapter, err := gateway.NewStripeAdapter(cfg.Stripe.SecretKey, log)
	if err != nil {
		log.Fatal("STARTUP", fmt.Sprintf("Failed to create Stripe adapter: %v", err))
	}
	razorpayAdapter, err := gateway.NewRazorpayAdapter(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, log)
	if err != nil {
		log.Fatal("STARTUP", fmt.Sprintf("Failed to create Razorpay adapter: %v", err))
	}
	registry := gateway.NewRegistry(stripeAdapter, razorpayAdapter)

	// Core services
	var events payment.EventPublisher
	if producer != nil {
		events = producer
	}
	reconciler := payment.NewReconciler(store, events, log)
	service := payment.NewService(store, registry, cfg.Razorpay.KeySecret, log)

	handler := api.NewHandler(service, log)
	webhooks := &api.WebhookHandler{
		StripeWebhookSecret:   cfg.Stripe.WebhookSecret,
		RazorpayWebhookSecret: cfg.Razorpay.WebhookSecret,
		Razorpay:              razorpayAdapter,
		Reconciler:            reconciler,
		Dedup:                 dedup,
		Logger:                log,
	}
	if producer != nil {
		webhooks.DeadLetters = producer
	}

	// Background workers
	if dlqConsumer != nil {
		go dlqConsumer.Start(ctx, webhooks.ReplayDeadLetter)
	}
	if cfg.Sweep.Enabled {
		sweeper := payment.NewSweeper(store, registry, reconciler, cfg.Sweep.Interval, cfg.Sweep.MinAge, log)
		go sweeper.Run(ctx)
	}

	authMiddleware, err := auth.Middleware(cfg.Auth.OIDCIssuer)
	if err != nil {
		log.Fatal("STARTUP", fmt.Sprintf("Failed to initialize auth middleware: %v", err))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Webhooks authenticate by signature over the raw body; no bearer auth.
	r.Post("/webhooks/stripe", webhooks.StripeWebhook)
	r.Post("/webhooks/razorpay", webhooks.RazorpayWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/payments", handler.InitializePayment)
		r.Post("/payments/razorpay/verify", handler.VerifyRazorpayPayment)
		r.Post("/payments/stripe/complete", handler.CompleteStripePayment)
		r.Get("/payments/{paymentId}", handler.GetPayment)
		r.Get("/orders/{orderId}/payments", handler.ListOrderPayments)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("STARTUP", fmt.Sprintf("Payment service listening on %s", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("Server failed: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info("SHUTDOWN", "Shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("SHUTDOWN", fmt.Sprintf("Graceful shutdown failed: %v", err))
	}
	log.Info("SHUTDOWN", "Payment service stopped")
}
