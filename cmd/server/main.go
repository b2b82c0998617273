package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/auth"
	"checkout-service/internal/broker"
	"checkout-service/internal/clock"
	"checkout-service/internal/gateway"
	"checkout-service/internal/invoice"
	"checkout-service/internal/notify"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memstore"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type repository interface {
	service.Repository
	api.Pinger
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	tp, err := util.InitTracer(util.TracingConfig{
		ServiceName: "checkout-service",
		Environment: cfg.Server.Env,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.SampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	clk := clock.Real{}

	var repo repository
	if cfg.Database.URL != "" {
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Database connected")
		repo = db
	} else {
		logger.Warn("DATABASE_URL not set, orders are kept in memory")
		repo = memstore.New(clk)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CartTTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	gatewayHTTP := &http.Client{Timeout: cfg.Payment.GatewayTimeout + 5*time.Second}
	sessions := []gateway.SessionProvider{
		gateway.NewFrameClient(gatewayHTTP),
		gateway.NewStripeGateway(cfg.Payment.StripeAPIURL, gatewayHTTP),
	}
	parsers := gateway.NewRegistry(
		gateway.FrameCallbackParser{},
		gateway.StripeCallbackParser{},
		gateway.ReferenceCallbackParser{},
	)

	settingsService := service.NewSettingsService(repo, cfg.Payment.Settings())
	orderService := service.NewOrderService(repo, repo, redisClient, eventPublisher, clk, service.OrderConfig{
		Currency:      cfg.Payment.Currency,
		PriceDriftBPS: cfg.Business.PriceDriftBPS,
	})
	paymentService := service.NewPaymentService(repo, repo, settingsService, sessions,
		gateway.NewReferenceIssuer(gatewayHTTP, clk), redisClient, eventPublisher, clk)
	reconciler := service.NewReconciler(repo, repo, repo, settingsService, parsers,
		redisClient, eventPublisher, clk, cfg.Business.FulfillmentMode)

	var sender notify.Sender
	if cfg.Mail.Host != "" {
		sender = notify.NewSMTP(notify.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
	} else {
		logger.Warn("SMTP_HOST not set, notification emails are only logged")
		sender = notify.NewLogMailer()
	}
	notifications := service.NewNotificationService(repo, sender, invoice.Seller{
		Name:    cfg.Mail.SellerName,
		Address: cfg.Mail.SellerAddress,
		Email:   cfg.Mail.SellerEmail,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, notifications)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	authz, err := auth.NewAuthorizer()
	if err != nil {
		logger.Fatal("Failed to load authorization policy", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Orders:     orderService,
		Payments:   paymentService,
		Reconciler: reconciler,
		Carts:      service.NewCartService(redisClient, repo, clk),
		Catalog:    service.NewCatalogService(repo),
		Settings:   settingsService,
	}, auth.NewAuthenticator(cfg.Auth.JWTSecret), authz, map[string]api.Pinger{
		"store": repo,
		"redis": redisClient,
		"kafka": producer,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
