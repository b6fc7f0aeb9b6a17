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

	"tokenpay/config"
	"tokenpay/internal/api"
	"tokenpay/internal/broker"
	"tokenpay/internal/catalog"
	"tokenpay/internal/redisclient"
	"tokenpay/internal/service"
	"tokenpay/internal/signature"
	"tokenpay/internal/store"
	"tokenpay/internal/util"
	"tokenpay/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting tokenpay service")

	tp, err := util.InitTracer("tokenpay", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	var (
		orders   store.OrderStore
		balances store.BalanceStore
	)
	if cfg.Database.URL != "" {
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		orders, balances = db, db
		log.Println("Database connected")
	} else {
		mem := store.NewMemoryStore()
		orders, balances = mem, mem
		log.Println("DATABASE_URL not set, using in-memory store")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Redis unavailable, webhook fast path disabled: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBilling)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	log.Println("Kafka producer initialized")

	codec := signature.NewCodec(cfg.Payment.Secret)
	cat := catalog.Default()
	calc := service.NewSubscriptionCalculator(orders)
	lifecycle := service.NewOrderLifecycle(orders, cat, codec, calc, service.LifecycleConfig{
		MerchantID:      cfg.Payment.MerchantID,
		StrictSignature: cfg.Payment.StrictSignature,
		AmountEpsilon:   cfg.Business.AmountEpsilon,
	})
	ledger := service.NewTokenLedger(balances, cfg.Business.FreeLimit)
	recon := service.NewReconciliationService(lifecycle, ledger, orders, cat, codec, eventPublisher, redisClient, service.ReconciliationConfig{
		MerchantID:  cfg.Payment.MerchantID,
		GatewayURL:  cfg.Payment.GatewayURL,
		NotifyURL:   cfg.Payment.NotifyURL,
		ReturnURL:   cfg.Payment.ReturnURL,
		PaymentType: cfg.Payment.PaymentType,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	auditConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBilling, cfg.Kafka.ConsumerGroup)
	auditWorker := worker.NewAuditWorker(auditConsumer)
	go func() {
		if err := auditWorker.Start(workerCtx); err != nil {
			log.Printf("Audit worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(recon)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	auditWorker.Stop()

	log.Println("Server exited")
}
