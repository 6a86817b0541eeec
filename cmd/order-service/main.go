package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/YeshwanthDurgam/AgriLink/internal/config"
	"github.com/YeshwanthDurgam/AgriLink/internal/event"
	"github.com/YeshwanthDurgam/AgriLink/internal/httpx"
	"github.com/YeshwanthDurgam/AgriLink/internal/listing"
	"github.com/YeshwanthDurgam/AgriLink/internal/logging"
	ord "github.com/YeshwanthDurgam/AgriLink/internal/order"
	pay "github.com/YeshwanthDurgam/AgriLink/internal/payment"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	var store ord.Store
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("ping postgres", zap.Error(err))
		}
		defer pool.Close()
		store = ord.NewPGStore(pool)
		logger.Info("using postgres store")
	} else {
		store = ord.NewMemStore()
		logger.Warn("POSTGRES_DSN not set, using in-memory store")
	}

	var notifier event.Notifier
	if kn := event.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic); kn != nil {
		defer kn.Close()
		notifier = kn
		logger.Info("publishing events to kafka", zap.String("topic", cfg.KafkaTopic))
	} else {
		notifier = event.NewLogNotifier(logger)
		logger.Warn("KAFKA_BROKERS not set, events will only be logged")
	}
	events := event.NewDispatcher(notifier, logger)

	orders := ord.NewService(store, events, logger)

	gateways := map[string]pay.Gateway{"mock": pay.NewMockGateway()}
	if cfg.StripeAPIKey != "" {
		sg, err := pay.NewStripeGateway(cfg.StripeAPIKey)
		if err != nil {
			logger.Fatal("stripe gateway", zap.Error(err))
		}
		gateways["stripe"] = sg
	}
	payments := pay.NewService(store, orders, gateways, cfg.PaymentGateway, events, logger)

	catalog := listing.NewClient(cfg.MarketplaceBaseURL)

	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger(logger))

	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })

	v1 := r.Group("/api/v1")
	{
		v1.POST("/orders", createOrderHandler(orders, catalog))
		v1.GET("/orders/:id", getOrderHandler(orders, payments))
		v1.GET("/orders/number/:number", getOrderByNumberHandler(orders, payments))
		v1.GET("/orders/:id/history", getOrderHistoryHandler(orders))
		v1.GET("/orders/my-purchases", listPurchasesHandler(orders))
		v1.GET("/orders/my-sales", listSalesHandler(orders))
		v1.PUT("/orders/:id/cancel", cancelOrderHandler(orders))
		v1.PUT("/orders/:id/ship", shipOrderHandler(orders))
		v1.PUT("/orders/:id/deliver", deliverOrderHandler(orders))
		v1.PUT("/orders/:id/complete", completeOrderHandler(orders))

		v1.POST("/payments/process", processPaymentHandler(payments))
		v1.GET("/payments/:id", getPaymentHandler(payments))
		v1.POST("/payments/:id/refund", refundPaymentHandler(payments))
	}

	logger.Info("order service listening", zap.String("addr", cfg.OrderSvcAddr))
	if err := r.Run(cfg.OrderSvcAddr); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
}
