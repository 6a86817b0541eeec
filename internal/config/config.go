package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	OrderSvcAddr       string
	PostgresDSN        string
	MarketplaceBaseURL string
	KafkaBrokers       string
	KafkaTopic         string
	PaymentGateway     string
	StripeAPIKey       string
	LogLevel           string
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func Load() Config {
	_ = godotenv.Load() // load .env if it exists
	cfg := Config{
		OrderSvcAddr:       getenv("ORDER_SERVICE_ADDR", ":8083"),
		PostgresDSN:        getenv("POSTGRES_DSN", ""),
		MarketplaceBaseURL: getenv("MARKETPLACE_BASEURL", "http://marketplace:8082"),
		KafkaBrokers:       getenv("KAFKA_BROKERS", ""),
		KafkaTopic:         getenv("KAFKA_TOPIC", "order-events"),
		PaymentGateway:     getenv("PAYMENT_GATEWAY", "mock"),
		StripeAPIKey:       getenv("STRIPE_API_KEY", ""),
		LogLevel:           getenv("LOG_LEVEL", "info"),
	}
	log.Printf("[config] ORDER_SERVICE_ADDR=%s", cfg.OrderSvcAddr)
	log.Printf("[config] MARKETPLACE_BASEURL=%s", cfg.MarketplaceBaseURL)
	log.Printf("[config] PAYMENT_GATEWAY=%s", cfg.PaymentGateway)
	return cfg
}
