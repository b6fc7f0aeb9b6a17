package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Payment  PaymentConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicBilling  string
	ConsumerGroup string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
}

// PaymentConfig carries the gateway integration parameters. The secret signs
// outgoing order parameters and verifies incoming webhook notifications.
type PaymentConfig struct {
	MerchantID      string
	Secret          string
	GatewayURL      string
	NotifyURL       string
	ReturnURL       string
	PaymentType     string
	StrictSignature bool
}

type BusinessConfig struct {
	FreeLimit     decimal.Decimal
	AmountEpsilon decimal.Decimal
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicBilling:  getEnv("KAFKA_TOPIC_BILLING_EVENTS", "billing-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "tokenpay-audit"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
		Payment: PaymentConfig{
			MerchantID:      getEnv("PAYMENT_MERCHANT_ID", "1000"),
			Secret:          getEnv("PAYMENT_SECRET", ""),
			GatewayURL:      getEnv("PAYMENT_GATEWAY_URL", "https://pay.example.com/submit.php"),
			NotifyURL:       getEnv("PAYMENT_NOTIFY_URL", "http://localhost:8080/api/v1/payments/notify"),
			ReturnURL:       getEnv("PAYMENT_RETURN_URL", "http://localhost:8080/billing"),
			PaymentType:     getEnv("PAYMENT_TYPE", "alipay"),
			StrictSignature: getEnv("PAYMENT_STRICT_SIGNATURE", "true") == "true",
		},
		Business: BusinessConfig{
			FreeLimit:     mustDecimal(getEnv("FREE_LIMIT", "100")),
			AmountEpsilon: mustDecimal(getEnv("AMOUNT_EPSILON", "0.005")),
		},
	}

	log.Printf("Config loaded: env=%s, port=%s", cfg.Server.Env, cfg.Server.Port)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("Invalid decimal config value %q: %v", s, err)
	}
	return d
}
