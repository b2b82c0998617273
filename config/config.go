package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Auth     AuthConfig
	Payment  PaymentConfig
	Business BusinessConfig
	Mail     MailConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// DatabaseConfig selects the order store. An empty URL runs on the in-memory store.
type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CartTTL  time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	TopicOrder    string
	ConsumerGroup string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	SampleRatio    float64
}

type AuthConfig struct {
	JWTSecret string
}

// PaymentConfig holds the environment defaults that persisted payment settings override.
type PaymentConfig struct {
	Active             bool
	Provider           string
	Currency           string
	GatewayURL         string
	GatewayToken       string
	CallbackURL        string
	FrameCallbackKey   string
	SuccessURL         string
	ErrorURL           string
	StylesheetURL      string
	CommissionRate     float64
	StripeAPIURL       string
	StripeSecretKey    string
	StripeWebhookKey   string
	ReferenceURL       string
	ReferenceKey       string
	ReferenceCallback  string
	ValidityDays       int
	GatewayTimeout     time.Duration
	SessionTTL         time.Duration
	MaxReferenceLength int
}

type BusinessConfig struct {
	FulfillmentMode string
	PriceDriftBPS   int64
}

type MailConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	SellerName    string
	SellerAddress string
	SellerEmail   string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			CartTTL:  time.Duration(getEnvInt("CART_TTL_HOURS", 72)) * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicOrder:    getEnv("KAFKA_TOPIC_ORDER_EVENTS", "order-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "notification-service-group"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRatio:    getEnvFloat("TRACE_SAMPLE_RATIO", 1),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Payment: PaymentConfig{
			Active:             getEnv("PAYMENTS_ACTIVE", "true") == "true",
			Provider:           getEnv("PAYMENT_PROVIDER", models.ProviderFrame),
			Currency:           strings.ToUpper(getEnv("PAYMENT_CURRENCY", "EUR")),
			GatewayURL:         getEnv("PAYMENT_GATEWAY_URL", ""),
			GatewayToken:       getEnv("PAYMENT_GATEWAY_TOKEN", ""),
			CallbackURL:        getEnv("PAYMENT_CALLBACK_URL", ""),
			FrameCallbackKey:   getEnv("PAYMENT_CALLBACK_HMAC_KEY", ""),
			SuccessURL:         getEnv("PAYMENT_SUCCESS_URL", ""),
			ErrorURL:           getEnv("PAYMENT_ERROR_URL", ""),
			StylesheetURL:      getEnv("PAYMENT_STYLESHEET_URL", ""),
			CommissionRate:     getEnvFloat("PAYMENT_COMMISSION_RATE", 0),
			StripeAPIURL:       getEnv("STRIPE_API_URL", ""),
			StripeSecretKey:    getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookKey:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
			ReferenceURL:       getEnv("REFERENCE_SERVICE_URL", ""),
			ReferenceKey:       getEnv("REFERENCE_SERVICE_KEY", ""),
			ReferenceCallback:  getEnv("REFERENCE_CALLBACK_KEY", ""),
			ValidityDays:       getEnvInt("REFERENCE_VALIDITY_DAYS", 3),
			GatewayTimeout:     time.Duration(getEnvInt("PAYMENT_GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
			SessionTTL:         time.Duration(getEnvInt("PAYMENT_SESSION_TTL_MINUTES", 15)) * time.Minute,
			MaxReferenceLength: getEnvInt("PAYMENT_MAX_REFERENCE_LENGTH", 25),
		},
		Business: BusinessConfig{
			FulfillmentMode: getEnv("FULFILLMENT_MODE", "digital"),
			PriceDriftBPS:   int64(getEnvInt("PRICE_DRIFT_TOLERANCE_BPS", 0)),
		},
		Mail: MailConfig{
			Host:          getEnv("SMTP_HOST", ""),
			Port:          getEnvInt("SMTP_PORT", 587),
			Username:      getEnv("SMTP_USERNAME", ""),
			Password:      getEnv("SMTP_PASSWORD", ""),
			From:          getEnv("SMTP_FROM", "shop@localhost"),
			SellerName:    getEnv("SELLER_NAME", "Checkout"),
			SellerAddress: getEnv("SELLER_ADDRESS", ""),
			SellerEmail:   getEnv("SELLER_EMAIL", ""),
		},
	}
}

// Settings converts the environment defaults into the settings record the payment
// services merge persisted overrides onto.
func (p PaymentConfig) Settings() models.PaymentSettings {
	return models.PaymentSettings{
		Active:             p.Active,
		Provider:           p.Provider,
		Currency:           p.Currency,
		GatewayURL:         p.GatewayURL,
		GatewayToken:       p.GatewayToken,
		CallbackURL:        p.CallbackURL,
		FrameCallbackKey:   p.FrameCallbackKey,
		SuccessURL:         p.SuccessURL,
		ErrorURL:           p.ErrorURL,
		StylesheetURL:      p.StylesheetURL,
		CommissionRate:     p.CommissionRate,
		StripeSecretKey:    p.StripeSecretKey,
		StripeWebhookKey:   p.StripeWebhookKey,
		ReferenceURL:       p.ReferenceURL,
		ReferenceKey:       p.ReferenceKey,
		ReferenceCallback:  p.ReferenceCallback,
		ReferenceValidity:  time.Duration(p.ValidityDays) * 24 * time.Hour,
		SessionTTL:         p.SessionTTL,
		GatewayTimeout:     p.GatewayTimeout,
		MaxReferenceLength: p.MaxReferenceLength,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultVal
	}
	return v
}
