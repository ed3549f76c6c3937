// config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MongoURI    string `env:"MONGO_URI" envDefault:"mongodb://host.docker.internal:27017"`
	MongoDBName string `env:"MONGO_DB_NAME" envDefault:"order_lifecycle_db"`
	RabbitURL   string `env:"RABBIT_URL" envDefault:"amqp://host.docker.internal"`
	AuthURL     string `env:"AUTH_URL" envDefault:"http://host.docker.internal:3000"`

	AuthCacheTTL time.Duration `env:"AUTH_CACHE_TTL" envDefault:"30s"`

	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	WorkerInterval    time.Duration `env:"WORKER_INTERVAL" envDefault:"5m"`
	RefundGracePeriod time.Duration `env:"REFUND_GRACE_PERIOD" envDefault:"72h"`
	WorkerBatch       int64         `env:"WORKER_BATCH" envDefault:"100"`

	// Orígenes permitidos para CORS; vacío deshabilita el middleware.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	PhonePe    PhonePe    `envPrefix:"PHONEPE_"`
	Razorpay   Razorpay   `envPrefix:"RAZORPAY_"`
	Shiprocket Shiprocket `envPrefix:"SHIPROCKET_"`
}

type PhonePe struct {
	BaseURL      string `env:"BASE_URL" envDefault:"https://api.phonepe.com/apis/hermes"`
	MerchantID   string `env:"MERCHANT_ID"`
	SaltKey      string `env:"SALT_KEY"`
	SaltIndex    string `env:"SALT_INDEX" envDefault:"1"`
	CallbackPath string `env:"CALLBACK_PATH" envDefault:"/webhook/phonepe"`
}

type Razorpay struct {
	BaseURL       string `env:"BASE_URL" envDefault:"https://api.razorpay.com"`
	KeyID         string `env:"KEY_ID"`
	KeySecret     string `env:"KEY_SECRET"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	WebhookToken  string `env:"WEBHOOK_TOKEN"`
}

type Shiprocket struct {
	BaseURL         string        `env:"BASE_URL" envDefault:"https://apiv2.shiprocket.in"`
	Email           string        `env:"EMAIL"`
	Password        string        `env:"PASSWORD"`
	WebhookUser     string        `env:"WEBHOOK_USER"`
	WebhookPassword string        `env:"WEBHOOK_PASSWORD"`
	PickupLocation  string        `env:"PICKUP_LOCATION" envDefault:"Primary"`
	AutoAWB         bool          `env:"AUTO_AWB" envDefault:"true"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"216h"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// .env is optional outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.WorkerInterval <= 0 {
		return nil, fmt.Errorf("WORKER_INTERVAL must be positive, got %s", cfg.WorkerInterval)
	}
	return cfg, nil
}
