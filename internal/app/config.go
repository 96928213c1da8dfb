package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (GIFTBOX_ prefix), flags, or YAML config files.
type Config struct {
	Addr            string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL     string        `usage:"PostgreSQL connection URL (GIFTBOX_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL    string        `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	TaxRate         string        `default:"0" usage:"Flat tax rate applied to the discounted subtotal (0.08 = 8%)" flag:"tax-rate"`
	CatalogCacheTTL time.Duration `default:"30s" usage:"Storefront catalog cache TTL" flag:"catalog-cache-ttl"`
	TrustProxy      bool          `default:"false" usage:"Take client IPs from X-Forwarded-For (only behind a trusted proxy)" flag:"trust-proxy"`
	Admin           AdminConfig
	Gateway         GatewayConfig
	Redis           RedisConfig
	Rabbit          RabbitConfig
	Ops             OpsConfig
	RateLimit       RateLimitConfig
	LoginRateLimit  LoginRateLimitConfig
	CORS            CORSConfig
	Graceful        GracefulConfig
}

// AdminConfig holds the single administrator identity and token settings.
type AdminConfig struct {
	Username     string        `default:"admin" usage:"Administrator username"`
	Password     string        `usage:"Administrator password (GIFTBOX_ADMIN_PASSWORD)"`
	PasswordHash string        `usage:"bcrypt hash of the administrator password, preferred over Password"`
	TokenSecret  string        `usage:"HMAC key for admin tokens (GIFTBOX_ADMIN_TOKEN_SECRET)"`
	TokenTTL     time.Duration `default:"24h" usage:"Admin token lifetime"`
}

// GatewayConfig holds fallback gateway keys, used while the settings store
// holds none.
type GatewayConfig struct {
	SecretKey      string        `usage:"Payment gateway secret key"`
	PublishableKey string        `usage:"Payment gateway publishable key"`
	URL            string        `usage:"Override of the gateway API base URL"`
	Timeout        time.Duration `default:"10s" usage:"Per-call gateway timeout"`
}

// RedisConfig enables the Redis idempotency store when Addr is set.
type RedisConfig struct {
	Addr      string        `usage:"Redis address (host:port); empty keeps intents in PostgreSQL"`
	Password  string        `usage:"Redis password"`
	DB        int           `default:"0" usage:"Redis database number"`
	IntentTTL time.Duration `default:"24h" usage:"How long intent idempotency keys are kept"`
}

// RabbitConfig enables order confirmation email jobs when URL is set.
type RabbitConfig struct {
	URL string `usage:"AMQP URL of the notification broker"`
}

// OpsConfig enables ops channel notifications when WebhookURL is set.
type OpsConfig struct {
	WebhookURL string `usage:"Incoming-webhook URL for paid-order notifications"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// LoginRateLimitConfig is a stricter limit on POST /admin/login.
type LoginRateLimitConfig struct {
	Max    int           `default:"5"  usage:"Max login attempts per window"`
	Window time.Duration `default:"1m" usage:"Login rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "GIFTBOX",
		Files:     []string{"config.yaml", "/etc/giftbox/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set GIFTBOX_DATABASE_URL or DATABASE_URL")
	}
	if c.Admin.TokenSecret == "" {
		return errors.New("admin token secret is required: set GIFTBOX_ADMIN_TOKEN_SECRET")
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return errors.New("admin password is required: set GIFTBOX_ADMIN_PASSWORD or GIFTBOX_ADMIN_PASSWORD_HASH")
	}
	if _, err := c.taxRate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) taxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse tax rate %q", c.TaxRate)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.Errorf("tax rate %s must be in [0, 1)", rate)
	}
	return rate, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's GIFTBOX_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
