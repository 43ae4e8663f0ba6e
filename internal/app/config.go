package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (STOREFRONT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Kafka        KafkaConfig
	Pricing      PricingConfig
	Cart         CartConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig controls the checkout idempotency store. An empty URL disables
// Idempotency-Key deduplication.
type RedisConfig struct {
	URL            string        `usage:"Redis URL (STOREFRONT_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long a completed Idempotency-Key replays its order" flag:"idempotency-ttl"`
}

// KafkaConfig controls order event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers         []string      `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic           string        `default:"storefront.orders" usage:"Order events topic" flag:"kafka-topic"`
	BreakerTimeout  time.Duration `default:"30s" usage:"Open circuit duration before probing the brokers" flag:"kafka-breaker-timeout"`
	BreakerFailures uint32        `default:"5" usage:"Consecutive publish failures that open the circuit" flag:"kafka-breaker-failures"`
}

// PricingConfig holds the money policy. Amounts are decimal strings.
type PricingConfig struct {
	TaxRate               string `default:"0.07" usage:"Tax rate applied to the subtotal" flag:"tax-rate"`
	StandardShipping      string `default:"5.99" usage:"Standard shipping cost" flag:"standard-shipping"`
	ExpressShipping       string `default:"12.99" usage:"Express shipping cost" flag:"express-shipping"`
	FreeShippingThreshold string `default:"1000" usage:"Subtotal above which shipping is free, 0 disables" flag:"free-shipping-threshold"`
}

// CartConfig tunes the cart aggregate.
type CartConfig struct {
	MaxRetries int `default:"8" usage:"Optimistic write attempts per cart mutation" flag:"cart-max-retries"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set STOREFRONT_API_KEY_PEPPER")
	}
	policy, err := c.Pricing.Policy()
	if err != nil {
		return err
	}
	if _, err := pricing.NewEngine(policy); err != nil {
		return errors.Wrap(err, "pricing")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	if c.DatabaseURL == "" {
		c.DatabaseURL = getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = getenv("REDIS_URL")
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Policy converts the configured amounts into a pricing.Config.
func (p PricingConfig) Policy() (pricing.Config, error) {
	cfg := pricing.DefaultConfig()
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"tax rate", p.TaxRate, &cfg.TaxRate},
		{"free shipping threshold", p.FreeShippingThreshold, &cfg.FreeShippingThreshold},
	} {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return pricing.Config{}, errors.Wrapf(err, "parse %s", f.name)
		}
		*f.dst = d
	}
	for method, raw := range map[pricing.ShippingMethod]string{
		pricing.ShippingStandard: p.StandardShipping,
		pricing.ShippingExpress:  p.ExpressShipping,
	} {
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return pricing.Config{}, errors.Wrapf(err, "parse %s shipping", method)
		}
		cfg.Shipping[method] = d
	}
	return cfg, nil
}
