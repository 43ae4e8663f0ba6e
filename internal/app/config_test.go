package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/pricing"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestApplyPlatformDefaults(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		env       map[string]string
		wantAddr  string
		wantDB    string
		wantRedis string
	}{
		{
			name:      "platform variables fill blanks",
			cfg:       Config{Addr: defaultAddr},
			env:       map[string]string{"DATABASE_URL": "postgres://db", "REDIS_URL": "redis://cache", "PORT": "9000"},
			wantAddr:  "0.0.0.0:9000",
			wantDB:    "postgres://db",
			wantRedis: "redis://cache",
		},
		{
			name:      "explicit settings win",
			cfg:       Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://own", Redis: RedisConfig{URL: "redis://own"}},
			env:       map[string]string{"DATABASE_URL": "postgres://db", "REDIS_URL": "redis://cache", "PORT": "9000"},
			wantAddr:  "127.0.0.1:7000",
			wantDB:    "postgres://own",
			wantRedis: "redis://own",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.applyPlatformDefaults(env(tt.env))
			assert.Equal(t, tt.wantAddr, cfg.Addr)
			assert.Equal(t, tt.wantDB, cfg.DatabaseURL)
			assert.Equal(t, tt.wantRedis, cfg.Redis.URL)
		})
	}
}

func TestPricingPolicy(t *testing.T) {
	policy, err := PricingConfig{
		TaxRate:               "0.05",
		StandardShipping:      "4.50",
		ExpressShipping:       "10",
		FreeShippingThreshold: "0",
	}.Policy()
	require.NoError(t, err)
	assert.True(t, policy.TaxRate.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, policy.Shipping[pricing.ShippingStandard].Equal(decimal.RequireFromString("4.5")))
	assert.True(t, policy.Shipping[pricing.ShippingExpress].Equal(decimal.NewFromInt(10)))
	assert.True(t, policy.FreeShippingThreshold.IsZero())

	defaults, err := PricingConfig{}.Policy()
	require.NoError(t, err)
	assert.True(t, defaults.TaxRate.Equal(pricing.DefaultConfig().TaxRate))

	_, err = PricingConfig{TaxRate: "seven"}.Policy()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{DatabaseURL: "postgres://db", APIKeyPepper: "pepper"}
	require.NoError(t, valid.validate())

	noDB := valid
	noDB.DatabaseURL = ""
	require.ErrorContains(t, noDB.validate(), "database URL")

	noPepper := valid
	noPepper.APIKeyPepper = ""
	require.ErrorContains(t, noPepper.validate(), "pepper")

	negative := valid
	negative.Pricing.StandardShipping = "-1"
	require.ErrorContains(t, negative.validate(), "pricing")
}
