// Command seed-db migrates the schema and loads the product catalog, the
// coupon catalogue and the gateway API keys.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const scopeCart = "cart"

type options struct {
	databaseURL  string
	productsFile string
	couponsFile  string
	apiKey       string
	adminAPIKey  string
	apiKeyPepper string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&opts.couponsFile, "coupons-file", "db/seed/coupons.json", "path to coupons JSON file, empty to skip")
	flag.StringVar(&opts.apiKey, "api-key", "", "gateway API key to seed (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&opts.adminAPIKey, "admin-api-key", "", "optional back-office API key with the orders:admin scope")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.databaseURL = firstNonEmpty(opts.databaseURL, os.Getenv("DATABASE_URL"))
	opts.apiKey = firstNonEmpty(opts.apiKey, os.Getenv("STOREFRONT_SEED_API_KEY"))
	opts.apiKeyPepper = firstNonEmpty(opts.apiKeyPepper, os.Getenv("STOREFRONT_API_KEY_PEPPER"))
	switch {
	case opts.databaseURL == "":
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	case opts.apiKey == "":
		lg.Fatal("API key is required: set --api-key or STOREFRONT_SEED_API_KEY")
	case opts.apiKeyPepper == "":
		lg.Fatal("API key pepper is required: set --api-key-pepper or STOREFRONT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, lg, postgres.NewProductRepository(pool), opts.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if opts.couponsFile != "" {
		if err := seedCoupons(ctx, lg, postgres.NewCouponRepository(pool), opts.couponsFile); err != nil {
			return errors.Wrap(err, "seed coupons")
		}
	}

	keys := postgres.NewAPIKeyRepository(pool)
	pepper := []byte(opts.apiKeyPepper)
	if err := seedAPIKey(ctx, lg, keys, &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.Hash(pepper, opts.apiKey),
		Name:    "Storefront gateway",
		Scopes:  []string{scopeCart},
	}); err != nil {
		return err
	}
	if opts.adminAPIKey != "" {
		if err := seedAPIKey(ctx, lg, keys, &auth.APIKeyInfo{
			ID:      "admin",
			KeyHash: auth.Hash(pepper, opts.adminAPIKey),
			Name:    "Back office",
			Scopes:  []string{scopeCart, auth.ScopeOrdersAdmin},
		}); err != nil {
			return err
		}
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.ProductRepository, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	var n int
	if err := catalog.DecodeProducts(f, func(rec catalog.ProductRecord) error {
		p, err := rec.Product()
		if err != nil {
			return err
		}
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		n++
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("title", p.Title))
		return nil
	}); err != nil {
		return err
	}
	lg.Info("Products seeded", zap.String("path", path), zap.Int("count", n))
	return nil
}

func seedCoupons(ctx context.Context, lg *zap.Logger, repo *postgres.CouponRepository, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open coupons file")
	}
	defer func() { _ = f.Close() }()

	var n int
	if err := catalog.DecodeCoupons(f, func(rec catalog.CouponRecord) error {
		c, err := rec.Coupon()
		if err != nil {
			return err
		}
		if err := repo.Upsert(ctx, c); err != nil {
			return err
		}
		n++
		lg.Debug("Upserted coupon", zap.String("code", c.Code), zap.String("description", c.Description))
		return nil
	}); err != nil {
		return err
	}
	lg.Info("Coupons seeded", zap.String("path", path), zap.Int("count", n))
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, repo *postgres.APIKeyRepository, info *auth.APIKeyInfo) error {
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrapf(err, "seed api key %s", info.ID)
	}
	lg.Info("Upserted API key",
		zap.String("id", info.ID),
		zap.String("name", info.Name),
		zap.Strings("scopes", info.Scopes),
	)
	return nil
}
