// Command coupon-ingest loads coupon catalogues from gzip-compressed JSON-lines
// files into the coupons table.
//
// Files are read concurrently in two passes. Pass 1 builds a bloom filter of
// the codes of every file. Pass 2 writes codes no other file can contain
// straight away and keeps the rest as candidates. Candidates seen in two or
// more files are duplicates: the record from the last file on the command
// line wins.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		cfg         config
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl.gz coupon files, used when no files are given")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&cfg.bloomCapacity, "bloom-capacity", 1_000_000, "expected number of codes per file")
	flag.Float64Var(&cfg.bloomFPR, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&cfg.writers, "writers", 8, "concurrent database writers for duplicate resolution")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	files := flag.Args()
	if len(files) == 0 {
		files, err = filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
		if err != nil {
			lg.Fatal("Invalid data dir", zap.Error(err))
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		lg.Fatal("No coupon files found", zap.String("data_dir", dataDir))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, files, cfg); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, cfg config) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	stats, err := newIngester(lg, postgres.NewCouponRepository(pool), cfg).Run(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Coupon ingest completed",
		zap.Int("written", stats.Written),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("invalid", stats.Invalid),
	)
	return nil
}
