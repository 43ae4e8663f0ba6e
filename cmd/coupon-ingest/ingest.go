package main

import (
	"context"
	"io"
	"math/bits"
	"os"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
)

// maxFiles bounds the file bitmask.
const maxFiles = bits.UintSize

type config struct {
	bloomCapacity uint
	bloomFPR      float64
	writers       int
}

// couponWriter is implemented by *postgres.CouponRepository.
type couponWriter interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

// Stats summarises an ingest run.
type Stats struct {
	Written    int
	Duplicates int
	Invalid    int
}

type ingester struct {
	lg  *zap.Logger
	out couponWriter
	cfg config

	written atomic.Int64
	invalid atomic.Int64
}

func newIngester(lg *zap.Logger, out couponWriter, cfg config) *ingester {
	if cfg.bloomCapacity == 0 {
		cfg.bloomCapacity = 1_000_000
	}
	if cfg.bloomFPR <= 0 {
		cfg.bloomFPR = 0.001
	}
	if cfg.writers < 1 {
		cfg.writers = 1
	}
	return &ingester{lg: lg, out: out, cfg: cfg}
}

// candidate is a code some other file may also contain.
type candidate struct {
	files uint
	file  int
	c     *coupon.Coupon
}

// Run ingests files. Later files take precedence over earlier ones.
func (in *ingester) Run(ctx context.Context, files []string) (Stats, error) {
	if len(files) > maxFiles {
		return Stats{}, errors.Errorf("at most %d files per run", maxFiles)
	}

	in.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := in.buildFilters(ctx, files)
	if err != nil {
		return Stats{}, errors.Wrap(err, "build bloom filters")
	}

	in.lg.Info("Pass 2: writing unique codes")
	perFile, err := in.writeUnique(ctx, files, filters)
	if err != nil {
		return Stats{}, errors.Wrap(err, "write unique codes")
	}

	merged := make(map[string]*candidate)
	for i, found := range perFile {
		for code, c := range found {
			m, ok := merged[code]
			if !ok {
				m = &candidate{}
				merged[code] = m
			}
			// perFile is in command-line order, so the last write wins.
			m.files |= 1 << uint(i)
			m.file, m.c = i, c
		}
	}

	var duplicates int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.writers)
	for code, m := range merged {
		if bits.OnesCount(m.files) >= 2 {
			duplicates++
			in.lg.Warn("Duplicate coupon code across files",
				zap.String("code", code),
				zap.String("kept_from", files[m.file]),
			)
		}
		g.Go(func() error { return in.write(gctx, m.c) })
	}
	if err := g.Wait(); err != nil {
		return Stats{}, errors.Wrap(err, "write candidates")
	}

	return Stats{
		Written:    int(in.written.Load()),
		Duplicates: duplicates,
		Invalid:    int(in.invalid.Load()),
	}, nil
}

func (in *ingester) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(in.cfg.bloomCapacity, in.cfg.bloomFPR)
			var n int
			if err := streamFile(ctx, path, func(rec catalog.CouponRecord) error {
				filter.AddString(coupon.NormalizeCode(rec.Code))
				n++
				return nil
			}); err != nil {
				return err
			}
			in.lg.Info("Pass 1 complete", zap.String("file", path), zap.Int("records", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// writeUnique upserts records whose code no other file's filter contains and
// returns the remaining candidates per file. Within a file the last record of
// a code wins.
func (in *ingester) writeUnique(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]map[string]*coupon.Coupon, error) {
	perFile := make([]map[string]*coupon.Coupon, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found := make(map[string]*coupon.Coupon)
			pending := make(map[string]*coupon.Coupon)
			err := streamFile(ctx, path, func(rec catalog.CouponRecord) error {
				c, err := rec.Coupon()
				if err != nil {
					in.invalid.Add(1)
					in.lg.Warn("Skipping invalid coupon", zap.String("file", path), zap.Error(err))
					return nil
				}
				for j, f := range filters {
					if j != i && f.TestString(c.Code) {
						found[c.Code] = c
						return nil
					}
				}
				pending[c.Code] = c
				return nil
			})
			if err != nil {
				return err
			}
			for _, c := range pending {
				if err := in.write(ctx, c); err != nil {
					return err
				}
			}
			in.lg.Info("Pass 2 complete",
				zap.String("file", path),
				zap.Int("written", len(pending)),
				zap.Int("candidates", len(found)),
			)
			perFile[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return perFile, nil
}

func (in *ingester) write(ctx context.Context, c *coupon.Coupon) error {
	if err := in.out.Upsert(ctx, c); err != nil {
		return errors.Wrapf(err, "upsert coupon %s", c.Code)
	}
	in.written.Add(1)
	return nil
}

// streamFile decodes the gzip-compressed JSON-lines file at path.
func streamFile(ctx context.Context, path string, fn func(catalog.CouponRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	if err := catalog.DecodeCoupons(contextReader{ctx: ctx, r: gz}, fn); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
