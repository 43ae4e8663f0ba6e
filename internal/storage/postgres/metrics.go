package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
)

// PoolStats is satisfied by *pgxpool.Pool.
type PoolStats interface {
	Stat() *pgxpool.Stat
}

// RegisterPoolMetrics exports connection pool statistics as observable
// gauges. The returned registration must be unregistered on shutdown.
func RegisterPoolMetrics(pool PoolStats, mp metric.MeterProvider) (metric.Registration, error) {
	meter := mp.Meter("github.com/xenking/storefront/internal/storage/postgres")

	acquired, err := meter.Int64ObservableGauge("db.pool.acquired_connections",
		metric.WithDescription("Number of currently acquired connections"))
	if err != nil {
		return nil, errors.Wrap(err, "acquired gauge")
	}
	idle, err := meter.Int64ObservableGauge("db.pool.idle_connections",
		metric.WithDescription("Number of currently idle connections"))
	if err != nil {
		return nil, errors.Wrap(err, "idle gauge")
	}
	total, err := meter.Int64ObservableGauge("db.pool.total_connections",
		metric.WithDescription("Total number of connections in the pool"))
	if err != nil {
		return nil, errors.Wrap(err, "total gauge")
	}
	maxConns, err := meter.Int64ObservableGauge("db.pool.max_connections",
		metric.WithDescription("Maximum number of connections allowed"))
	if err != nil {
		return nil, errors.Wrap(err, "max gauge")
	}
	empty, err := meter.Int64ObservableCounter("db.pool.empty_acquires",
		metric.WithDescription("Acquires that had to wait for a connection"))
	if err != nil {
		return nil, errors.Wrap(err, "empty acquire counter")
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := pool.Stat()
		o.ObserveInt64(acquired, int64(s.AcquiredConns()))
		o.ObserveInt64(idle, int64(s.IdleConns()))
		o.ObserveInt64(total, int64(s.TotalConns()))
		o.ObserveInt64(maxConns, int64(s.MaxConns()))
		o.ObserveInt64(empty, s.EmptyAcquireCount())
		return nil
	}, acquired, idle, total, maxConns, empty)
	if err != nil {
		return nil, errors.Wrap(err, "register pool callback")
	}
	return reg, nil
}
