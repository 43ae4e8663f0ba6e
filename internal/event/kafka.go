// Package event publishes order lifecycle events to Kafka.
package event

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// Writer is the subset of *kafka.Writer used by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the Kafka publisher settings.
type Config struct {
	Brokers []string
	Topic   string
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	// BreakerFailures is the number of consecutive failures that opens it.
	BreakerFailures uint32
}

// ErrBreakerOpen is returned while the breaker rejects publishes.
var ErrBreakerOpen = gobreaker.ErrOpenState

var _ order.Publisher = (*Publisher)(nil)

// Publisher writes order events keyed by order ID, so all events of one
// order land on the same partition in order. A circuit breaker stops
// checkout from waiting on an unreachable broker.
type Publisher struct {
	w       Writer
	topic   string
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewWriter returns a synchronous kafka.Writer acknowledging on all replicas.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewPublisher wraps w with a circuit breaker.
func NewPublisher(ctx context.Context, w Writer, cfg Config) *Publisher {
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	lg := zctx.From(ctx)

	return &Publisher{
		w:     w,
		topic: cfg.Topic,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "kafka:" + cfg.Topic,
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lg.Warn("Circuit breaker state change",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
}

// Publish encodes e and writes it through the breaker.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(e.Order.ID),
		Value: Encode(e),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
		Time: e.At,
	}
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.w.WriteMessages(ctx, msg)
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// Encode renders the JSON payload of e.
func Encode(e order.Event) []byte {
	o := e.Order
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("type")
	w.Str(string(e.Type))
	w.FieldStart("orderId")
	w.Str(o.ID)
	w.FieldStart("number")
	w.Str(o.Number)
	w.FieldStart("userId")
	w.Str(o.UserID)
	w.FieldStart("status")
	w.Str(string(o.Status))
	if e.FromStatus != "" {
		w.FieldStart("fromStatus")
		w.Str(string(e.FromStatus))
	}
	w.FieldStart("grandTotal")
	w.Str(o.GrandTotal.StringFixed(2))
	if o.CouponCode != "" {
		w.FieldStart("couponCode")
		w.Str(o.CouponCode)
	}
	w.FieldStart("lines")
	w.ArrStart()
	for _, l := range o.Lines {
		w.ObjStart()
		w.FieldStart("productId")
		w.Str(l.ProductID)
		w.FieldStart("quantity")
		w.Int(l.Quantity)
		w.FieldStart("unitPrice")
		w.Str(l.UnitPrice.StringFixed(2))
		w.ObjEnd()
	}
	w.ArrEnd()
	w.FieldStart("at")
	w.Str(e.At.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return w.Bytes()
}

// Ping dials the brokers and succeeds as soon as one of them answers.
func Ping(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Wrap(lastErr, "all kafka brokers unreachable")
}
