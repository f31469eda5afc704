package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/greendelivery/coldchain/pkg/types"
	"github.com/greendelivery/coldchain/processor/internal/config"
	"github.com/greendelivery/coldchain/processor/internal/metrics"
)

// Store is an ingestion backend. Submit performs one synchronous attempt.
type Store interface {
	Submit(ctx context.Context, rec *types.Record) error
	Name() string
}

// Result is the final outcome of forwarding one record.
type Result string

const (
	Delivered Result = "delivered"
	Dropped   Result = "dropped"
	// Skipped means forwarding is disabled.
	Skipped Result = "skipped"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with
// Permanent or is a StatusError with a non-retryable code.
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && !se.Retryable()
}

// powerBackOff waits base^n * unit before retry n, n counted from 1, never
// more than max. The product is clamped as a float so it cannot overflow
// time.Duration.
type powerBackOff struct {
	base    float64
	unit    time.Duration
	max     time.Duration
	attempt int
}

func (b *powerBackOff) NextBackOff() time.Duration {
	b.attempt++
	wait := math.Pow(b.base, float64(b.attempt)) * float64(b.unit)
	if wait >= float64(b.max) || math.IsInf(wait, 0) || math.IsNaN(wait) {
		return b.max
	}
	return time.Duration(wait)
}

func (b *powerBackOff) Reset() { b.attempt = 0 }

// Forwarder submits records to a Store with retries.
type Forwarder struct {
	store          Store
	maxRetries     int
	base           float64
	unit           time.Duration
	maxBackoff     time.Duration
	requestTimeout time.Duration
	metrics        *metrics.Metrics
}

// New creates a Forwarder. store may be nil to disable forwarding.
// m may be nil.
func New(store Store, cfg config.ForwarderConfig, m *metrics.Metrics) *Forwarder {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = config.DefaultMaxBackoff
	}
	return &Forwarder{
		store:          store,
		maxRetries:     cfg.MaxRetries,
		base:           cfg.BackoffBase,
		unit:           cfg.BackoffUnit,
		maxBackoff:     maxBackoff,
		requestTimeout: cfg.RequestTimeout,
		metrics:        m,
	}
}

// Forward delivers rec, making at most max_retries attempts. A success
// short-circuits the remaining attempts. A permanent failure stops at once.
// Cancelling ctx abandons the remaining attempts and drops the record.
func (f *Forwarder) Forward(ctx context.Context, rec *types.Record) Result {
	if f.store == nil {
		f.metrics.ForwardResults.WithLabelValues(string(Skipped)).Inc()
		return Skipped
	}

	start := time.Now()
	attempts := 0

	op := func() error {
		attempts++
		f.metrics.ForwardAttempts.Inc()

		actx, cancel := context.WithTimeout(ctx, f.requestTimeout)
		defer cancel()

		err := f.store.Submit(actx, rec)
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("forwarder: submit failed, retrying",
			"store", f.store.Name(),
			"package", rec.PackageID,
			"attempt", attempts,
			"max_retries", f.maxRetries,
			"retry_in", wait,
			"err", err,
		)
	}

	var bo backoff.BackOff = &powerBackOff{base: f.base, unit: f.unit, max: f.maxBackoff}
	bo = backoff.WithMaxRetries(bo, uint64(f.maxRetries-1))
	bo = backoff.WithContext(bo, ctx)

	err := backoff.RetryNotify(op, bo, notify)
	f.metrics.ForwardLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		f.metrics.ForwardResults.WithLabelValues(string(Delivered)).Inc()
		slog.Debug("forwarder: record delivered",
			"store", f.store.Name(), "package", rec.PackageID, "attempts", attempts)
		return Delivered
	}

	f.metrics.ForwardResults.WithLabelValues(string(Dropped)).Inc()
	slog.Error("forwarder: record dropped",
		"store", f.store.Name(),
		"package", rec.PackageID,
		"timestamp", rec.Timestamp,
		"attempts", attempts,
		"permanent", IsPermanent(err),
		"data_loss", true,
		"err", err,
	)
	return Dropped
}

// Deps carries the shared clients a Store may need.
type Deps struct {
	Redis    *redis.Client
	Postgres DB
}

// Open builds the Store selected by cfg.Forwarder.Type. deps carries the
// shared clients; only the one the store needs must be set.
func Open(ctx context.Context, cfg *config.Config, deps Deps) (Store, error) {
	switch cfg.Forwarder.Type {
	case "http":
		return NewHTTPStore(cfg.Forwarder.Endpoint, cfg.Forwarder.Key(), nil), nil
	case "redis":
		if deps.Redis == nil {
			return nil, fmt.Errorf("forwarder: redis store needs a redis client")
		}
		return NewRedisStore(deps.Redis, cfg.Redis.Stream), nil
	case "postgres":
		if deps.Postgres == nil {
			return nil, fmt.Errorf("forwarder: postgres store needs a connection pool")
		}
		s := NewPostgresStore(deps.Postgres, cfg.Postgres.Table)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("forwarder: unknown store type %q", cfg.Forwarder.Type)
	}
}
