package db

import (
	"context"
	"errors"
	"net"
	"time"

	"backend-runaway/internal/logging"
	"backend-runaway/internal/metrics"
	"backend-runaway/internal/shared/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gobreaker "github.com/sony/gobreaker/v2"
)

type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "postgres",
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Guarded routes every statement through a circuit breaker so that a dead
// database fails fast with an Unavailable error instead of piling up
// requests. Only infrastructure failures trip the breaker; query errors such
// as pgx.ErrNoRows pass through untouched.
type Guarded struct {
	q  TxQuerier
	cb *gobreaker.CircuitBreaker[any]
}

func NewGuarded(q TxQuerier, cfg BreakerConfig) *Guarded {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsInfraError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.StoreBreakerState.Set(float64(to))
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store breaker state changed")
		},
	}
	return &Guarded{q: q, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func (g *Guarded) State() string {
	return g.cb.State().String()
}

func (g *Guarded) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return guard(g.cb, func() (pgconn.CommandTag, error) { return g.q.Exec(ctx, sql, args...) })
}

func (g *Guarded) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return guard(g.cb, func() (pgx.Rows, error) { return g.q.Query(ctx, sql, args...) })
}

func (g *Guarded) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return guardedRow{row: g.q.QueryRow(ctx, sql, args...), cb: g.cb}
}

func (g *Guarded) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := guard(g.cb, func() (pgx.Tx, error) { return g.q.Begin(ctx) })
	if err != nil {
		return nil, err
	}
	return guardedTx{Tx: tx, cb: g.cb}, nil
}

type guardedRow struct {
	row pgx.Row
	cb  *gobreaker.CircuitBreaker[any]
}

func (r guardedRow) Scan(dest ...any) error {
	_, err := guard(r.cb, func() (struct{}, error) { return struct{}{}, r.row.Scan(dest...) })
	return err
}

type guardedTx struct {
	pgx.Tx
	cb *gobreaker.CircuitBreaker[any]
}

func (t guardedTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return guard(t.cb, func() (pgconn.CommandTag, error) { return t.Tx.Exec(ctx, sql, args...) })
}

func (t guardedTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return guard(t.cb, func() (pgx.Rows, error) { return t.Tx.Query(ctx, sql, args...) })
}

func (t guardedTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return guardedRow{row: t.Tx.QueryRow(ctx, sql, args...), cb: t.cb}
}

func (t guardedTx) Commit(ctx context.Context) error {
	_, err := guard(t.cb, func() (struct{}, error) { return struct{}{}, t.Tx.Commit(ctx) })
	return err
}

func guard[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		return zero, Classify(err)
	}
	v, _ := out.(T)
	return v, nil
}

// IsInfraError reports whether err means the database could not be reached,
// as opposed to a statement that ran and failed.
func IsInfraError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify wraps infrastructure and breaker errors as apperr Unavailable.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || IsInfraError(err) {
		return apperr.Unavailable("store unavailable", err)
	}
	return err
}
