package stats

import (
	"context"
	"errors"
	"time"

	"backend-runaway/internal/logging"
	"backend-runaway/internal/metrics"
	"backend-runaway/internal/shared/apperr"
)

const DefaultMaxAttempts = 3

// Apply performs one read-modify-write cycle of the user's document inside
// the caller's transaction. The document stays locked from the read until the
// transaction ends, so concurrent runs for one user queue instead of racing.
// ErrConflict is still possible against a writer that skipped the lock.
func Apply(ctx context.Context, store Store, userID string, run Run, now time.Time) (Statistics, error) {
	var existing *Statistics
	cur, err := store.LoadForUpdate(ctx, userID)
	switch {
	case err == nil:
		existing = &cur
	case !errors.Is(err, ErrNotFound):
		return Statistics{}, err
	}

	next, err := ApplyRun(existing, run, now)
	if err != nil {
		return Statistics{}, err
	}
	next.UserID = userID
	if err := store.Save(ctx, &next); err != nil {
		return Statistics{}, err
	}
	return next, nil
}

// Retry runs fn until it succeeds, fails with something other than
// ErrConflict, or attempts are exhausted. Exhaustion surfaces as a Conflict.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !errors.Is(err, ErrConflict) {
			return err
		}
		metrics.StatsConflicts.Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if i+1 < attempts {
			logging.Ctx(ctx).Debug().Int("attempt", i+1).Msg("statistics update conflict, retrying")
		}
	}
	return apperr.Conflict("statistics update lost to concurrent writers", err)
}

type Service struct {
	store    Store
	attempts int
}

func NewService(store Store, attempts int) *Service {
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}
	return &Service{store: store, attempts: attempts}
}

// Snapshot returns all four buckets for the periods enclosing now.
func (s *Service) Snapshot(ctx context.Context, userID string, now time.Time) (Statistics, error) {
	doc, err := s.store.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Empty(userID, now), nil
	}
	if err != nil {
		return Statistics{}, err
	}
	return doc.Current(now), nil
}

func (s *Service) Get(ctx context.Context, userID string, period Period, now time.Time) (Bucket, error) {
	doc, err := s.Snapshot(ctx, userID, now)
	if err != nil {
		return Bucket{}, err
	}
	return doc.Bucket(period), nil
}

// Rebuild recomputes the document from the run records and replaces the
// cached one. Nothing is written unless the aggregation completed.
func (s *Service) Rebuild(ctx context.Context, userID string, now time.Time) (Statistics, error) {
	start := time.Now()
	var out Statistics
	err := Retry(ctx, s.attempts, func() error {
		var version int64
		cur, err := s.store.Load(ctx, userID)
		found := err == nil
		switch {
		case found:
			version = cur.Version
		case !errors.Is(err, ErrNotFound):
			return err
		}

		doc, err := s.store.Aggregate(ctx, userID, now)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// an unchanged document keeps its updated_at
		if found && cur.sameBuckets(doc) {
			out = cur
			return nil
		}
		doc.UserID = userID
		doc.Version = version
		if err := s.store.Save(ctx, &doc); err != nil {
			return err
		}
		out = doc
		return nil
	})
	metrics.StatsRebuildDuration.Observe(time.Since(start).Seconds())

	log := logging.Ctx(ctx)
	switch {
	case err == nil:
		metrics.StatsRebuilds.WithLabelValues("ok").Inc()
		log.Info().Str("user_id", userID).Int64("runs", out.Total.Count).Msg("statistics rebuilt")
		return out, nil
	case errors.Is(err, context.Canceled):
		metrics.StatsRebuilds.WithLabelValues("cancelled").Inc()
		log.Warn().Str("user_id", userID).Msg("statistics rebuild cancelled")
	default:
		metrics.StatsRebuilds.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("user_id", userID).Msg("statistics rebuild failed")
	}
	return Statistics{}, err
}
