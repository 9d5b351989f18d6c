package run

import (
	"context"
	"errors"
	"time"

	"backend-runaway/internal/db"
	"backend-runaway/internal/logging"
	"backend-runaway/internal/metrics"
	"backend-runaway/internal/shared/apperr"
	"backend-runaway/internal/shared/validation"
	"backend-runaway/internal/stats"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

var nowFn = time.Now

// Recorder writes run records and keeps the statistics cache in step with
// them inside the same transaction.
type Recorder struct {
	db       db.TxQuerier
	attempts int
}

func NewRecorder(q db.TxQuerier, attempts int) *Recorder {
	if attempts < 1 {
		attempts = stats.DefaultMaxAttempts
	}
	return &Recorder{db: q, attempts: attempts}
}

// RecordRun completes the in-progress session owned by userID. A lost
// statistics race rolls the whole transaction back and retries it.
func (r *Recorder) RecordRun(ctx context.Context, sessionID, userID string, in RunInput) (Run, error) {
	if err := validation.Struct(in); err != nil {
		return Run{}, err
	}
	entry := stats.Run{Distance: in.Distance, Duration: in.Duration}
	if err := entry.Validate(); err != nil {
		return Run{}, err
	}

	var out Run
	err := stats.Retry(ctx, r.attempts, func() error {
		now := nowFn().UTC()
		return db.InTx(ctx, r.db, func(tx pgx.Tx) error {
			var locked string
			err := tx.QueryRow(ctx, `
				SELECT id FROM running_sessions
				WHERE id = $1 AND user_id = $2 AND status = 'in_progress'
				FOR UPDATE
			`, sessionID, userID).Scan(&locked)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return apperr.NotFound("running session not found", nil)
				}
				return err
			}

			run := Run{
				ID:          uuid.NewString(),
				UserID:      userID,
				SessionID:   sessionID,
				Date:        now,
				Distance:    in.Distance,
				Duration:    in.Duration,
				AveragePace: stats.Pace(in.Distance, in.Duration),
				Strength:    in.Strength,
				Route:       in.Route,
				CourseID:    in.CourseID,
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO runs (id, user_id, session_id, run_date, distance, duration, average_pace, strength, route, course_id)
				VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,0),$9,NULLIF($10,'')::uuid)
			`, run.ID, run.UserID, run.SessionID, run.Date, run.Distance, run.Duration, run.AveragePace,
				run.Strength, routeArg(run.Route), run.CourseID); err != nil {
				return err
			}
			if _, err := stats.Apply(ctx, stats.NewPGStore(tx), userID, entry, now); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE running_sessions
				SET status = 'completed', ended_at = $2, distance = $3, duration = $4, average_pace = $5
				WHERE id = $1
			`, sessionID, now, run.Distance, run.Duration, run.AveragePace); err != nil {
				return err
			}
			out = run
			return nil
		})
	})
	if err != nil {
		return Run{}, db.Classify(err)
	}

	metrics.RunsRecorded.Inc()
	logging.Ctx(ctx).Info().
		Str("run_id", out.ID).
		Str("session_id", sessionID).
		Float64("distance", out.Distance).
		Int64("duration", out.Duration).
		Msg("run recorded")
	return out, nil
}

func routeArg(route []byte) any {
	if len(route) == 0 {
		return nil
	}
	return route
}

// History returns the user's most recent runs, newest first.
func (r *Recorder) History(ctx context.Context, userID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, session_id, run_date, distance, duration, average_pace,
		       COALESCE(strength,0), COALESCE(route,'null'::jsonb), COALESCE(course_id::text,'')
		FROM runs WHERE user_id = $1
		ORDER BY run_date DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *Recorder) Get(ctx context.Context, userID, runID string) (Run, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, session_id, run_date, distance, duration, average_pace,
		       COALESCE(strength,0), COALESCE(route,'null'::jsonb), COALESCE(course_id::text,'')
		FROM runs WHERE id = $1 AND user_id = $2
	`, runID, userID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, apperr.NotFound("run not found", nil)
		}
		return Run{}, err
	}
	return run, nil
}

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	var route []byte
	if err := row.Scan(&run.ID, &run.UserID, &run.SessionID, &run.Date, &run.Distance, &run.Duration,
		&run.AveragePace, &run.Strength, &route, &run.CourseID); err != nil {
		return Run{}, err
	}
	if len(route) > 0 && string(route) != "null" {
		run.Route = route
	}
	return run, nil
}
