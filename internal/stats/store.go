package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-runaway/internal/db"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound = errors.New("statistics not found")
	ErrConflict = errors.New("statistics were modified concurrently")
)

// Store persists statistics documents keyed by user.
type Store interface {
	// Load returns ErrNotFound when the user has no document yet.
	Load(ctx context.Context, userID string) (Statistics, error)
	// LoadForUpdate is Load that also locks the user's document until the
	// surrounding transaction ends. Concurrent writers queue on it.
	LoadForUpdate(ctx context.Context, userID string) (Statistics, error)
	// Save writes doc only if the stored version still equals doc.Version,
	// bumping doc.Version on success and returning ErrConflict otherwise.
	Save(ctx context.Context, doc *Statistics) error
	// Aggregate recomputes every bucket from the user's run records.
	Aggregate(ctx context.Context, userID string, now time.Time) (Statistics, error)
}

// PGStore keeps one JSONB document per user in the statistics table. It
// works on a pool or inside a transaction. A row at version 0 is a
// placeholder that only exists to be locked and reads as not found.
type PGStore struct {
	db db.Querier
}

func NewPGStore(q db.Querier) *PGStore {
	return &PGStore{db: q}
}

func (s *PGStore) Load(ctx context.Context, userID string) (Statistics, error) {
	return s.load(ctx, `
		SELECT document, version FROM statistics WHERE user_id = $1
	`, userID)
}

// LoadForUpdate must run inside a transaction. The placeholder insert makes
// sure there is a row to lock for a user's first run.
func (s *PGStore) LoadForUpdate(ctx context.Context, userID string) (Statistics, error) {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO statistics (user_id, document, version, updated_at)
		VALUES ($1, '{}'::jsonb, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return Statistics{}, err
	}
	return s.load(ctx, `
		SELECT document, version FROM statistics WHERE user_id = $1
		FOR UPDATE
	`, userID)
}

func (s *PGStore) load(ctx context.Context, query, userID string) (Statistics, error) {
	var raw []byte
	var version int64
	err := s.db.QueryRow(ctx, query, userID).Scan(&raw, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Statistics{}, ErrNotFound
		}
		return Statistics{}, err
	}
	if version == 0 {
		return Statistics{}, ErrNotFound
	}
	var doc Statistics
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Statistics{}, fmt.Errorf("decode statistics: %w", err)
	}
	doc.UserID = userID
	doc.Version = version
	return doc, nil
}

func (s *PGStore) Save(ctx context.Context, doc *Statistics) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}

	var affected int64
	if doc.Version == 0 {
		tag, err := s.db.Exec(ctx, `
			INSERT INTO statistics (user_id, document, version, updated_at)
			VALUES ($1,$2,1,$3)
			ON CONFLICT (user_id) DO UPDATE
			SET document = EXCLUDED.document, version = 1, updated_at = EXCLUDED.updated_at
			WHERE statistics.version = 0
		`, doc.UserID, raw, doc.UpdatedAt)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
	} else {
		tag, err := s.db.Exec(ctx, `
			UPDATE statistics
			SET document=$2, version=version+1, updated_at=$3
			WHERE user_id=$1 AND version=$4
		`, doc.UserID, raw, doc.UpdatedAt, doc.Version)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
	}
	if affected == 0 {
		return ErrConflict
	}
	doc.Version++
	return nil
}

func (s *PGStore) Aggregate(ctx context.Context, userID string, now time.Time) (Statistics, error) {
	starts := PeriodStarts(now)
	row := s.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(distance) FILTER (WHERE run_date >= $2), 0),
			COALESCE(SUM(duration) FILTER (WHERE run_date >= $2), 0)::bigint,
			COUNT(*) FILTER (WHERE run_date >= $2),
			COALESCE(SUM(distance) FILTER (WHERE run_date >= $3), 0),
			COALESCE(SUM(duration) FILTER (WHERE run_date >= $3), 0)::bigint,
			COUNT(*) FILTER (WHERE run_date >= $3),
			COALESCE(SUM(distance) FILTER (WHERE run_date >= $4), 0),
			COALESCE(SUM(duration) FILTER (WHERE run_date >= $4), 0)::bigint,
			COUNT(*) FILTER (WHERE run_date >= $4),
			COALESCE(SUM(distance), 0),
			COALESCE(SUM(duration), 0)::bigint,
			COUNT(*)
		FROM runs
		WHERE user_id = $1
	`, userID, starts.Week, starts.Month, starts.Year)

	var sums [4]struct {
		distance float64
		duration int64
		count    int64
	}
	if err := row.Scan(
		&sums[0].distance, &sums[0].duration, &sums[0].count,
		&sums[1].distance, &sums[1].duration, &sums[1].count,
		&sums[2].distance, &sums[2].duration, &sums[2].count,
		&sums[3].distance, &sums[3].duration, &sums[3].count,
	); err != nil {
		return Statistics{}, err
	}

	doc := Statistics{UserID: userID, UpdatedAt: now.UTC()}
	for i, p := range Periods {
		doc.setBucket(p, newBucket(PeriodStart(p, now), sums[i].distance, sums[i].duration, sums[i].count))
	}
	return doc, nil
}
