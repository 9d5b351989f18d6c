package session

import (
	"context"
	"errors"
	"time"

	"backend-runaway/internal/db"
	"backend-runaway/internal/logging"
	"backend-runaway/internal/shared/apperr"
	"backend-runaway/internal/shared/geo"
	"backend-runaway/internal/shared/validation"
	"backend-runaway/internal/stats"
	"backend-runaway/internal/stream"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	errSessionNotFound = apperr.NotFound("running session not found", nil)
	errPointOutOfOrder = apperr.Validation("point is older than the last recorded point", nil)
)

type Service struct {
	db  db.TxQuerier
	hub *stream.Hub
}

func NewService(db db.TxQuerier, hub *stream.Hub) *Service {
	return &Service{db: db, hub: hub}
}

func (s *Service) Start(ctx context.Context, userID string) (Session, error) {
	session := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    StatusInProgress,
		StartedAt: time.Now().UTC(),
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO running_sessions (id, user_id, started_at, status)
		VALUES ($1,$2,$3,$4)
		RETURNING started_at, status
	`, session.ID, session.UserID, session.StartedAt, session.Status)
	if err := row.Scan(&session.StartedAt, &session.Status); err != nil {
		return Session{}, err
	}
	logging.Ctx(ctx).Info().Str("session_id", session.ID).Msg("running session started")
	return session, nil
}

// AddPoint stores a live location, advances the session's running distance
// by the great-circle distance from the previous point and broadcasts the
// update to followers. The session row is locked while the distance is
// advanced, and a point older than the latest one is rejected.
func (s *Service) AddPoint(ctx context.Context, sessionID, userID string, input Point) (LiveUpdate, error) {
	if err := validation.Struct(input); err != nil {
		return LiveUpdate{}, err
	}
	if input.RecordedAt.IsZero() {
		input.RecordedAt = time.Now()
	}
	input.RecordedAt = input.RecordedAt.UTC()

	var update LiveUpdate
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var startedAt time.Time
		var distance float64
		err := tx.QueryRow(ctx, `
			SELECT started_at, COALESCE(current_distance,0)
			FROM running_sessions
			WHERE id=$1 AND user_id=$2 AND status='in_progress'
			FOR UPDATE
		`, sessionID, userID).Scan(&startedAt, &distance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errSessionNotFound
			}
			return err
		}

		var last geo.Point
		var lastAt time.Time
		hasLast := true
		err = tx.QueryRow(ctx, `
			SELECT ST_Y(location::geometry), ST_X(location::geometry), recorded_at
			FROM session_points
			WHERE session_id=$1
			ORDER BY recorded_at DESC
			LIMIT 1
		`, sessionID).Scan(&last.Lat, &last.Lng, &lastAt)
		if errors.Is(err, pgx.ErrNoRows) {
			hasLast = false
		} else if err != nil {
			return err
		}
		// the running distance only ever extends the path at its end
		if hasLast && input.RecordedAt.Before(lastAt) {
			return errPointOutOfOrder
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO session_points (session_id, location, recorded_at)
			VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4)
			RETURNING id, created_at
		`, sessionID, input.Lng, input.Lat, input.RecordedAt)
		if err := row.Scan(&input.ID, &input.CreatedAt); err != nil {
			return err
		}
		input.SessionID = sessionID

		if hasLast {
			distance += geo.HaversineKm(last.Lat, last.Lng, input.Lat, input.Lng)
		}
		elapsed := int64(input.RecordedAt.Sub(startedAt).Seconds())
		if elapsed < 0 {
			elapsed = 0
		}
		update = LiveUpdate{
			Point:           input,
			CurrentDistance: distance,
			CurrentPace:     stats.Pace(distance, elapsed),
			Elapsed:         elapsed,
		}

		_, err = tx.Exec(ctx, `
			UPDATE running_sessions
			SET current_distance=$2, current_pace=$3
			WHERE id=$1
		`, sessionID, update.CurrentDistance, update.CurrentPace)
		return err
	})
	if err != nil {
		return LiveUpdate{}, err
	}

	if s.hub != nil {
		if err := s.hub.Publish(sessionID, update); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("live update not broadcast")
		}
	}
	return update, nil
}

func (s *Service) Get(ctx context.Context, sessionID, userID string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, status, started_at, ended_at,
		       COALESCE(current_distance,0), COALESCE(current_pace,0),
		       COALESCE(distance,0), COALESCE(duration,0), COALESCE(average_pace,0)
		FROM running_sessions WHERE id=$1 AND user_id=$2
	`, sessionID, userID)
	var session Session
	if err := row.Scan(&session.ID, &session.UserID, &session.Status, &session.StartedAt, &session.EndedAt,
		&session.CurrentDistance, &session.CurrentPace,
		&session.Distance, &session.Duration, &session.AveragePace); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, errSessionNotFound
		}
		return Session{}, err
	}
	return session, nil
}

func (s *Service) Points(ctx context.Context, sessionID, userID string) ([]Point, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.session_id, ST_Y(p.location::geometry), ST_X(p.location::geometry), p.recorded_at, p.created_at
		FROM session_points p
		JOIN running_sessions s ON s.id = p.session_id
		WHERE p.session_id=$1 AND s.user_id=$2
		ORDER BY p.recorded_at
	`, sessionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []Point{}
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Lat, &p.Lng, &p.RecordedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
