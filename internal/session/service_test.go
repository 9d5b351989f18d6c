package session

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"backend-runaway/internal/shared/apperr"
	"backend-runaway/internal/stream"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

var errSession = errors.New("session error")

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestStart(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO running_sessions`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg(), StatusInProgress).
		WillReturnRows(pgxmock.NewRows([]string{"started_at", "status"}).AddRow(time.Now(), StatusInProgress))

	session, err := NewService(mock, nil).Start(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.ID == "" || session.Status != StatusInProgress || session.UserID != "user-1" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestStartError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO running_sessions`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg(), StatusInProgress).
		WillReturnError(errSession)

	if _, err := NewService(mock, nil).Start(context.Background(), "user-1"); !errors.Is(err, errSession) {
		t.Fatalf("expected error, got %v", err)
	}
}

func expectSessionLock(mock pgxmock.PgxPoolIface, sessionID, userID string) *pgxmock.ExpectedQuery {
	mock.ExpectBegin()
	return mock.ExpectQuery(`(?s)SELECT started_at, COALESCE\(current_distance,0\)\s+FROM running_sessions.*FOR UPDATE`).
		WithArgs(sessionID, userID)
}

func lastPointRows(lat, lng float64, at time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"lat", "lng", "recorded_at"}).AddRow(lat, lng, at)
}

func TestAddPointAccumulatesDistance(t *testing.T) {
	mock := newMock(t)
	recordedAt := time.Date(2024, 6, 5, 7, 10, 0, 0, time.UTC)
	startedAt := recordedAt.Add(-10 * time.Minute)

	expectSessionLock(mock, "session-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"started_at", "current_distance"}).AddRow(startedAt, 0.5))
	mock.ExpectQuery(`ORDER BY recorded_at DESC`).
		WithArgs("session-1").
		WillReturnRows(lastPointRows(-6.2, 106.8, recordedAt.Add(-time.Minute)))
	mock.ExpectQuery(`INSERT INTO session_points`).
		WithArgs("session-1", 106.8, -6.21, recordedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))
	mock.ExpectExec(`UPDATE running_sessions`).
		WithArgs("session-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	hub := stream.NewHub(nil)
	follower := hub.Register("session-1")
	defer hub.Unregister(follower)

	update, err := NewService(mock, hub).AddPoint(context.Background(), "session-1", "user-1", Point{Lat: -6.21, Lng: 106.8, RecordedAt: recordedAt})
	if err != nil {
		t.Fatalf("add point: %v", err)
	}
	// 0.01 degrees of latitude is about 1.112 km
	if math.Abs(update.CurrentDistance-1.612) > 0.01 {
		t.Fatalf("current distance = %v", update.CurrentDistance)
	}
	if update.Elapsed != 600 || math.Abs(update.CurrentPace-600/update.CurrentDistance) > 1e-9 {
		t.Fatalf("unexpected pace: %+v", update)
	}
	if update.Point.ID != 7 || update.Point.SessionID != "session-1" {
		t.Fatalf("unexpected point: %+v", update.Point)
	}

	select {
	case msg := <-follower.Send:
		var got LiveUpdate
		if err := json.Unmarshal(msg, &got); err != nil || got.Point.ID != 7 {
			t.Fatalf("unexpected broadcast %s: %v", msg, err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("no broadcast")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddPointFirstPoint(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()

	expectSessionLock(mock, "session-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"started_at", "current_distance"}).AddRow(now, 0.0))
	mock.ExpectQuery(`ORDER BY recorded_at DESC`).
		WithArgs("session-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO session_points`).
		WithArgs("session-1", 106.8, -6.2, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))
	mock.ExpectExec(`UPDATE running_sessions`).
		WithArgs("session-1", 0.0, 0.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	update, err := NewService(mock, nil).AddPoint(context.Background(), "session-1", "user-1", Point{Lat: -6.2, Lng: 106.8})
	if err != nil {
		t.Fatalf("add point: %v", err)
	}
	if update.CurrentDistance != 0 || update.CurrentPace != 0 {
		t.Fatalf("first point must not move the runner: %+v", update)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddPointRejectsOlderPoint(t *testing.T) {
	mock := newMock(t)
	latest := time.Date(2024, 6, 5, 7, 10, 0, 0, time.UTC)

	expectSessionLock(mock, "session-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"started_at", "current_distance"}).AddRow(latest.Add(-time.Hour), 2.0))
	mock.ExpectQuery(`ORDER BY recorded_at DESC`).
		WithArgs("session-1").
		WillReturnRows(lastPointRows(-6.2, 106.8, latest))
	mock.ExpectRollback()

	_, err := NewService(mock, nil).AddPoint(context.Background(), "session-1", "user-1",
		Point{Lat: -6.3, Lng: 106.8, RecordedAt: latest.Add(-time.Minute)})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("point was stored or distance moved: %v", err)
	}
}

func TestAddPointSessionNotFound(t *testing.T) {
	mock := newMock(t)
	expectSessionLock(mock, "session-x", "user-1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := NewService(mock, nil).AddPoint(context.Background(), "session-x", "user-1", Point{Lat: 1, Lng: 1})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddPointInvalidCoordinates(t *testing.T) {
	_, err := NewService(nil, nil).AddPoint(context.Background(), "session-1", "user-1", Point{Lat: 91, Lng: 0})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddPointErrors(t *testing.T) {
	mock := newMock(t)
	started := time.Now()
	sessionRows := func() *pgxmock.Rows {
		return pgxmock.NewRows([]string{"started_at", "current_distance"}).AddRow(started, 0.0)
	}

	// begin fails
	mock.ExpectBegin().WillReturnError(errSession)
	// last point lookup fails
	expectSessionLock(mock, "s", "u").WillReturnRows(sessionRows())
	mock.ExpectQuery(`ORDER BY recorded_at DESC`).WithArgs("s").WillReturnError(errSession)
	mock.ExpectRollback()
	// insert fails
	expectSessionLock(mock, "s", "u").WillReturnRows(sessionRows())
	mock.ExpectQuery(`ORDER BY recorded_at DESC`).WithArgs("s").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO session_points`).WillReturnError(errSession)
	mock.ExpectRollback()
	// update fails
	expectSessionLock(mock, "s", "u").WillReturnRows(sessionRows())
	mock.ExpectQuery(`ORDER BY recorded_at DESC`).WithArgs("s").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO session_points`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), started))
	mock.ExpectExec(`UPDATE running_sessions`).WillReturnError(errSession)
	mock.ExpectRollback()

	svc := NewService(mock, nil)
	for i := 0; i < 4; i++ {
		if _, err := svc.AddPoint(context.Background(), "s", "u", Point{Lat: 1, Lng: 1}); !errors.Is(err, errSession) {
			t.Fatalf("case %d: expected error, got %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var sessionColumns = []string{"id", "user_id", "status", "started_at", "ended_at", "current_distance", "current_pace", "distance", "duration", "average_pace"}

func TestGet(t *testing.T) {
	mock := newMock(t)
	ended := time.Now()
	mock.ExpectQuery(`FROM running_sessions WHERE id=\$1 AND user_id=\$2`).
		WithArgs("session-1", "user-1").
		WillReturnRows(pgxmock.NewRows(sessionColumns).
			AddRow("session-1", "user-1", StatusCompleted, ended.Add(-time.Hour), &ended, 5.0, 360.0, 5.0, int64(1800), 360.0))
	mock.ExpectQuery(`FROM running_sessions WHERE id=\$1 AND user_id=\$2`).
		WithArgs("session-2", "user-1").
		WillReturnError(pgx.ErrNoRows)

	svc := NewService(mock, nil)
	session, err := svc.Get(context.Background(), "session-1", "user-1")
	if err != nil || session.Status != StatusCompleted || session.EndedAt == nil {
		t.Fatalf("get: %v %+v", err, session)
	}
	if _, err := svc.Get(context.Background(), "session-2", "user-1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPoints(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(`FROM session_points p`).
		WithArgs("session-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "session_id", "lat", "lng", "recorded_at", "created_at"}).
			AddRow(int64(1), "session-1", -6.2, 106.8, now, now).
			AddRow(int64(2), "session-1", -6.21, 106.8, now, now))
	mock.ExpectQuery(`FROM session_points p`).
		WithArgs("session-1", "user-1").
		WillReturnError(errSession)

	svc := NewService(mock, nil)
	points, err := svc.Points(context.Background(), "session-1", "user-1")
	if err != nil || len(points) != 2 {
		t.Fatalf("points: %v %+v", err, points)
	}
	if _, err := svc.Points(context.Background(), "session-1", "user-1"); !errors.Is(err, errSession) {
		t.Fatalf("expected error, got %v", err)
	}
}
