package course

import (
	"context"
	"errors"
	"fmt"

	"backend-runaway/internal/db"
	"backend-runaway/internal/logging"
	"backend-runaway/internal/shared/apperr"
	"backend-runaway/internal/shared/geo"
	"backend-runaway/internal/shared/validation"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultListLimit = 10
	maxRadiusKm      = 100
)

var errCourseNotFound = apperr.NotFound("course not found", nil)

const courseColumns = `id, name, created_by, route, ST_Y(start_location::geometry), ST_X(start_location::geometry),
		       distance_km, recommendation_count, created_at`

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Create stores a course. When no distance is given it is derived from the
// route's great-circle path length.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (Course, error) {
	if err := validation.Struct(req); err != nil {
		return Course{}, err
	}
	for i, p := range req.Route {
		if !p.Valid() {
			return Course{}, apperr.Validation(fmt.Sprintf("route point %d is not a valid coordinate", i), nil)
		}
	}

	course := Course{
		ID:         uuid.NewString(),
		Name:       req.Name,
		CreatedBy:  userID,
		Route:      req.Route,
		Start:      req.Route[0],
		DistanceKm: req.DistanceKm,
	}
	if course.DistanceKm == 0 {
		course.DistanceKm = geo.PathKm(req.Route)
	}
	route, err := json.Marshal(course.Route)
	if err != nil {
		return Course{}, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO courses (id, name, created_by, route, start_location, distance_km)
		VALUES ($1,$2,$3,$4, ST_SetSRID(ST_MakePoint($5,$6), 4326)::geography, $7)
		RETURNING recommendation_count, created_at
	`, course.ID, course.Name, course.CreatedBy, route, course.Start.Lng, course.Start.Lat, course.DistanceKm)
	if err := row.Scan(&course.RecommendationCount, &course.CreatedAt); err != nil {
		return Course{}, err
	}
	logging.Ctx(ctx).Info().Str("course_id", course.ID).Float64("distance_km", course.DistanceKm).Msg("course created")
	return course, nil
}

func (s *Service) Get(ctx context.Context, id string) (Course, error) {
	row := s.db.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id=$1`, id)
	course, err := scanCourse(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Course{}, errCourseNotFound
		}
		return Course{}, err
	}
	return course, nil
}

// List returns the newest courses.
func (s *Service) List(ctx context.Context, limit int) ([]Course, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	courses := []Course{}
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

// Recommend picks the course starting closest to the given point, or the
// newest course when no point is given, and counts the recommendation.
func (s *Service) Recommend(ctx context.Context, at *geo.Point) (Course, error) {
	var row pgx.Row
	if at != nil {
		if !at.Valid() {
			return Course{}, apperr.Validation("lat/lng out of range", nil)
		}
		row = s.db.QueryRow(ctx, `
			SELECT `+courseColumns+`
			FROM courses
			ORDER BY start_location <-> ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography
			LIMIT 1
		`, at.Lng, at.Lat)
	} else {
		row = s.db.QueryRow(ctx, `
			SELECT `+courseColumns+`
			FROM courses
			ORDER BY created_at DESC
			LIMIT 1
		`)
	}
	course, err := scanCourse(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Course{}, errCourseNotFound
		}
		return Course{}, err
	}

	if err := s.db.QueryRow(ctx, `
		UPDATE courses SET recommendation_count = recommendation_count + 1
		WHERE id=$1
		RETURNING recommendation_count
	`, course.ID).Scan(&course.RecommendationCount); err != nil {
		return Course{}, err
	}
	return course, nil
}

// Nearby lists courses starting within radiusKm of the point, closest first.
func (s *Service) Nearby(ctx context.Context, at geo.Point, radiusKm float64) ([]NearbyCourse, error) {
	if !at.Valid() {
		return nil, apperr.Validation("lat/lng out of range", nil)
	}
	if radiusKm <= 0 {
		radiusKm = 5
	}
	if radiusKm > maxRadiusKm {
		radiusKm = maxRadiusKm
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+courseColumns+`,
		       ST_Distance(start_location, ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography) / 1000
		FROM courses
		WHERE ST_DWithin(start_location, ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography, $3)
		ORDER BY start_location <-> ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography
	`, at.Lng, at.Lat, radiusKm*1000)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []NearbyCourse{}
	for rows.Next() {
		var nc NearbyCourse
		var route []byte
		if err := rows.Scan(&nc.ID, &nc.Name, &nc.CreatedBy, &route, &nc.Start.Lat, &nc.Start.Lng,
			&nc.DistanceKm, &nc.RecommendationCount, &nc.CreatedAt, &nc.DistanceFromKm); err != nil {
			return nil, err
		}
		if err := decodeRoute(route, &nc.Course); err != nil {
			return nil, err
		}
		results = append(results, nc)
	}
	return results, rows.Err()
}

func scanCourse(row pgx.Row) (Course, error) {
	var course Course
	var route []byte
	if err := row.Scan(&course.ID, &course.Name, &course.CreatedBy, &route, &course.Start.Lat, &course.Start.Lng,
		&course.DistanceKm, &course.RecommendationCount, &course.CreatedAt); err != nil {
		return Course{}, err
	}
	if err := decodeRoute(route, &course); err != nil {
		return Course{}, err
	}
	return course, nil
}

func decodeRoute(raw []byte, course *Course) error {
	if len(raw) == 0 {
		course.Route = []geo.Point{}
		return nil
	}
	if err := json.Unmarshal(raw, &course.Route); err != nil {
		return fmt.Errorf("decode course route: %w", err)
	}
	return nil
}
