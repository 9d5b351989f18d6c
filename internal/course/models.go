package course

import (
	"time"

	"backend-runaway/internal/shared/geo"
)

type Course struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	CreatedBy           string      `json:"created_by"`
	Route               []geo.Point `json:"route"`
	Start               geo.Point   `json:"start_location"`
	DistanceKm          float64     `json:"distance_km"`
	RecommendationCount int64       `json:"recommendation_count"`
	CreatedAt           time.Time   `json:"created_at"`
}

type CreateRequest struct {
	Name       string      `json:"name" validate:"required,max=120"`
	Route      []geo.Point `json:"route" validate:"required,min=1"`
	DistanceKm float64     `json:"distance_km" validate:"gte=0"`
}

// NearbyCourse is a course with its distance from the query point.
type NearbyCourse struct {
	Course
	DistanceFromKm float64 `json:"distance_from_km"`
}
