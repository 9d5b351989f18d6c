package session

import "time"

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Session is a running session from start to completion. Distances are in
// kilometres, durations in seconds and paces in seconds per kilometre.
type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CurrentDistance float64    `json:"current_distance"`
	CurrentPace     float64    `json:"current_pace"`
	Distance        float64    `json:"distance"`
	Duration        int64      `json:"duration"`
	AveragePace     float64    `json:"average_pace"`
}

type Point struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Lat        float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64   `json:"lng" validate:"gte=-180,lte=180"`
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// LiveUpdate is returned to the runner and broadcast to followers for
// every accepted point.
type LiveUpdate struct {
	Point           Point   `json:"point"`
	CurrentDistance float64 `json:"current_distance"`
	CurrentPace     float64 `json:"current_pace"`
	Elapsed         int64   `json:"elapsed"`
}
