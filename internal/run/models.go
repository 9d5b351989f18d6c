package run

import (
	"encoding/json"
	"time"
)

// Run is the immutable record of a completed running session. Duration is
// in seconds and AveragePace in seconds per kilometre.
type Run struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	SessionID   string          `json:"session_id"`
	Date        time.Time       `json:"date"`
	Distance    float64         `json:"distance"`
	Duration    int64           `json:"duration"`
	AveragePace float64         `json:"average_pace"`
	Strength    int             `json:"strength,omitempty"`
	Route       json.RawMessage `json:"route,omitempty"`
	CourseID    string          `json:"course_id,omitempty"`
}

type RunInput struct {
	Distance float64         `json:"distance" validate:"gte=0"`
	Duration int64           `json:"duration" validate:"gte=0"`
	Strength int             `json:"strength,omitempty" validate:"omitempty,min=1,max=10"`
	Route    json.RawMessage `json:"route,omitempty"`
	CourseID string          `json:"course_id,omitempty" validate:"omitempty,uuid"`
}
