package stats

import (
	"math"
	"time"
)

// Bucket aggregates the runs completed in one period. Duration is in
// seconds, distance in kilometres and pace in seconds per kilometre.
type Bucket struct {
	PeriodStart time.Time `json:"period_start"`
	Distance    float64   `json:"distance"`
	Duration    int64     `json:"duration"`
	Count       int64     `json:"count"`
	AveragePace float64   `json:"average_pace"`
}

// Pace returns duration/distance, or 0 when distance is not positive.
func Pace(distance float64, duration int64) float64 {
	if distance <= 0 || math.IsNaN(distance) || math.IsInf(distance, 0) {
		return 0
	}
	return float64(duration) / distance
}

func newBucket(start time.Time, distance float64, duration int64, count int64) Bucket {
	return Bucket{
		PeriodStart: start,
		Distance:    distance,
		Duration:    duration,
		Count:       count,
		AveragePace: Pace(distance, duration),
	}
}

func zeroBucket(start time.Time) Bucket {
	return Bucket{PeriodStart: start}
}

func (b *Bucket) add(distance float64, duration int64) {
	b.Distance += distance
	b.Duration += duration
	b.Count++
	b.AveragePace = Pace(b.Distance, b.Duration)
}

// Statistics is the cached rollup document of one user. Version guards
// concurrent writers and never leaves the store layer.
type Statistics struct {
	UserID    string    `json:"user_id"`
	Weekly    Bucket    `json:"weekly"`
	Monthly   Bucket    `json:"monthly"`
	Yearly    Bucket    `json:"yearly"`
	Total     Bucket    `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"-"`
}

func (s Statistics) Bucket(p Period) Bucket {
	switch p {
	case Weekly:
		return s.Weekly
	case Monthly:
		return s.Monthly
	case Yearly:
		return s.Yearly
	default:
		return s.Total
	}
}

func (b Bucket) equal(o Bucket) bool {
	return b.PeriodStart.Equal(o.PeriodStart) &&
		b.Distance == o.Distance &&
		b.Duration == o.Duration &&
		b.Count == o.Count &&
		b.AveragePace == o.AveragePace
}

func (s Statistics) sameBuckets(o Statistics) bool {
	for _, p := range Periods {
		if !s.Bucket(p).equal(o.Bucket(p)) {
			return false
		}
	}
	return true
}

func (s *Statistics) setBucket(p Period, b Bucket) {
	switch p {
	case Weekly:
		s.Weekly = b
	case Monthly:
		s.Monthly = b
	case Yearly:
		s.Yearly = b
	default:
		s.Total = b
	}
}

// Current returns s with every bucket that does not belong to the period
// enclosing now replaced by a zeroed bucket for that period.
func (s Statistics) Current(now time.Time) Statistics {
	out := s
	for _, p := range Periods {
		key := PeriodStart(p, now)
		b := s.Bucket(p)
		if !b.PeriodStart.Equal(key) {
			b = zeroBucket(key)
		}
		out.setBucket(p, b)
	}
	return out
}

// Empty is the zeroed document served for users without runs.
func Empty(userID string, now time.Time) Statistics {
	return Statistics{UserID: userID}.Current(now)
}
