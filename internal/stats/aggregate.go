package stats

import (
	"math"
	"time"

	"backend-runaway/internal/shared/apperr"
)

// ErrInvalidRun rejects runs that would corrupt the rollups.
var ErrInvalidRun = apperr.Validation("run distance and duration must be non-negative", nil)

// Run carries the fields of a completed run that the rollups depend on.
type Run struct {
	Distance float64
	Duration int64
}

// Validate rejects negative or non-finite values.
func (r Run) Validate() error {
	if r.Distance < 0 || math.IsNaN(r.Distance) || math.IsInf(r.Distance, 0) || r.Duration < 0 {
		return ErrInvalidRun
	}
	return nil
}

// ApplyRun folds run into existing and returns the updated document. A nil
// existing document yields a fresh one. Buckets are keyed by the period
// enclosing now; a bucket from an older period is replaced, not merged.
func ApplyRun(existing *Statistics, run Run, now time.Time) (Statistics, error) {
	if err := run.Validate(); err != nil {
		return Statistics{}, err
	}

	var out Statistics
	if existing != nil {
		out = *existing
	}
	for _, p := range Periods {
		key := PeriodStart(p, now)
		b := out.Bucket(p)
		if existing == nil || !b.PeriodStart.Equal(key) {
			b = newBucket(key, run.Distance, run.Duration, 1)
		} else {
			b.add(run.Distance, run.Duration)
		}
		out.setBucket(p, b)
	}
	out.UpdatedAt = now.UTC()
	return out, nil
}
