package stats

import (
	"strings"
	"time"

	"backend-runaway/internal/shared/apperr"
)

type Period string

const (
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
	Total   Period = "total"
)

// Periods lists every bucket kept per user, in response order.
var Periods = []Period{Weekly, Monthly, Yearly, Total}

// Epoch keys the all-time bucket.
var Epoch = time.Unix(0, 0).UTC()

// ParsePeriod accepts the wire names of a period, including the all-time
// alias for the total bucket.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly", "week":
		return Weekly, nil
	case "monthly", "month":
		return Monthly, nil
	case "yearly", "year":
		return Yearly, nil
	case "total", "all-time", "alltime", "all_time":
		return Total, nil
	}
	return "", apperr.Validation("unknown period "+s, nil)
}

type Starts struct {
	Week  time.Time
	Month time.Time
	Year  time.Time
}

// PeriodStarts returns the keys of the buckets enclosing now. Weeks start on
// Monday 00:00 UTC.
func PeriodStarts(now time.Time) Starts {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	isoWeekday := (int(day.Weekday()) + 6) % 7
	return Starts{
		Week:  day.AddDate(0, 0, -isoWeekday),
		Month: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		Year:  time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func PeriodStart(p Period, now time.Time) time.Time {
	starts := PeriodStarts(now)
	switch p {
	case Weekly:
		return starts.Week
	case Monthly:
		return starts.Month
	case Yearly:
		return starts.Year
	default:
		return Epoch
	}
}
