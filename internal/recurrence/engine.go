// Package recurrence expands recurrence patterns into concrete candidate
// intervals. A pattern is consumed exactly once, when the anchor booking
// request is submitted; it is never re-evaluated afterwards.
package recurrence

import (
	"errors"
	"time"

	"github.com/example/lab-booking/internal/schedule"
)

// Frequency represents supported recurrence units.
type Frequency int

const (
	// FrequencyUnspecified indicates the pattern frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily repeats every Interval days.
	FrequencyDaily
	// FrequencyWeekly repeats on the selected weekdays every Interval weeks.
	FrequencyWeekly
	// FrequencyMonthly repeats on the anchor's day of month every Interval months.
	FrequencyMonthly
)

// ParseFrequency maps the wire representation to a Frequency.
func ParseFrequency(value string) (Frequency, bool) {
	switch value {
	case "daily":
		return FrequencyDaily, true
	case "weekly":
		return FrequencyWeekly, true
	case "monthly":
		return FrequencyMonthly, true
	default:
		return FrequencyUnspecified, false
	}
}

// Pattern describes a recurrence configuration attached to a booking request.
// Exactly one terminating condition must be set: Count or Until.
type Pattern struct {
	Frequency Frequency
	Interval  int
	Count     int
	Until     *time.Time
	Weekdays  []time.Weekday
}

var (
	// ErrInvalidFrequency indicates the pattern frequency is not supported.
	ErrInvalidFrequency = errors.New("recurrence: invalid frequency")
	// ErrInvalidInterval indicates the repeat interval is not positive.
	ErrInvalidInterval = errors.New("recurrence: interval must be positive")
	// ErrTerminatorRequired indicates neither an end date nor a count is set.
	ErrTerminatorRequired = errors.New("recurrence: an end date or occurrence count is required")
	// ErrAmbiguousTerminator indicates both an end date and a count are set.
	ErrAmbiguousTerminator = errors.New("recurrence: end date and occurrence count are mutually exclusive")
	// ErrInvalidDuration indicates the anchor interval is not strictly positive.
	ErrInvalidDuration = errors.New("recurrence: anchor duration must be positive")
	// ErrTooManyOccurrences indicates the pattern expands past the engine limit.
	ErrTooManyOccurrences = errors.New("recurrence: pattern expands to too many occurrences")
)

// Validate checks the pattern's internal consistency.
func (p Pattern) Validate() error {
	switch p.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return ErrInvalidFrequency
	}
	if p.Interval < 1 {
		return ErrInvalidInterval
	}
	if p.Count <= 0 && p.Until == nil {
		return ErrTerminatorRequired
	}
	if p.Count > 0 && p.Until != nil {
		return ErrAmbiguousTerminator
	}
	return nil
}

// Engine expands patterns into candidate intervals.
type Engine struct {
	maxOccurrences int
}

// DefaultMaxOccurrences bounds a single expansion so an open-ended date
// terminator cannot produce an unbounded series.
const DefaultMaxOccurrences = 366

// NewEngine constructs an Engine. A limit of zero or less falls back to
// DefaultMaxOccurrences.
func NewEngine(maxOccurrences int) *Engine {
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Engine{maxOccurrences: maxOccurrences}
}

// Expand produces the ordered candidate intervals for the pattern, anchored
// at the first requested interval. The anchor itself is the first occurrence.
//
// Semantics:
//   - Daily patterns step Interval days from the anchor start.
//   - Weekly patterns walk day by day, selecting the weekday mask within each
//     included week; an empty mask selects the anchor's weekday.
//   - Monthly patterns keep the anchor's day of month and skip months where
//     that day does not exist (e.g. the 31st in April).
//   - A Count terminator counts occurrences including the anchor; an Until
//     terminator includes occurrences starting on or before the end date.
func (e *Engine) Expand(p Pattern, anchor schedule.Interval) ([]schedule.Interval, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !anchor.IsValid() {
		return nil, ErrInvalidDuration
	}

	limit := e.maxOccurrences
	if p.Count > 0 && p.Count < limit {
		limit = p.Count
	}

	var starts []time.Time
	var err error
	switch p.Frequency {
	case FrequencyDaily:
		starts, err = expandDaily(p, anchor.Start, limit)
	case FrequencyWeekly:
		starts, err = expandWeekly(p, anchor.Start, limit)
	case FrequencyMonthly:
		starts, err = expandMonthly(p, anchor.Start, limit)
	}
	if err != nil {
		return nil, err
	}

	duration := anchor.Duration()
	out := make([]schedule.Interval, len(starts))
	for i, start := range starts {
		out[i] = schedule.Interval{Start: start, End: start.Add(duration)}
	}
	return out, nil
}

func (p Pattern) done(starts []time.Time, next time.Time) bool {
	if p.Count > 0 {
		return len(starts) >= p.Count
	}
	return next.After(*p.Until)
}

func expandDaily(p Pattern, anchor time.Time, limit int) ([]time.Time, error) {
	starts := make([]time.Time, 0, limit)
	current := anchor
	for !p.done(starts, current) {
		if len(starts) >= limit {
			return nil, ErrTooManyOccurrences
		}
		starts = append(starts, current)
		current = current.AddDate(0, 0, p.Interval)
	}
	return starts, nil
}

func expandWeekly(p Pattern, anchor time.Time, limit int) ([]time.Time, error) {
	mask := make(map[time.Weekday]struct{}, len(p.Weekdays))
	for _, day := range p.Weekdays {
		mask[day] = struct{}{}
	}
	if len(mask) == 0 {
		mask[anchor.Weekday()] = struct{}{}
	}

	starts := make([]time.Time, 0, limit)
	weekStart := anchor
	for {
		current := weekStart
		for day := 0; day < 7; day++ {
			if current.Before(anchor) {
				current = current.AddDate(0, 0, 1)
				continue
			}
			if _, ok := mask[current.Weekday()]; ok {
				if p.done(starts, current) {
					return starts, nil
				}
				if len(starts) >= limit {
					return nil, ErrTooManyOccurrences
				}
				starts = append(starts, current)
			}
			current = current.AddDate(0, 0, 1)
		}
		weekStart = weekStart.AddDate(0, 0, 7*p.Interval)
		if p.Until != nil && weekStart.After(*p.Until) {
			return starts, nil
		}
		if p.Count > 0 && len(starts) >= p.Count {
			return starts, nil
		}
	}
}

func expandMonthly(p Pattern, anchor time.Time, limit int) ([]time.Time, error) {
	starts := make([]time.Time, 0, limit)
	day := anchor.Day()
	months := 0
	for {
		current := anchor.AddDate(0, months, 0)
		// AddDate normalizes out-of-range days (Jan 31 + 1 month = Mar 3);
		// those months do not contain the anchor day and are skipped.
		if current.Day() == day {
			if p.done(starts, current) {
				return starts, nil
			}
			if len(starts) >= limit {
				return nil, ErrTooManyOccurrences
			}
			starts = append(starts, current)
		} else if p.Until != nil && current.After(*p.Until) {
			return starts, nil
		}
		months += p.Interval
	}
}
