package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/example/lab-booking/internal/schedule"
)

func anchorAt(t *testing.T, year int, month time.Month, day, hour int) schedule.Interval {
	t.Helper()
	start := time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
	return schedule.Interval{Start: start, End: start.Add(2 * time.Hour)}
}

func TestPattern_Validate(t *testing.T) {
	t.Parallel()

	until := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		pattern Pattern
		want    error
	}{
		{"valid count", Pattern{Frequency: FrequencyDaily, Interval: 1, Count: 4}, nil},
		{"valid until", Pattern{Frequency: FrequencyWeekly, Interval: 1, Until: &until}, nil},
		{"missing terminator", Pattern{Frequency: FrequencyDaily, Interval: 1}, ErrTerminatorRequired},
		{"both terminators", Pattern{Frequency: FrequencyDaily, Interval: 1, Count: 3, Until: &until}, ErrAmbiguousTerminator},
		{"bad frequency", Pattern{Interval: 1, Count: 3}, ErrInvalidFrequency},
		{"bad interval", Pattern{Frequency: FrequencyMonthly, Count: 3}, ErrInvalidInterval},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.pattern.Validate()
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEngine_Expand_Daily(t *testing.T) {
	t.Parallel()

	engine := NewEngine(0)
	anchor := anchorAt(t, 2025, time.June, 2, 9)

	got, err := engine.Expand(Pattern{Frequency: FrequencyDaily, Interval: 1, Count: 3}, anchor)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expanded %d occurrences, want 3", len(got))
	}
	if !got[0].Start.Equal(anchor.Start) {
		t.Fatalf("first occurrence %v, want anchor %v", got[0].Start, anchor.Start)
	}
	for i, iv := range got {
		wantStart := anchor.Start.AddDate(0, 0, i)
		if !iv.Start.Equal(wantStart) || iv.Duration() != anchor.Duration() {
			t.Fatalf("occurrence %d = [%v, %v), want start %v with anchor duration", i, iv.Start, iv.End, wantStart)
		}
	}
}

func TestEngine_Expand_WeeklyMask(t *testing.T) {
	t.Parallel()

	engine := NewEngine(0)
	// 2025-06-02 is a Monday.
	anchor := anchorAt(t, 2025, time.June, 2, 9)
	until := time.Date(2025, time.June, 13, 23, 0, 0, 0, time.UTC)

	got, err := engine.Expand(Pattern{
		Frequency: FrequencyWeekly,
		Interval:  1,
		Until:     &until,
		Weekdays:  []time.Weekday{time.Monday, time.Wednesday, time.Friday},
	}, anchor)
	if err != nil {
		t.Fatal(err)
	}

	wantDays := []int{2, 4, 6, 9, 11, 13}
	if len(got) != len(wantDays) {
		t.Fatalf("expanded %d occurrences, want %d", len(got), len(wantDays))
	}
	for i, iv := range got {
		if iv.Start.Day() != wantDays[i] {
			t.Fatalf("occurrence %d on day %d, want %d", i, iv.Start.Day(), wantDays[i])
		}
		switch iv.Start.Weekday() {
		case time.Monday, time.Wednesday, time.Friday:
		default:
			t.Fatalf("occurrence %d on %v, outside the weekday mask", i, iv.Start.Weekday())
		}
	}
}

func TestEngine_Expand_WeeklyDefaultsToAnchorWeekday(t *testing.T) {
	t.Parallel()

	engine := NewEngine(0)
	anchor := anchorAt(t, 2025, time.June, 2, 9)

	got, err := engine.Expand(Pattern{Frequency: FrequencyWeekly, Interval: 1, Count: 4}, anchor)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expanded %d occurrences, want 4", len(got))
	}
	for i, iv := range got {
		if iv.Start.Weekday() != time.Monday {
			t.Fatalf("occurrence %d on %v, want Monday", i, iv.Start.Weekday())
		}
		if !iv.Start.Equal(anchor.Start.AddDate(0, 0, 7*i)) {
			t.Fatalf("occurrence %d at %v, want weekly steps from anchor", i, iv.Start)
		}
	}
}

func TestEngine_Expand_MonthlySkipsShortMonths(t *testing.T) {
	t.Parallel()

	engine := NewEngine(0)
	anchor := anchorAt(t, 2025, time.January, 31, 10)

	got, err := engine.Expand(Pattern{Frequency: FrequencyMonthly, Interval: 1, Count: 3}, anchor)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expanded %d occurrences, want 3", len(got))
	}
	wantMonths := []time.Month{time.January, time.March, time.May}
	for i, iv := range got {
		if iv.Start.Month() != wantMonths[i] || iv.Start.Day() != 31 {
			t.Fatalf("occurrence %d = %v, want the 31st of %v", i, iv.Start, wantMonths[i])
		}
	}
}

func TestEngine_Expand_RejectsOversizedSeries(t *testing.T) {
	t.Parallel()

	engine := NewEngine(10)
	anchor := anchorAt(t, 2025, time.June, 2, 9)
	until := anchor.Start.AddDate(1, 0, 0)

	_, err := engine.Expand(Pattern{Frequency: FrequencyDaily, Interval: 1, Until: &until}, anchor)
	if !errors.Is(err, ErrTooManyOccurrences) {
		t.Fatalf("Expand() error = %v, want ErrTooManyOccurrences", err)
	}
}

func TestEngine_Expand_InvalidAnchor(t *testing.T) {
	t.Parallel()

	engine := NewEngine(0)
	start := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	_, err := engine.Expand(
		Pattern{Frequency: FrequencyDaily, Interval: 1, Count: 2},
		schedule.Interval{Start: start, End: start},
	)
	if !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("Expand() error = %v, want ErrInvalidDuration", err)
	}
}
