package schedule

import (
	"testing"
	"time"
)

func ts(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	return time.Date(2025, time.June, 2, hour, minute, 0, 0, time.UTC)
}

func TestInterval_Overlaps(t *testing.T) {
	t.Parallel()

	t.Run("partial overlap", func(t *testing.T) {
		t.Parallel()
		a := Interval{Start: ts(t, 9, 0), End: ts(t, 11, 0)}
		b := Interval{Start: ts(t, 10, 0), End: ts(t, 12, 0)}
		if !a.Overlaps(b) || !b.Overlaps(a) {
			t.Fatal("expected overlap in both directions")
		}
	})

	t.Run("containment", func(t *testing.T) {
		t.Parallel()
		outer := Interval{Start: ts(t, 9, 0), End: ts(t, 17, 0)}
		inner := Interval{Start: ts(t, 12, 0), End: ts(t, 13, 0)}
		if !outer.Overlaps(inner) || !inner.Overlaps(outer) {
			t.Fatal("expected contained interval to overlap")
		}
	})

	t.Run("back to back is not a conflict", func(t *testing.T) {
		t.Parallel()
		a := Interval{Start: ts(t, 9, 0), End: ts(t, 10, 0)}
		b := Interval{Start: ts(t, 10, 0), End: ts(t, 11, 0)}
		if a.Overlaps(b) || b.Overlaps(a) {
			t.Fatal("half-open intervals meeting at a boundary must not overlap")
		}
	})

	t.Run("disjoint", func(t *testing.T) {
		t.Parallel()
		a := Interval{Start: ts(t, 9, 0), End: ts(t, 10, 0)}
		b := Interval{Start: ts(t, 14, 0), End: ts(t, 15, 0)}
		if a.Overlaps(b) {
			t.Fatal("expected no overlap")
		}
	})
}

func TestInterval_Intersect(t *testing.T) {
	t.Parallel()

	a := Interval{Start: ts(t, 9, 0), End: ts(t, 12, 0)}
	b := Interval{Start: ts(t, 10, 0), End: ts(t, 14, 0)}

	got, ok := a.Intersect(b)
	if !ok {
		t.Fatal("expected intersection")
	}
	want := Interval{Start: ts(t, 10, 0), End: ts(t, 12, 0)}
	if !got.Start.Equal(want.Start) || !got.End.Equal(want.End) {
		t.Fatalf("intersection = [%v, %v), want [%v, %v)", got.Start, got.End, want.Start, want.End)
	}

	if _, ok := a.Intersect(Interval{Start: ts(t, 12, 0), End: ts(t, 13, 0)}); ok {
		t.Fatal("adjacent intervals must not intersect")
	}
}

func TestInterval_Contains(t *testing.T) {
	t.Parallel()

	iv := Interval{Start: ts(t, 9, 0), End: ts(t, 10, 0)}
	if !iv.Contains(ts(t, 9, 0)) {
		t.Fatal("start instant belongs to the interval")
	}
	if iv.Contains(ts(t, 10, 0)) {
		t.Fatal("end instant is excluded from the interval")
	}
}
