package schedule

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
)

// linearIndex is the reference oracle: the same contract as Tree implemented
// as a plain slice scan.
type linearIndex struct {
	items []Item
}

func (l *linearIndex) insert(ref string, iv Interval) {
	for _, item := range l.items {
		if item.Ref == ref && item.Interval == iv {
			return
		}
	}
	l.items = append(l.items, Item{Ref: ref, Interval: iv})
}

func (l *linearIndex) delete(ref string, iv Interval) bool {
	for i, item := range l.items {
		if item.Ref == ref && item.Interval == iv {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

func (l *linearIndex) overlapping(iv Interval) map[string]struct{} {
	out := make(map[string]struct{})
	for _, item := range l.items {
		if item.Interval.Overlaps(iv) {
			out[item.Ref] = struct{}{}
		}
	}
	return out
}

func TestTree_InsertDeleteOverlap(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

	tree := &Tree{}
	tree.Insert("a", Interval{Start: at(9), End: at(10)})
	tree.Insert("b", Interval{Start: at(10), End: at(11)})
	tree.Insert("c", Interval{Start: at(14), End: at(16)})

	if tree.Len() != 3 {
		t.Fatalf("Len = %d, want 3", tree.Len())
	}

	t.Run("finds overlap", func(t *testing.T) {
		item, ok := tree.FirstOverlap(Interval{Start: at(15), End: at(17)}, "")
		if !ok || item.Ref != "c" {
			t.Fatalf("FirstOverlap = %+v, %v; want c", item, ok)
		}
	})

	t.Run("back to back entries do not collide", func(t *testing.T) {
		if item, ok := tree.FirstOverlap(Interval{Start: at(11), End: at(14)}, ""); ok {
			t.Fatalf("unexpected overlap with %q", item.Ref)
		}
	})

	t.Run("exclusion skips the named owner", func(t *testing.T) {
		if item, ok := tree.FirstOverlap(Interval{Start: at(9), End: at(10)}, "a"); ok {
			t.Fatalf("unexpected overlap with %q after excluding a", item.Ref)
		}
	})

	t.Run("delete removes only the named entry", func(t *testing.T) {
		if !tree.Delete("b", Interval{Start: at(10), End: at(11)}) {
			t.Fatal("expected delete to remove b")
		}
		if tree.Delete("b", Interval{Start: at(10), End: at(11)}) {
			t.Fatal("second delete must report no removal")
		}
		if tree.Len() != 2 {
			t.Fatalf("Len = %d, want 2", tree.Len())
		}
	})
}

func TestTree_MatchesLinearOracle(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(20250602))
	base := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)

	tree := &Tree{}
	oracle := &linearIndex{}
	live := make([]Item, 0, 256)

	randomInterval := func() Interval {
		start := base.Add(time.Duration(rng.Intn(24*60)) * time.Minute)
		return Interval{Start: start, End: start.Add(time.Duration(1+rng.Intn(180)) * time.Minute)}
	}

	for i := 0; i < 2000; i++ {
		switch op := rng.Intn(10); {
		case op < 5 || len(live) == 0:
			ref := fmt.Sprintf("ref-%d", i)
			iv := randomInterval()
			tree.Insert(ref, iv)
			oracle.insert(ref, iv)
			live = append(live, Item{Ref: ref, Interval: iv})
		case op < 7:
			idx := rng.Intn(len(live))
			victim := live[idx]
			gotRemoved := tree.Delete(victim.Ref, victim.Interval)
			wantRemoved := oracle.delete(victim.Ref, victim.Interval)
			if gotRemoved != wantRemoved {
				t.Fatalf("step %d: delete mismatch: tree %v, oracle %v", i, gotRemoved, wantRemoved)
			}
			live = append(live[:idx], live[idx+1:]...)
		default:
			probe := randomInterval()
			want := oracle.overlapping(probe)
			got := make(map[string]struct{})
			for _, item := range tree.Overlapping(probe) {
				got[item.Ref] = struct{}{}
			}
			if len(got) != len(want) {
				t.Fatalf("step %d: overlap count mismatch: tree %d, oracle %d", i, len(got), len(want))
			}
			for ref := range want {
				if _, ok := got[ref]; !ok {
					t.Fatalf("step %d: tree missed overlap with %q", i, ref)
				}
			}
			if _, ok := tree.FirstOverlap(probe, ""); ok != (len(want) > 0) {
				t.Fatalf("step %d: FirstOverlap = %v, oracle has %d overlaps", i, ok, len(want))
			}
		}
	}

	if tree.Len() != len(oracle.items) {
		t.Fatalf("Len = %d, oracle has %d", tree.Len(), len(oracle.items))
	}
}

func BenchmarkTree_FirstOverlap(b *testing.B) {
	base := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)
	tree := &Tree{}
	for i := 0; i < 10000; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		tree.Insert(fmt.Sprintf("ref-%d", i), Interval{Start: start, End: start.Add(30 * time.Minute)})
	}
	probe := Interval{Start: base.Add(5000 * time.Hour), End: base.Add(5001 * time.Hour)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := tree.FirstOverlap(probe, ""); !ok {
			b.Fatal("expected overlap")
		}
	}
}
