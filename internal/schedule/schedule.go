// Package schedule implements the per-resource schedule store and conflict
// detection for the booking engine. Each resource carries an independent
// interval index behind its own mutex, so booking traffic on unrelated
// resources never contends.
package schedule

import "sync"

// Kind distinguishes the owners of occupying intervals.
type Kind string

const (
	// KindBooking marks an interval occupied by a booking in an occupying status.
	KindBooking Kind = "booking"
	// KindMaintenance marks a maintenance window, which bookings can never overlap.
	KindMaintenance Kind = "maintenance"
)

// Conflict identifies the occupant that blocks a candidate interval. Only the
// owner reference, kind and interval are exposed; callers must not leak the
// occupant's requester to unrelated users.
type Conflict struct {
	Ref      string
	Kind     Kind
	Interval Interval
}

type resourceState struct {
	mu    sync.Mutex
	tree  Tree
	kinds map[string]Kind
}

// Registry holds the schedule store for every resource, keyed by resource ID.
// States are created on demand; an empty schedule and a missing one behave
// identically.
type Registry struct {
	mu        sync.Mutex
	resources map[string]*resourceState
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]*resourceState)}
}

func (g *Registry) state(resourceID string) *resourceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.resources[resourceID]
	if !ok {
		st = &resourceState{kinds: make(map[string]Kind)}
		g.resources[resourceID] = st
	}
	return st
}

// View exposes the schedule of a single resource while its lock is held.
type View struct {
	st *resourceState
}

// WithResource runs fn while holding the exclusive lock of the named
// resource. Conflict checks and reservations performed through the view are
// therefore a single atomic unit; this is the check-and-reserve bracket that
// prevents double booking.
func (g *Registry) WithResource(resourceID string, fn func(view *View) error) error {
	st := g.state(resourceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn(&View{st: st})
}

// Seed inserts an occupying interval without taking the view callback,
// used to warm the registry from persistence at startup.
func (g *Registry) Seed(resourceID, ref string, kind Kind, iv Interval) {
	st := g.state(resourceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.tree.Insert(ref, iv)
	st.kinds[ref] = kind
}

// Release removes the interval held by ref outside of a view callback.
func (g *Registry) Release(resourceID, ref string, iv Interval) bool {
	st := g.state(resourceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return releaseLocked(st, ref, iv)
}

// Check reports the first occupant overlapping iv, excluding the owner named
// by exclude (typically the booking being rescheduled).
func (v *View) Check(iv Interval, exclude string) (Conflict, bool) {
	item, ok := v.st.tree.FirstOverlap(iv, exclude)
	if !ok {
		return Conflict{}, false
	}
	kind, known := v.st.kinds[item.Ref]
	if !known {
		kind = KindBooking
	}
	return Conflict{Ref: item.Ref, Kind: kind, Interval: item.Interval}, true
}

// Reserve marks iv as occupied by ref.
func (v *View) Reserve(ref string, kind Kind, iv Interval) {
	v.st.tree.Insert(ref, iv)
	v.st.kinds[ref] = kind
}

// Release removes the interval held by ref.
func (v *View) Release(ref string, iv Interval) bool {
	return releaseLocked(v.st, ref, iv)
}

// Items lists the occupants of the resource ordered by start time.
func (v *View) Items() []Item {
	return v.st.tree.Items()
}

func releaseLocked(st *resourceState, ref string, iv Interval) bool {
	removed := st.tree.Delete(ref, iv)
	if removed {
		delete(st.kinds, ref)
	}
	return removed
}
