package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/example/lab-booking/internal/persistence"
	"github.com/example/lab-booking/internal/recurrence"
	"github.com/example/lab-booking/internal/schedule"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}

type intentRecorder struct {
	mu      sync.Mutex
	intents []Intent
}

func (r *intentRecorder) Emit(_ context.Context, intent Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
	return nil
}

func (r *intentRecorder) byKind(kind IntentKind) []Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Intent
	for _, intent := range r.intents {
		if intent.Kind == kind {
			out = append(out, intent)
		}
	}
	return out
}

type fakeDirectory struct {
	mu      sync.Mutex
	members map[string][]string
}

func (d *fakeDirectory) HasActiveApprover(_ context.Context, role string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.members[role]) > 0, nil
}

func (d *fakeDirectory) HoldsRole(_ context.Context, userID, role string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, member := range d.members[role] {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

// memoryStore implements every repository interface over process memory with
// the same optimistic versioning semantics as the sqlite implementation.
type memoryStore struct {
	mu         sync.Mutex
	bookings   map[string]Booking
	resources  map[string]Resource
	windows    []MaintenanceWindow
	rules      []ApprovalRule
	steps      map[string]ApprovalStep
	stepOrder  []string
	entries    map[string]WaitingListEntry
	entryOrder []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		bookings:  make(map[string]Booking),
		resources: make(map[string]Resource),
		steps:     make(map[string]ApprovalStep),
		entries:   make(map[string]WaitingListEntry),
	}
}

func (m *memoryStore) CreateBooking(_ context.Context, booking Booking) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bookings[booking.ID]; exists {
		return Booking{}, persistence.ErrDuplicate
	}
	m.bookings[booking.ID] = booking
	return booking, nil
}

func (m *memoryStore) CreateBookings(ctx context.Context, bookings []Booking) ([]Booking, error) {
	out := make([]Booking, 0, len(bookings))
	for _, booking := range bookings {
		created, err := m.CreateBooking(ctx, booking)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

func (m *memoryStore) GetBooking(_ context.Context, id string) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	booking, ok := m.bookings[id]
	if !ok {
		return Booking{}, persistence.ErrNotFound
	}
	return booking, nil
}

func (m *memoryStore) UpdateBooking(_ context.Context, booking Booking) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[booking.ID]
	if !ok {
		return Booking{}, persistence.ErrNotFound
	}
	if stored.Version != booking.Version {
		return Booking{}, persistence.ErrVersionMismatch
	}
	booking.Version++
	m.bookings[booking.ID] = booking
	return booking, nil
}

func (m *memoryStore) ListBookings(_ context.Context, filter BookingFilter) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, booking := range m.bookings {
		if filter.ResourceID != "" && booking.ResourceID != filter.ResourceID {
			continue
		}
		if filter.RequesterID != "" && booking.RequesterID != filter.RequesterID {
			continue
		}
		if filter.SeriesID != "" && (booking.SeriesID == nil || *booking.SeriesID != filter.SeriesID) {
			continue
		}
		if len(filter.Statuses) > 0 {
			matched := false
			for _, status := range filter.Statuses {
				if booking.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if filter.EndsAfter != nil && !booking.End.After(*filter.EndsAfter) {
			continue
		}
		if filter.StartsBefore != nil && !booking.Start.Before(*filter.StartsBefore) {
			continue
		}
		out = append(out, booking)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *memoryStore) CreateResource(_ context.Context, resource Resource) (Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[resource.ID] = resource
	return resource, nil
}

func (m *memoryStore) UpdateResource(_ context.Context, resource Resource) (Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[resource.ID]; !ok {
		return Resource{}, persistence.ErrNotFound
	}
	m.resources[resource.ID] = resource
	return resource, nil
}

func (m *memoryStore) GetResource(_ context.Context, id string) (Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resource, ok := m.resources[id]
	if !ok {
		return Resource{}, persistence.ErrNotFound
	}
	return resource, nil
}

func (m *memoryStore) ListResources(_ context.Context) ([]Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Resource, 0, len(m.resources))
	for _, resource := range m.resources {
		out = append(out, resource)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) AddMaintenanceWindow(_ context.Context, window MaintenanceWindow) (MaintenanceWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = append(m.windows, window)
	return window, nil
}

func (m *memoryStore) ListMaintenanceWindows(_ context.Context, resourceID string) ([]MaintenanceWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MaintenanceWindow
	for _, window := range m.windows {
		if window.ResourceID == resourceID {
			out = append(out, window)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateRule(_ context.Context, rule ApprovalRule) (ApprovalRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
	return rule, nil
}

func (m *memoryStore) ListRules(_ context.Context) ([]ApprovalRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ApprovalRule, len(m.rules))
	copy(out, m.rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (m *memoryStore) CreateSteps(_ context.Context, steps []ApprovalStep) ([]ApprovalStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ApprovalStep, 0, len(steps))
	for _, step := range steps {
		step.Version = 1
		m.steps[step.ID] = step
		m.stepOrder = append(m.stepOrder, step.ID)
		out = append(out, step)
	}
	return out, nil
}

func (m *memoryStore) GetStep(_ context.Context, id string) (ApprovalStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.steps[id]
	if !ok {
		return ApprovalStep{}, persistence.ErrNotFound
	}
	return step, nil
}

func (m *memoryStore) UpdateStep(_ context.Context, step ApprovalStep) (ApprovalStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.steps[step.ID]
	if !ok {
		return ApprovalStep{}, persistence.ErrNotFound
	}
	if stored.Version != step.Version {
		return ApprovalStep{}, persistence.ErrVersionMismatch
	}
	step.Version++
	m.steps[step.ID] = step
	return step, nil
}

func (m *memoryStore) ListStepsForBooking(_ context.Context, bookingID string) ([]ApprovalStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ApprovalStep
	for _, id := range m.stepOrder {
		if step := m.steps[id]; step.BookingID == bookingID {
			out = append(out, step)
		}
	}
	return out, nil
}

func (m *memoryStore) ListPendingStepsDueBy(_ context.Context, deadline time.Time) ([]ApprovalStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ApprovalStep
	for _, id := range m.stepOrder {
		step := m.steps[id]
		if step.State == DecisionPending && !deadline.Before(step.Deadline) {
			out = append(out, step)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateEntry(_ context.Context, entry WaitingListEntry) (WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	m.entryOrder = append(m.entryOrder, entry.ID)
	return entry, nil
}

func (m *memoryStore) GetEntry(_ context.Context, id string) (WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return WaitingListEntry{}, persistence.ErrNotFound
	}
	return entry, nil
}

func (m *memoryStore) UpdateEntry(_ context.Context, entry WaitingListEntry) (WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.entries[entry.ID]
	if !ok {
		return WaitingListEntry{}, persistence.ErrNotFound
	}
	if stored.Version != entry.Version {
		return WaitingListEntry{}, persistence.ErrVersionMismatch
	}
	entry.Version++
	m.entries[entry.ID] = entry
	return entry, nil
}

func (m *memoryStore) ListWaiting(_ context.Context, resourceID string) ([]WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WaitingListEntry
	for _, id := range m.entryOrder {
		entry := m.entries[id]
		if entry.ResourceID == resourceID && entry.Status == WaitlistWaiting {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (m *memoryStore) ListActiveOffers(_ context.Context, resourceID string) ([]WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WaitingListEntry
	for _, id := range m.entryOrder {
		entry := m.entries[id]
		if entry.ResourceID == resourceID && entry.Status == WaitlistOffered {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memoryStore) ListOffersExpiringBy(_ context.Context, deadline time.Time) ([]WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WaitingListEntry
	for _, id := range m.entryOrder {
		entry := m.entries[id]
		if entry.Status == WaitlistOffered && entry.OfferExpiresAt != nil && !deadline.Before(*entry.OfferExpiresAt) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// testEnv wires the services the way main does, over the in-memory store.
type testEnv struct {
	store     *memoryStore
	clock     *fakeClock
	emitter   *intentRecorder
	registry  *schedule.Registry
	directory *fakeDirectory
	approvals *ApprovalService
	bookings  *BookingService
	waitlist  *WaitlistService
	catalog   *ResourceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemoryStore()
	clk := newFakeClock(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))
	emitter := &intentRecorder{}
	registry := schedule.NewRegistry()
	directory := &fakeDirectory{members: map[string][]string{
		"technician": {"tina"},
		"sysadmin":   {"sam"},
		"safety":     {"selma"},
	}}

	approvals := NewApprovalService(store, store, directory, emitter, sequentialIDs("step"), clk, 48*time.Hour, nil)
	bookings := NewBookingService(store, store, approvals, registry, recurrence.NewEngine(0), emitter, sequentialIDs("bk"), clk, 15*time.Minute, nil)
	waitlist := NewWaitlistService(store, bookings, emitter, sequentialIDs("wl"), clk, 30*time.Minute, nil)
	bookings.SetCapacityListener(waitlist)
	catalog := NewResourceService(store, store, registry, sequentialIDs("res"), clk, nil)

	return &testEnv{
		store:     store,
		clock:     clk,
		emitter:   emitter,
		registry:  registry,
		directory: directory,
		approvals: approvals,
		bookings:  bookings,
		waitlist:  waitlist,
		catalog:   catalog,
	}
}

func (e *testEnv) seedResource(t *testing.T, resource Resource) Resource {
	t.Helper()
	if resource.ID == "" {
		resource.ID = "lab-1"
	}
	if resource.Type == "" {
		resource.Type = "microscope"
	}
	resource.Active = true
	created, err := e.store.CreateResource(context.Background(), resource)
	if err != nil {
		t.Fatalf("seed resource: %v", err)
	}
	return created
}

func (e *testEnv) seedRule(t *testing.T, rule ApprovalRule) ApprovalRule {
	t.Helper()
	if rule.DeadlinePolicy == "" {
		rule.DeadlinePolicy = DeadlineReject
	}
	created, err := e.store.CreateRule(context.Background(), rule)
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return created
}

func (e *testEnv) at(hour, minute int) time.Time {
	return time.Date(2025, 6, 2, hour, minute, 0, 0, time.UTC)
}

var adminPrincipal = Principal{UserID: "root", IsAdmin: true}

func requester(id string) Principal {
	return Principal{UserID: id}
}
