package application

import (
	"time"

	"github.com/example/lab-booking/internal/schedule"
)

// Principal represents the authenticated actor invoking a service method,
// as resolved by the identity collaborator. The engine never stores
// credentials; only the opaque user ID and resolved attributes travel here.
type Principal struct {
	UserID       string
	Roles        []string
	TrainingTier int
	IsAdmin      bool
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// BookingStatus enumerates the booking lifecycle states.
type BookingStatus string

const (
	StatusDraft            BookingStatus = "draft"
	StatusPending          BookingStatus = "pending"
	StatusAwaitingApproval BookingStatus = "awaiting_approval"
	StatusConfirmed        BookingStatus = "confirmed"
	StatusRejected         BookingStatus = "rejected"
	StatusCancelled        BookingStatus = "cancelled"
	StatusCheckedIn        BookingStatus = "checked_in"
	StatusCheckedOut       BookingStatus = "checked_out"
	StatusCompleted        BookingStatus = "completed"
	StatusNoShow           BookingStatus = "no_show"
)

// Occupies reports whether a booking in this status counts toward conflict
// detection on its resource.
func (s BookingStatus) Occupies() bool {
	switch s {
	case StatusPending, StatusAwaitingApproval, StatusConfirmed, StatusCheckedIn:
		return true
	default:
		return false
	}
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	StatusDraft:            {StatusPending},
	StatusPending:          {StatusAwaitingApproval, StatusConfirmed, StatusCancelled},
	StatusAwaitingApproval: {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed:        {StatusCheckedIn, StatusCancelled, StatusCompleted, StatusNoShow},
	StatusCheckedIn:        {StatusCheckedOut},
}

// CanTransition reports whether the state machine permits moving from s to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BookingOrigin records how a booking entered the engine.
type BookingOrigin string

const (
	OriginSelfService BookingOrigin = "self"
	OriginAdmin       BookingOrigin = "admin"
	OriginWaitlist    BookingOrigin = "waitlist"
)

// Booking is the materialized unit of schedule occupancy. The Version
// counter implements optimistic concurrency: updates carry the version they
// read and fail with a version mismatch when it is stale.
type Booking struct {
	ID           string
	ResourceID   string
	RequesterID  string
	Start        time.Time
	End          time.Time
	Status       BookingStatus
	Origin       BookingOrigin
	SeriesID     *string
	Attendees    []string
	CheckedInAt  *time.Time
	CheckedOutAt *time.Time
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Interval returns the booking's half-open occupancy interval.
func (b Booking) Interval() schedule.Interval {
	return schedule.Interval{Start: b.Start, End: b.End}
}

// Cancellable reports whether the booking may still be cancelled at now.
func (b Booking) Cancellable(now time.Time) bool {
	switch b.Status {
	case StatusPending, StatusAwaitingApproval, StatusConfirmed:
		return now.Before(b.End)
	default:
		return false
	}
}

// RecurrenceInput carries the caller-provided recurrence specification.
type RecurrenceInput struct {
	Frequency string
	Interval  int
	Count     int
	Until     *time.Time
	Weekdays  []time.Weekday
}

// BookingInput captures caller-provided booking fields.
type BookingInput struct {
	ResourceID string
	Start      time.Time
	End        time.Time
	Attendees  []string
	Recurrence *RecurrenceInput
}

// SubmitBookingParams wraps the data required to submit a booking request.
type SubmitBookingParams struct {
	Principal Principal
	Input     BookingInput
	Origin    BookingOrigin
}

// RejectedInstance reports a recurrence instance that failed conflict
// checking. Only the conflicting interval is exposed, never the conflicting
// booking's requester.
type RejectedInstance struct {
	Start        time.Time
	End          time.Time
	Reason       string
	ConflictWith *schedule.Interval
}

// SubmitBookingResult carries the bookings created by a submission together
// with any recurrence instances rejected for conflicts. A recurring series
// is not all-or-nothing: both slices may be non-empty.
type SubmitBookingResult struct {
	Bookings []Booking
	Rejected []RejectedInstance
	Steps    []ApprovalStep
}

// BookingFilter narrows booking list queries.
type BookingFilter struct {
	ResourceID   string
	RequesterID  string
	SeriesID     string
	Statuses     []BookingStatus
	EndsAfter    *time.Time
	StartsBefore *time.Time
}

// Resource is a bookable catalog entry.
type Resource struct {
	ID              string
	Name            string
	Type            string
	RiskTier        int
	Active          bool
	RequiresCheckIn bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MaintenanceWindow blocks a resource's schedule like a permanent booking.
type MaintenanceWindow struct {
	ID         string
	ResourceID string
	Start      time.Time
	End        time.Time
	Reason     string
	CreatedAt  time.Time
}

// Interval returns the window's occupancy interval.
func (m MaintenanceWindow) Interval() schedule.Interval {
	return schedule.Interval{Start: m.Start, End: m.End}
}

// DeadlinePolicy selects what happens when an approval step's deadline
// passes. The policy is explicit per rule; there is no implicit default.
type DeadlinePolicy string

const (
	// DeadlineEscalate reassigns the step to the rule's fallback role.
	DeadlineEscalate DeadlinePolicy = "escalate"
	// DeadlineReject resolves the step as rejected on expiry.
	DeadlineReject DeadlinePolicy = "reject"
)

// ApprovalRule is a read-only configuration row matched against bookings in
// priority order. The first matching rule for each distinct approver role
// wins.
type ApprovalRule struct {
	ID             string
	Name           string
	Priority       int
	ResourceTypes  []string
	MinRiskTier    int
	MinDuration    time.Duration
	Role           string
	Tier           int
	AutoApprove    bool
	DeadlinePolicy DeadlinePolicy
	EscalateToRole string
	CreatedAt      time.Time
}

// Matches reports whether the rule's predicate selects the booking.
func (r ApprovalRule) Matches(b Booking, res Resource) bool {
	if len(r.ResourceTypes) > 0 {
		found := false
		for _, rt := range r.ResourceTypes {
			if rt == res.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if res.RiskTier < r.MinRiskTier {
		return false
	}
	if r.MinDuration > 0 && b.End.Sub(b.Start) < r.MinDuration {
		return false
	}
	return true
}

// DecisionState enumerates the resolution states of an approval step.
type DecisionState string

const (
	DecisionPending  DecisionState = "pending"
	DecisionApproved DecisionState = "approved"
	DecisionRejected DecisionState = "rejected"
)

// ApprovalStep is one entry in a booking's approval chain. Steps sharing a
// tier are parallel; a tier's steps are only created once every step of the
// previous tier is approved, so a rejected predecessor never produces
// successor steps.
type ApprovalStep struct {
	ID         string
	BookingID  string
	RuleID     string
	Role       string
	Tier       int
	State      DecisionState
	DeciderID  string
	DelegateID string
	Deadline   time.Time
	DecidedAt  *time.Time
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Resolved reports whether the step has reached a final decision.
func (s ApprovalStep) Resolved() bool {
	return s.State == DecisionApproved || s.State == DecisionRejected
}

// DeadlinePassed is the expiry predicate shared by the scheduled sweep and
// the lazy read path.
func (s ApprovalStep) DeadlinePassed(now time.Time) bool {
	return s.State == DecisionPending && !s.Deadline.IsZero() && !now.Before(s.Deadline)
}

// Decision enumerates the actions an approver may take on a pending step.
type Decision string

const (
	DecisionActApprove  Decision = "approve"
	DecisionActReject   Decision = "reject"
	DecisionActDelegate Decision = "delegate"
)

// DecisionInput captures an approval decision submission.
type DecisionInput struct {
	BookingID  string
	StepID     string
	Decision   Decision
	DelegateTo string
}

// ChainOutcome summarizes a chain after a decision is applied.
type ChainOutcome string

const (
	ChainPending  ChainOutcome = "pending"
	ChainApproved ChainOutcome = "approved"
	ChainRejected ChainOutcome = "rejected"
)

// ChainResult is returned by the approval engine for the lifecycle manager
// to apply; the approval engine never mutates bookings itself.
type ChainResult struct {
	Outcome  ChainOutcome
	Steps    []ApprovalStep
	NewSteps []ApprovalStep
	NoOp     bool
}

// WaitlistStatus enumerates waiting-list entry states.
type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistOffered   WaitlistStatus = "offered"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistAccepted  WaitlistStatus = "accepted"
	WaitlistWithdrawn WaitlistStatus = "withdrawn"
	// WaitlistClosed marks entries resolved because their resource was closed.
	WaitlistClosed WaitlistStatus = "closed"
)

// WaitingListEntry registers interest in freed capacity on a resource.
// RegisteredAt orders the queue: matching is strict FIFO.
type WaitingListEntry struct {
	ID             string
	ResourceID     string
	RequesterID    string
	WindowStart    time.Time
	WindowEnd      time.Time
	MinDuration    time.Duration
	Status         WaitlistStatus
	RegisteredAt   time.Time
	OfferStart     *time.Time
	OfferEnd       *time.Time
	OfferExpiresAt *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Window returns the entry's desired interval.
func (e WaitingListEntry) Window() schedule.Interval {
	return schedule.Interval{Start: e.WindowStart, End: e.WindowEnd}
}

// OfferInterval returns the currently offered interval, if any.
func (e WaitingListEntry) OfferInterval() (schedule.Interval, bool) {
	if e.OfferStart == nil || e.OfferEnd == nil {
		return schedule.Interval{}, false
	}
	return schedule.Interval{Start: *e.OfferStart, End: *e.OfferEnd}, true
}

// OfferExpired is the expiry predicate shared by the scheduled sweep and the
// lazy accept path; both compare against the same injected clock. An offer
// expires at its expiry instant, so an accept arriving exactly then loses.
func (e WaitingListEntry) OfferExpired(now time.Time) bool {
	return e.Status == WaitlistOffered && e.OfferExpiresAt != nil && !now.Before(*e.OfferExpiresAt)
}

// JoinWaitlistParams wraps a waiting-list registration.
type JoinWaitlistParams struct {
	Principal   Principal
	ResourceID  string
	WindowStart time.Time
	WindowEnd   time.Time
	MinDuration time.Duration
}

// ResourceInput captures caller-provided resource fields.
type ResourceInput struct {
	Name            string
	Type            string
	RiskTier        int
	RequiresCheckIn bool
}

// MaintenanceInput captures a maintenance window registration.
type MaintenanceInput struct {
	Start  time.Time
	End    time.Time
	Reason string
}
