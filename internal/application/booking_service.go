package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/lab-booking/internal/clock"
	"github.com/example/lab-booking/internal/recurrence"
	"github.com/example/lab-booking/internal/schedule"
)

// CapacityListener is notified of schedule events the waiting list reacts
// to: capacity freeing up before its scheduled end, and a resource closing
// for good.
type CapacityListener interface {
	OnCapacityFreed(ctx context.Context, resourceID string, freed schedule.Interval)
	OnResourceClosed(ctx context.Context, resourceID string)
}

// BookingService is the booking lifecycle manager. It owns every status
// transition, brackets conflict checks and reservations inside per-resource
// locks, and applies approval chain outcomes produced by the approval engine.
type BookingService struct {
	bookings     BookingRepository
	resources    ResourceRepository
	approvals    *ApprovalService
	registry     *schedule.Registry
	expander     *recurrence.Engine
	emitter      IntentEmitter
	listener     CapacityListener
	idGenerator  func() string
	clock        clock.Clock
	checkInGrace time.Duration
	logger       *slog.Logger
}

// NewBookingService wires dependencies for booking lifecycle operations.
func NewBookingService(
	bookings BookingRepository,
	resources ResourceRepository,
	approvals *ApprovalService,
	registry *schedule.Registry,
	expander *recurrence.Engine,
	emitter IntentEmitter,
	idGenerator func() string,
	clk clock.Clock,
	checkInGrace time.Duration,
	logger *slog.Logger,
) *BookingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if expander == nil {
		expander = recurrence.NewEngine(recurrence.DefaultMaxOccurrences)
	}
	return &BookingService{
		bookings:     bookings,
		resources:    resources,
		approvals:    approvals,
		registry:     registry,
		expander:     expander,
		emitter:      emitter,
		idGenerator:  idGenerator,
		clock:        clk,
		checkInGrace: checkInGrace,
		logger:       defaultLogger(logger),
	}
}

// SetCapacityListener registers the listener invoked when capacity frees up.
// It must be called during wiring, before the service handles traffic.
func (s *BookingService) SetCapacityListener(listener CapacityListener) {
	s.listener = listener
}

func (s *BookingService) validateInput(input BookingInput, origin BookingOrigin, now time.Time) *ValidationError {
	vErr := &ValidationError{}
	if input.ResourceID == "" {
		vErr.add("resource_id", "resource is required")
	}
	iv := schedule.Interval{Start: input.Start, End: input.End}
	if !iv.IsValid() {
		vErr.add("end", "end must be after start")
	} else if origin != OriginAdmin && input.Start.Before(now) {
		vErr.add("start", "start must be in the future")
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func buildPattern(rec RecurrenceInput) (recurrence.Pattern, error) {
	freq, ok := recurrence.ParseFrequency(rec.Frequency)
	if !ok {
		return recurrence.Pattern{}, recurrence.ErrInvalidFrequency
	}
	return recurrence.Pattern{
		Frequency: freq,
		Interval:  rec.Interval,
		Count:     rec.Count,
		Until:     rec.Until,
		Weekdays:  rec.Weekdays,
	}, nil
}

func recurrenceValidationError(err error) error {
	vErr := &ValidationError{}
	switch {
	case errors.Is(err, recurrence.ErrInvalidFrequency):
		vErr.add("recurrence.frequency", "frequency must be daily, weekly or monthly")
	case errors.Is(err, recurrence.ErrInvalidInterval):
		vErr.add("recurrence.interval", "interval must be at least 1")
	case errors.Is(err, recurrence.ErrTerminatorRequired):
		vErr.add("recurrence", "either count or until is required")
	case errors.Is(err, recurrence.ErrAmbiguousTerminator):
		vErr.add("recurrence", "count and until are mutually exclusive")
	case errors.Is(err, recurrence.ErrTooManyOccurrences):
		vErr.add("recurrence", "series expands to too many occurrences")
	default:
		return err
	}
	return vErr
}

// Submit validates, expands, conflict-checks and persists a booking request.
// A single booking that conflicts fails with a ConflictError. A recurring
// series succeeds partially: conflicting instances are reported in the result
// while the rest are created, and the whole series shares one series ID.
func (s *BookingService) Submit(ctx context.Context, params SubmitBookingParams) (SubmitBookingResult, error) {
	now := s.clock.Now()
	log := serviceLogger(ctx, s.logger, "bookings", "submit", "resource_id", params.Input.ResourceID)

	if vErr := s.validateInput(params.Input, params.Origin, now); vErr != nil {
		return SubmitBookingResult{}, vErr
	}

	resource, err := s.resources.GetResource(ctx, params.Input.ResourceID)
	if err != nil {
		return SubmitBookingResult{}, mapRepoError(err)
	}
	if !resource.Active {
		return SubmitBookingResult{}, &StateError{Entity: "resource", ID: resource.ID, Operation: "book", Status: "inactive"}
	}

	anchor := schedule.Interval{Start: params.Input.Start, End: params.Input.End}
	intervals := []schedule.Interval{anchor}
	recurring := params.Input.Recurrence != nil
	if recurring {
		pattern, err := buildPattern(*params.Input.Recurrence)
		if err != nil {
			return SubmitBookingResult{}, recurrenceValidationError(err)
		}
		intervals, err = s.expander.Expand(pattern, anchor)
		if err != nil {
			return SubmitBookingResult{}, recurrenceValidationError(err)
		}
	}

	candidate := Booking{ResourceID: resource.ID, RequesterID: params.Principal.UserID, Start: anchor.Start, End: anchor.End}
	needsApproval, err := s.approvals.RequiresApproval(ctx, candidate, resource)
	if err != nil {
		return SubmitBookingResult{}, err
	}
	status := StatusConfirmed
	if needsApproval {
		status = StatusAwaitingApproval
	}

	var seriesID *string
	if recurring {
		id := s.idGenerator()
		seriesID = &id
	}

	var created []Booking
	var rejected []RejectedInstance
	var singleConflict *ConflictError
	err = s.registry.WithResource(resource.ID, func(view *schedule.View) error {
		for _, iv := range intervals {
			if conflict, found := view.Check(iv, ""); found {
				if !recurring {
					singleConflict = &ConflictError{ResourceID: resource.ID, Requested: iv, Conflict: conflict}
					return nil
				}
				blocked := conflict.Interval
				rejected = append(rejected, RejectedInstance{
					Start:        iv.Start,
					End:          iv.End,
					Reason:       "conflicts with existing " + string(conflict.Kind),
					ConflictWith: &blocked,
				})
				continue
			}
			booking := Booking{
				ID:          s.idGenerator(),
				ResourceID:  resource.ID,
				RequesterID: params.Principal.UserID,
				Start:       iv.Start,
				End:         iv.End,
				Status:      status,
				Origin:      params.Origin,
				SeriesID:    seriesID,
				Attendees:   params.Input.Attendees,
				Version:     1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			view.Reserve(booking.ID, schedule.KindBooking, iv)
			created = append(created, booking)
		}
		return nil
	})
	if err != nil {
		return SubmitBookingResult{}, err
	}
	if singleConflict != nil {
		return SubmitBookingResult{}, singleConflict
	}
	if len(created) == 0 {
		return SubmitBookingResult{Rejected: rejected}, nil
	}

	persisted, err := s.bookings.CreateBookings(ctx, created)
	if err != nil {
		for _, booking := range created {
			s.registry.Release(booking.ResourceID, booking.ID, booking.Interval())
		}
		return SubmitBookingResult{}, mapRepoError(err)
	}

	var steps []ApprovalStep
	for _, booking := range persisted {
		emit(ctx, s.emitter, Intent{
			ID:          s.idGenerator(),
			Kind:        IntentBookingCreated,
			BookingID:   booking.ID,
			ResourceID:  booking.ResourceID,
			RecipientID: booking.RequesterID,
			OccurredAt:  now,
		})
		if needsApproval {
			_, bookingSteps, err := s.approvals.Begin(ctx, booking, resource)
			if err != nil {
				log.ErrorContext(ctx, "failed to open approval chain", "booking_id", booking.ID, "error", err)
				continue
			}
			steps = append(steps, bookingSteps...)
		} else {
			emit(ctx, s.emitter, Intent{
				ID:          s.idGenerator(),
				Kind:        IntentBookingConfirmed,
				BookingID:   booking.ID,
				ResourceID:  booking.ResourceID,
				RecipientID: booking.RequesterID,
				OccurredAt:  now,
			})
		}
	}

	log.InfoContext(ctx, "booking request accepted",
		"created", len(persisted), "rejected", len(rejected), "needs_approval", needsApproval)
	return SubmitBookingResult{Bookings: persisted, Rejected: rejected, Steps: steps}, nil
}

// Get returns a booking. Full details are limited to the requester, admins
// and role holders; anyone else only sees occupancy through the schedule.
func (s *BookingService) Get(ctx context.Context, id string, principal Principal) (Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, mapRepoError(err)
	}
	if booking.RequesterID != principal.UserID && !principal.IsAdmin && len(principal.Roles) == 0 {
		return Booking{}, ErrUnauthorized
	}
	return booking, nil
}

// ApprovalChain returns the booking's approval steps in chain order, under
// the same visibility rule as Get.
func (s *BookingService) ApprovalChain(ctx context.Context, id string, principal Principal) ([]ApprovalStep, error) {
	if _, err := s.Get(ctx, id, principal); err != nil {
		return nil, err
	}
	return s.approvals.Chain(ctx, id)
}

// List returns bookings matching the filter. Non-admin callers are scoped to
// their own bookings.
func (s *BookingService) List(ctx context.Context, filter BookingFilter, principal Principal) ([]Booking, error) {
	if !principal.IsAdmin {
		filter.RequesterID = principal.UserID
	}
	bookings, err := s.bookings.ListBookings(ctx, filter)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return bookings, nil
}

// Cancel cancels a booking that has not yet ended. Freed future capacity is
// handed to the capacity listener for waiting-list matching.
func (s *BookingService) Cancel(ctx context.Context, id string, principal Principal) (Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, mapRepoError(err)
	}
	if booking.RequesterID != principal.UserID && !principal.IsAdmin {
		return Booking{}, ErrUnauthorized
	}
	now := s.clock.Now()
	if !booking.Cancellable(now) {
		return Booking{}, &StateError{Entity: "booking", ID: booking.ID, Operation: "cancel", Status: string(booking.Status)}
	}

	wasOccupying := booking.Status.Occupies()
	booking.Status = StatusCancelled
	booking.UpdatedAt = now
	updated, err := s.bookings.UpdateBooking(ctx, booking)
	if err != nil {
		return Booking{}, mapRepoError(err)
	}
	if wasOccupying {
		s.registry.Release(updated.ResourceID, updated.ID, updated.Interval())
	}

	emit(ctx, s.emitter, Intent{
		ID:          s.idGenerator(),
		Kind:        IntentBookingCancelled,
		BookingID:   updated.ID,
		ResourceID:  updated.ResourceID,
		RecipientID: updated.RequesterID,
		OccurredAt:  now,
	})
	if updated.Start.After(now) {
		s.capacityFreed(ctx, updated.ResourceID, updated.Interval())
	} else if now.Before(updated.End) {
		s.capacityFreed(ctx, updated.ResourceID, schedule.Interval{Start: now, End: updated.End})
	}
	return updated, nil
}

// SubmitDecision routes an approval decision through the approval engine and
// applies the resulting chain outcome to the booking.
func (s *BookingService) SubmitDecision(ctx context.Context, input DecisionInput, principal Principal) (ChainResult, Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, input.BookingID)
	if err != nil {
		return ChainResult{}, Booking{}, mapRepoError(err)
	}
	resource, err := s.resources.GetResource(ctx, booking.ResourceID)
	if err != nil {
		return ChainResult{}, Booking{}, mapRepoError(err)
	}

	result, err := s.approvals.Apply(ctx, booking, resource, input, principal)
	if err != nil {
		return ChainResult{}, Booking{}, err
	}
	if result.NoOp {
		return result, booking, nil
	}

	booking, err = s.applyChainOutcome(ctx, booking, result.Outcome)
	if err != nil {
		return ChainResult{}, Booking{}, err
	}
	return result, booking, nil
}

func (s *BookingService) applyChainOutcome(ctx context.Context, booking Booking, outcome ChainOutcome) (Booking, error) {
	now := s.clock.Now()
	switch outcome {
	case ChainApproved:
		updated, err := s.transition(ctx, booking, StatusConfirmed, now)
		if err != nil {
			return Booking{}, err
		}
		emit(ctx, s.emitter, Intent{
			ID:          s.idGenerator(),
			Kind:        IntentBookingConfirmed,
			BookingID:   updated.ID,
			ResourceID:  updated.ResourceID,
			RecipientID: updated.RequesterID,
			OccurredAt:  now,
		})
		return updated, nil
	case ChainRejected:
		updated, err := s.transition(ctx, booking, StatusRejected, now)
		if err != nil {
			return Booking{}, err
		}
		s.registry.Release(updated.ResourceID, updated.ID, updated.Interval())
		emit(ctx, s.emitter, Intent{
			ID:          s.idGenerator(),
			Kind:        IntentBookingRejected,
			BookingID:   updated.ID,
			ResourceID:  updated.ResourceID,
			RecipientID: updated.RequesterID,
			OccurredAt:  now,
		})
		if updated.Start.After(now) {
			s.capacityFreed(ctx, updated.ResourceID, updated.Interval())
		}
		return updated, nil
	default:
		return booking, nil
	}
}

func (s *BookingService) transition(ctx context.Context, booking Booking, next BookingStatus, now time.Time) (Booking, error) {
	if !booking.Status.CanTransition(next) {
		return Booking{}, &StateError{Entity: "booking", ID: booking.ID, Operation: "move to " + string(next), Status: string(booking.Status)}
	}
	booking.Status = next
	booking.UpdatedAt = now
	updated, err := s.bookings.UpdateBooking(ctx, booking)
	if err != nil {
		return Booking{}, mapRepoError(err)
	}
	return updated, nil
}

// CheckIn records arrival for a confirmed booking. Arrival is accepted from
// one grace period before the start until one grace period after it.
func (s *BookingService) CheckIn(ctx context.Context, id string, principal Principal) (Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, mapRepoError(err)
	}
	if booking.RequesterID != principal.UserID && !principal.IsAdmin {
		return Booking{}, ErrUnauthorized
	}
	if booking.Status != StatusConfirmed {
		return Booking{}, &StateError{Entity: "booking", ID: booking.ID, Operation: "check in", Status: string(booking.Status)}
	}
	now := s.clock.Now()
	if now.Before(booking.Start.Add(-s.checkInGrace)) || now.After(booking.Start.Add(s.checkInGrace)) {
		return Booking{}, &StateError{Entity: "booking", ID: booking.ID, Operation: "check in", Status: "outside check-in window"}
	}

	booking.Status = StatusCheckedIn
	booking.CheckedInAt = &now
	booking.UpdatedAt = now
	updated, err := s.bookings.UpdateBooking(ctx, booking)
	if err != nil {
		return Booking{}, mapRepoError(err)
	}
	return updated, nil
}

// CheckOut records departure and releases the remainder of the slot.
func (s *BookingService) CheckOut(ctx context.Context, id string, principal Principal) (Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, mapRepoError(err)
	}
	if booking.RequesterID != principal.UserID && !principal.IsAdmin {
		return Booking{}, ErrUnauthorized
	}
	if booking.Status != StatusCheckedIn {
		return Booking{}, &StateError{Entity: "booking", ID: booking.ID, Operation: "check out", Status: string(booking.Status)}
	}

	now := s.clock.Now()
	booking.Status = StatusCheckedOut
	booking.CheckedOutAt = &now
	booking.UpdatedAt = now
	updated, err := s.bookings.UpdateBooking(ctx, booking)
	if err != nil {
		return Booking{}, mapRepoError(err)
	}
	s.registry.Release(updated.ResourceID, updated.ID, updated.Interval())

	emit(ctx, s.emitter, Intent{
		ID:          s.idGenerator(),
		Kind:        IntentBookingCompleted,
		BookingID:   updated.ID,
		ResourceID:  updated.ResourceID,
		RecipientID: updated.RequesterID,
		OccurredAt:  now,
	})
	if now.Before(updated.End) {
		s.capacityFreed(ctx, updated.ResourceID, schedule.Interval{Start: now, End: updated.End})
	}
	return updated, nil
}

// CreateFromOffer books an accepted waiting-list offer. The interval goes
// through the same check-and-reserve bracket as any other booking, so a slot
// taken in the meantime surfaces as a ConflictError.
func (s *BookingService) CreateFromOffer(ctx context.Context, entry WaitingListEntry, iv schedule.Interval) (Booking, error) {
	resource, err := s.resources.GetResource(ctx, entry.ResourceID)
	if err != nil {
		return Booking{}, mapRepoError(err)
	}
	if !resource.Active {
		return Booking{}, &StateError{Entity: "resource", ID: resource.ID, Operation: "book", Status: "inactive"}
	}

	now := s.clock.Now()
	candidate := Booking{ResourceID: resource.ID, RequesterID: entry.RequesterID, Start: iv.Start, End: iv.End}
	needsApproval, err := s.approvals.RequiresApproval(ctx, candidate, resource)
	if err != nil {
		return Booking{}, err
	}
	status := StatusConfirmed
	if needsApproval {
		status = StatusAwaitingApproval
	}

	booking := Booking{
		ID:          s.idGenerator(),
		ResourceID:  resource.ID,
		RequesterID: entry.RequesterID,
		Start:       iv.Start,
		End:         iv.End,
		Status:      status,
		Origin:      OriginWaitlist,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var conflictErr *ConflictError
	err = s.registry.WithResource(resource.ID, func(view *schedule.View) error {
		if conflict, found := view.Check(iv, ""); found {
			conflictErr = &ConflictError{ResourceID: resource.ID, Requested: iv, Conflict: conflict}
			return nil
		}
		view.Reserve(booking.ID, schedule.KindBooking, iv)
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	if conflictErr != nil {
		return Booking{}, conflictErr
	}

	persisted, err := s.bookings.CreateBooking(ctx, booking)
	if err != nil {
		s.registry.Release(booking.ResourceID, booking.ID, iv)
		return Booking{}, mapRepoError(err)
	}

	emit(ctx, s.emitter, Intent{
		ID:          s.idGenerator(),
		Kind:        IntentBookingCreated,
		BookingID:   persisted.ID,
		ResourceID:  persisted.ResourceID,
		RecipientID: persisted.RequesterID,
		OccurredAt:  now,
	})
	if needsApproval {
		if _, _, err := s.approvals.Begin(ctx, persisted, resource); err != nil {
			serviceLogger(ctx, s.logger, "bookings", "create_from_offer").
				ErrorContext(ctx, "failed to open approval chain", "booking_id", persisted.ID, "error", err)
		}
	} else {
		emit(ctx, s.emitter, Intent{
			ID:          s.idGenerator(),
			Kind:        IntentBookingConfirmed,
			BookingID:   persisted.ID,
			ResourceID:  persisted.ResourceID,
			RecipientID: persisted.RequesterID,
			OccurredAt:  now,
		})
	}
	return persisted, nil
}

// CompleteElapsed sweeps bookings past their scheduled times: checked-in
// sessions past their end are checked out, confirmed sessions past their end
// complete or become no-shows, and confirmed sessions on check-in-required
// resources that missed the grace window become no-shows immediately.
func (s *BookingService) CompleteElapsed(ctx context.Context) error {
	now := s.clock.Now()
	log := serviceLogger(ctx, s.logger, "bookings", "complete_elapsed")

	candidates, err := s.bookings.ListBookings(ctx, BookingFilter{
		Statuses:     []BookingStatus{StatusConfirmed, StatusCheckedIn},
		StartsBefore: &now,
	})
	if err != nil {
		return mapRepoError(err)
	}

	requiresCheckIn := make(map[string]bool)
	for _, booking := range candidates {
		need, known := requiresCheckIn[booking.ResourceID]
		if !known {
			resource, err := s.resources.GetResource(ctx, booking.ResourceID)
			if err != nil {
				log.WarnContext(ctx, "skipping booking with unknown resource", "booking_id", booking.ID, "error", err)
				continue
			}
			need = resource.RequiresCheckIn
			requiresCheckIn[booking.ResourceID] = need
		}

		switch {
		case booking.Status == StatusCheckedIn && !now.Before(booking.End):
			s.sweepTransition(ctx, booking, StatusCheckedOut, IntentBookingCompleted, now, false)
		case booking.Status == StatusConfirmed && !now.Before(booking.End):
			if need && booking.CheckedInAt == nil {
				s.sweepTransition(ctx, booking, StatusNoShow, IntentBookingNoShow, now, false)
			} else {
				s.sweepTransition(ctx, booking, StatusCompleted, IntentBookingCompleted, now, false)
			}
		case booking.Status == StatusConfirmed && need && booking.CheckedInAt == nil && now.After(booking.Start.Add(s.checkInGrace)):
			s.sweepTransition(ctx, booking, StatusNoShow, IntentBookingNoShow, now, true)
		}
	}
	return nil
}

// sweepTransition applies one sweep outcome. A version mismatch means a
// concurrent actor already moved the booking, so the sweep skips it.
func (s *BookingService) sweepTransition(ctx context.Context, booking Booking, next BookingStatus, kind IntentKind, now time.Time, freesCapacity bool) {
	log := serviceLogger(ctx, s.logger, "bookings", "complete_elapsed", "booking_id", booking.ID)

	booking.Status = next
	booking.UpdatedAt = now
	if next == StatusCheckedOut {
		end := booking.End
		booking.CheckedOutAt = &end
	}
	updated, err := s.bookings.UpdateBooking(ctx, booking)
	if err != nil {
		if mapped := mapRepoError(err); errors.Is(mapped, ErrVersionMismatch) {
			return
		}
		log.ErrorContext(ctx, "failed to apply sweep transition", "next", next, "error", err)
		return
	}

	s.registry.Release(updated.ResourceID, updated.ID, updated.Interval())
	emit(ctx, s.emitter, Intent{
		ID:          s.idGenerator(),
		Kind:        kind,
		BookingID:   updated.ID,
		ResourceID:  updated.ResourceID,
		RecipientID: updated.RequesterID,
		OccurredAt:  now,
	})
	if freesCapacity && now.Before(updated.End) {
		s.capacityFreed(ctx, updated.ResourceID, schedule.Interval{Start: now, End: updated.End})
	}
}

// ExpireApprovals sweeps overdue approval steps and applies the resulting
// chain outcomes to their bookings.
func (s *BookingService) ExpireApprovals(ctx context.Context) error {
	due, err := s.approvals.ListDueSteps(ctx)
	if err != nil {
		return err
	}
	log := serviceLogger(ctx, s.logger, "bookings", "expire_approvals")

	for _, step := range due {
		result, err := s.approvals.ExpireStep(ctx, step.ID)
		if err != nil {
			log.ErrorContext(ctx, "failed to expire approval step", "step_id", step.ID, "error", err)
			continue
		}
		if result.NoOp || result.Outcome != ChainRejected {
			continue
		}
		booking, err := s.bookings.GetBooking(ctx, step.BookingID)
		if err != nil {
			log.ErrorContext(ctx, "failed to load booking for expired step", "step_id", step.ID, "error", err)
			continue
		}
		if booking.Status != StatusAwaitingApproval {
			continue
		}
		if _, err := s.applyChainOutcome(ctx, booking, ChainRejected); err != nil {
			log.ErrorContext(ctx, "failed to reject booking after deadline", "booking_id", booking.ID, "error", err)
		}
	}
	return nil
}

// CloseResource deactivates a resource, cancels its future occupying
// bookings and resolves its waiting-list entries. Admin only.
func (s *BookingService) CloseResource(ctx context.Context, resourceID string, principal Principal) (Resource, error) {
	if !principal.IsAdmin {
		return Resource{}, ErrUnauthorized
	}
	resource, err := s.resources.GetResource(ctx, resourceID)
	if err != nil {
		return Resource{}, mapRepoError(err)
	}
	now := s.clock.Now()
	resource.Active = false
	resource.UpdatedAt = now
	resource, err = s.resources.UpdateResource(ctx, resource)
	if err != nil {
		return Resource{}, mapRepoError(err)
	}

	log := serviceLogger(ctx, s.logger, "bookings", "close_resource", "resource_id", resourceID)
	future, err := s.bookings.ListBookings(ctx, BookingFilter{
		ResourceID: resourceID,
		Statuses:   []BookingStatus{StatusPending, StatusAwaitingApproval, StatusConfirmed},
		EndsAfter:  &now,
	})
	if err != nil {
		return Resource{}, mapRepoError(err)
	}
	for _, booking := range future {
		booking.Status = StatusCancelled
		booking.UpdatedAt = now
		updated, err := s.bookings.UpdateBooking(ctx, booking)
		if err != nil {
			log.ErrorContext(ctx, "failed to cancel booking on closed resource", "booking_id", booking.ID, "error", err)
			continue
		}
		s.registry.Release(updated.ResourceID, updated.ID, updated.Interval())
		emit(ctx, s.emitter, Intent{
			ID:          s.idGenerator(),
			Kind:        IntentBookingCancelled,
			BookingID:   updated.ID,
			ResourceID:  updated.ResourceID,
			RecipientID: updated.RequesterID,
			OccurredAt:  now,
			Detail:      "resource closed",
		})
	}
	// Nobody waiting can ever be served on a closed resource.
	if s.listener != nil {
		s.listener.OnResourceClosed(ctx, resourceID)
	}
	return resource, nil
}

func (s *BookingService) capacityFreed(ctx context.Context, resourceID string, freed schedule.Interval) {
	if s.listener == nil || !freed.IsValid() {
		return
	}
	s.listener.OnCapacityFreed(ctx, resourceID, freed)
}
