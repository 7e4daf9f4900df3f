package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/lab-booking/internal/schedule"
)

func TestBookingService_Submit_ConfirmsWithoutRules(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1"})

	result, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("alice"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(11, 0)},
		Origin:    OriginSelfService,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(result.Bookings) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(result.Bookings))
	}
	booking := result.Bookings[0]
	if booking.Status != StatusConfirmed {
		t.Errorf("status = %s, want %s", booking.Status, StatusConfirmed)
	}
	if len(result.Steps) != 0 {
		t.Errorf("expected no approval steps, got %d", len(result.Steps))
	}
	if got := env.emitter.byKind(IntentBookingConfirmed); len(got) != 1 {
		t.Errorf("expected 1 confirmed intent, got %d", len(got))
	}
}

func TestBookingService_Submit_RejectsOverlap(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1"})

	if _, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("alice"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(11, 0)},
		Origin:    OriginSelfService,
	}); err != nil {
		t.Fatalf("first Submit returned error: %v", err)
	}

	_, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("bob"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 30), End: env.at(11, 30)},
		Origin:    OriginSelfService,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected *ConflictError, got %T", err)
	}
	if !conflictErr.Conflict.Interval.Start.Equal(env.at(10, 0)) {
		t.Errorf("conflicting interval start = %v, want %v", conflictErr.Conflict.Interval.Start, env.at(10, 0))
	}
}

func TestBookingService_Submit_BackToBackNeverConflicts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1"})

	for _, window := range [][2]time.Time{
		{env.at(10, 0), env.at(11, 0)},
		{env.at(11, 0), env.at(12, 0)},
		{env.at(9, 0), env.at(10, 0)},
	} {
		if _, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
			Principal: requester("alice"),
			Input:     BookingInput{ResourceID: res.ID, Start: window[0], End: window[1]},
			Origin:    OriginSelfService,
		}); err != nil {
			t.Fatalf("Submit(%v) returned error: %v", window[0], err)
		}
	}
}

func TestBookingService_Submit_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedResource(t, Resource{ID: "lab-1"})

	cases := []struct {
		name  string
		input BookingInput
		field string
	}{
		{"missing resource", BookingInput{Start: env.at(10, 0), End: env.at(11, 0)}, "resource_id"},
		{"end before start", BookingInput{ResourceID: "lab-1", Start: env.at(11, 0), End: env.at(10, 0)}, "end"},
		{"zero duration", BookingInput{ResourceID: "lab-1", Start: env.at(10, 0), End: env.at(10, 0)}, "end"},
		{"start in past", BookingInput{ResourceID: "lab-1", Start: env.at(7, 0), End: env.at(9, 0)}, "start"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
				Principal: requester("alice"),
				Input:     tc.input,
				Origin:    OriginSelfService,
			})
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := vErr.FieldErrors[tc.field]; !ok {
				t.Errorf("expected field %q in %v", tc.field, vErr.FieldErrors)
			}
		})
	}
}

func TestBookingService_Submit_RecurringPartialSuccess(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1"})

	// Occupy the third day's slot so one instance of the series loses.
	blocker := time.Date(2025, 6, 4, 10, 30, 0, 0, time.UTC)
	if _, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("bob"),
		Input:     BookingInput{ResourceID: res.ID, Start: blocker, End: blocker.Add(time.Hour)},
		Origin:    OriginSelfService,
	}); err != nil {
		t.Fatalf("blocker Submit returned error: %v", err)
	}

	result, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("alice"),
		Input: BookingInput{
			ResourceID: res.ID,
			Start:      env.at(10, 0),
			End:        env.at(11, 0),
			Recurrence: &RecurrenceInput{Frequency: "daily", Interval: 1, Count: 4},
		},
		Origin: OriginSelfService,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(result.Bookings) != 3 {
		t.Fatalf("expected 3 created instances, got %d", len(result.Bookings))
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("expected 1 rejected instance, got %d", len(result.Rejected))
	}
	rej := result.Rejected[0]
	if !rej.Start.Equal(time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("rejected start = %v", rej.Start)
	}
	if rej.ConflictWith == nil || !rej.ConflictWith.Start.Equal(blocker) {
		t.Errorf("rejected conflict = %+v, want blocker interval", rej.ConflictWith)
	}

	seriesID := result.Bookings[0].SeriesID
	if seriesID == nil {
		t.Fatal("expected a series ID on recurring bookings")
	}
	for _, booking := range result.Bookings {
		if booking.SeriesID == nil || *booking.SeriesID != *seriesID {
			t.Errorf("booking %s does not share series ID", booking.ID)
		}
	}
}

func TestBookingService_Submit_MatchingRuleRequiresApproval(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1", RiskTier: 2})
	env.seedRule(t, ApprovalRule{ID: "r1", Priority: 10, MinRiskTier: 2, Role: "technician"})

	result, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("alice"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(11, 0)},
		Origin:    OriginSelfService,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	booking := result.Bookings[0]
	if booking.Status != StatusAwaitingApproval {
		t.Fatalf("status = %s, want %s", booking.Status, StatusAwaitingApproval)
	}
	if len(result.Steps) != 1 || result.Steps[0].Role != "technician" {
		t.Fatalf("steps = %+v, want one technician step", result.Steps)
	}
	if got := env.emitter.byKind(IntentApprovalStepPending); len(got) != 1 {
		t.Errorf("expected 1 pending-step intent, got %d", len(got))
	}

	// An awaiting booking already occupies its slot.
	_, err = env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("bob"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(11, 0)},
		Origin:    OriginSelfService,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict against awaiting booking, got %v", err)
	}
}

func TestBookingService_Submit_InactiveResource(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1"})
	res.Active = false
	if _, err := env.store.UpdateResource(context.Background(), res); err != nil {
		t.Fatalf("deactivate resource: %v", err)
	}

	_, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("alice"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(11, 0)},
		Origin:    OriginSelfService,
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestBookingService_Cancel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1"})

	result, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("alice"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(11, 0)},
		Origin:    OriginSelfService,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	booking := result.Bookings[0]

	if _, err := env.bookings.Cancel(context.Background(), booking.ID, requester("mallory")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for stranger, got %v", err)
	}

	cancelled, err := env.bookings.Cancel(context.Background(), booking.ID, requester("alice"))
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", cancelled.Status, StatusCancelled)
	}
	if _, err := env.bookings.Cancel(context.Background(), booking.ID, requester("alice")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected invalid state on double cancel, got %v", err)
	}

	// The slot is free again.
	if _, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("bob"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(11, 0)},
		Origin:    OriginSelfService,
	}); err != nil {
		t.Fatalf("rebooking freed slot failed: %v", err)
	}
}

func TestBookingService_Cancel_OffersFreedSlot(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1"})

	result, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("alice"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(12, 0)},
		Origin:    OriginSelfService,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	entry, err := env.waitlist.Join(context.Background(), JoinWaitlistParams{
		Principal:   requester("bob"),
		ResourceID:  res.ID,
		WindowStart: env.at(9, 0),
		WindowEnd:   env.at(13, 0),
		MinDuration: time.Hour,
	})
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	if _, err := env.bookings.Cancel(context.Background(), result.Bookings[0].ID, requester("alice")); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	offered, err := env.store.GetEntry(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetEntry returned error: %v", err)
	}
	if offered.Status != WaitlistOffered {
		t.Fatalf("entry status = %s, want %s", offered.Status, WaitlistOffered)
	}
	if offered.OfferStart == nil || !offered.OfferStart.Equal(env.at(10, 0)) {
		t.Errorf("offer start = %v, want %v", offered.OfferStart, env.at(10, 0))
	}
}

func TestBookingService_CheckInAndOut(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1", RequiresCheckIn: true})

	result, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("alice"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(12, 0)},
		Origin:    OriginSelfService,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	booking := result.Bookings[0]

	// Too early: more than one grace period before the start.
	env.clock.Set(env.at(9, 30))
	if _, err := env.bookings.CheckIn(context.Background(), booking.ID, requester("alice")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state before window, got %v", err)
	}

	env.clock.Set(env.at(9, 50))
	checkedIn, err := env.bookings.CheckIn(context.Background(), booking.ID, requester("alice"))
	if err != nil {
		t.Fatalf("CheckIn returned error: %v", err)
	}
	if checkedIn.Status != StatusCheckedIn || checkedIn.CheckedInAt == nil {
		t.Fatalf("unexpected checked-in booking: %+v", checkedIn)
	}

	// Early checkout frees the remainder for others.
	env.clock.Set(env.at(11, 0))
	checkedOut, err := env.bookings.CheckOut(context.Background(), booking.ID, requester("alice"))
	if err != nil {
		t.Fatalf("CheckOut returned error: %v", err)
	}
	if checkedOut.Status != StatusCheckedOut {
		t.Errorf("status = %s, want %s", checkedOut.Status, StatusCheckedOut)
	}
	if _, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("bob"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(11, 0), End: env.at(12, 0)},
		Origin:    OriginSelfService,
	}); err != nil {
		t.Fatalf("rebooking released remainder failed: %v", err)
	}
}

func TestBookingService_CompleteElapsed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	plain := env.seedResource(t, Resource{ID: "plain"})
	gated := env.seedResource(t, Resource{ID: "gated", RequiresCheckIn: true})

	submit := func(resID string, requesterID string) Booking {
		t.Helper()
		result, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
			Principal: requester(requesterID),
			Input:     BookingInput{ResourceID: resID, Start: env.at(10, 0), End: env.at(11, 0)},
			Origin:    OriginSelfService,
		})
		if err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
		return result.Bookings[0]
	}
	completed := submit(plain.ID, "alice")
	noShow := submit(gated.ID, "bob")

	// Past the grace window the unattended check-in booking is a no-show.
	env.clock.Set(env.at(10, 20))
	if err := env.bookings.CompleteElapsed(context.Background()); err != nil {
		t.Fatalf("CompleteElapsed returned error: %v", err)
	}
	got, _ := env.store.GetBooking(context.Background(), noShow.ID)
	if got.Status != StatusNoShow {
		t.Fatalf("gated booking status = %s, want %s", got.Status, StatusNoShow)
	}
	got, _ = env.store.GetBooking(context.Background(), completed.ID)
	if got.Status != StatusConfirmed {
		t.Fatalf("plain booking swept early, status = %s", got.Status)
	}

	env.clock.Set(env.at(11, 30))
	if err := env.bookings.CompleteElapsed(context.Background()); err != nil {
		t.Fatalf("CompleteElapsed returned error: %v", err)
	}
	got, _ = env.store.GetBooking(context.Background(), completed.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("plain booking status = %s, want %s", got.Status, StatusCompleted)
	}
}

func TestBookingService_CloseResource(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1"})

	result, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: requester("alice"),
		Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(11, 0)},
		Origin:    OriginSelfService,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	offered := joinEntry(t, env, "bob", env.at(9, 0), env.at(13, 0), time.Hour)
	env.clock.Advance(time.Minute)
	waiting := joinEntry(t, env, "carol", env.at(9, 0), env.at(13, 0), time.Hour)
	env.waitlist.OnCapacityFreed(context.Background(), res.ID, schedule.Interval{Start: env.at(11, 0), End: env.at(12, 0)})

	if _, err := env.bookings.CloseResource(context.Background(), res.ID, requester("alice")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for non-admin, got %v", err)
	}

	closed, err := env.bookings.CloseResource(context.Background(), res.ID, adminPrincipal)
	if err != nil {
		t.Fatalf("CloseResource returned error: %v", err)
	}
	if closed.Active {
		t.Error("resource still active after close")
	}
	got, _ := env.store.GetBooking(context.Background(), result.Bookings[0].ID)
	if got.Status != StatusCancelled {
		t.Errorf("booking status = %s, want %s", got.Status, StatusCancelled)
	}

	// Every queued entry is resolved and told why; none stays waiting.
	if status := entryStatus(t, env, offered.ID); status != WaitlistClosed {
		t.Errorf("offered entry status = %s, want %s", status, WaitlistClosed)
	}
	if status := entryStatus(t, env, waiting.ID); status != WaitlistClosed {
		t.Errorf("waiting entry status = %s, want %s", status, WaitlistClosed)
	}
	if intents := env.emitter.byKind(IntentWaitlistClosed); len(intents) != 2 {
		t.Errorf("expected 2 queue-closed intents, got %d", len(intents))
	}
}

func TestBookingService_ConcurrentSubmissionsSingleWinner(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.seedResource(t, Resource{ID: "lab-1"})

	const contenders = 32
	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
				Principal: requester("user-" + string(rune('a'+i%26))),
				Input:     BookingInput{ResourceID: res.ID, Start: env.at(10, 0), End: env.at(11, 0)},
				Origin:    OriginSelfService,
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
		default:
			t.Fatalf("submission %d failed unexpectedly: %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
}
