package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/lab-booking/internal/clock"
	"github.com/example/lab-booking/internal/schedule"
)

// BookingCreator is the lifecycle collaborator the waiting-list matcher uses
// to materialize an accepted offer as a real booking.
type BookingCreator interface {
	CreateFromOffer(ctx context.Context, entry WaitingListEntry, iv schedule.Interval) (Booking, error)
}

// WaitlistService matches freed capacity to waiting-list entries in strict
// registration order. Offers are exclusive and time-boxed: while one entry
// holds an unexpired offer on a slot, nobody else is offered that slot.
type WaitlistService struct {
	entries     WaitlistRepository
	creator     BookingCreator
	emitter     IntentEmitter
	idGenerator func() string
	clock       clock.Clock
	offerWindow time.Duration
	logger      *slog.Logger
}

// NewWaitlistService wires dependencies for waiting-list operations.
func NewWaitlistService(
	entries WaitlistRepository,
	creator BookingCreator,
	emitter IntentEmitter,
	idGenerator func() string,
	clk clock.Clock,
	offerWindow time.Duration,
	logger *slog.Logger,
) *WaitlistService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &WaitlistService{
		entries:     entries,
		creator:     creator,
		emitter:     emitter,
		idGenerator: idGenerator,
		clock:       clk,
		offerWindow: offerWindow,
		logger:      defaultLogger(logger),
	}
}

// Join registers interest in freed capacity on a resource.
func (s *WaitlistService) Join(ctx context.Context, params JoinWaitlistParams) (WaitingListEntry, error) {
	now := s.clock.Now()
	vErr := &ValidationError{}
	if params.ResourceID == "" {
		vErr.add("resource_id", "resource is required")
	}
	window := schedule.Interval{Start: params.WindowStart, End: params.WindowEnd}
	if !window.IsValid() {
		vErr.add("window_end", "window end must be after window start")
	} else {
		if params.WindowEnd.Before(now) {
			vErr.add("window_end", "window must not lie entirely in the past")
		}
		if params.MinDuration <= 0 {
			vErr.add("min_duration", "minimum duration must be positive")
		} else if params.MinDuration > window.Duration() {
			vErr.add("min_duration", "minimum duration exceeds the desired window")
		}
	}
	if vErr.HasErrors() {
		return WaitingListEntry{}, vErr
	}

	entry := WaitingListEntry{
		ID:           s.idGenerator(),
		ResourceID:   params.ResourceID,
		RequesterID:  params.Principal.UserID,
		WindowStart:  params.WindowStart,
		WindowEnd:    params.WindowEnd,
		MinDuration:  params.MinDuration,
		Status:       WaitlistWaiting,
		RegisteredAt: now,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := s.entries.CreateEntry(ctx, entry)
	if err != nil {
		return WaitingListEntry{}, mapRepoError(err)
	}
	return created, nil
}

// Get returns a waiting-list entry visible to its owner or an admin.
func (s *WaitlistService) Get(ctx context.Context, id string, principal Principal) (WaitingListEntry, error) {
	entry, err := s.entries.GetEntry(ctx, id)
	if err != nil {
		return WaitingListEntry{}, mapRepoError(err)
	}
	if entry.RequesterID != principal.UserID && !principal.IsAdmin {
		return WaitingListEntry{}, ErrUnauthorized
	}
	return entry, nil
}

// OnCapacityFreed offers a freed slot to the first waiting entry it can
// satisfy. Nothing happens when an unexpired offer already covers the slot,
// or when no waiting entry fits.
func (s *WaitlistService) OnCapacityFreed(ctx context.Context, resourceID string, freed schedule.Interval) {
	now := s.clock.Now()
	log := serviceLogger(ctx, s.logger, "waitlist", "match", "resource_id", resourceID)

	offers, err := s.entries.ListActiveOffers(ctx, resourceID)
	if err != nil {
		log.ErrorContext(ctx, "failed to list active offers", "error", err)
		return
	}
	for _, offer := range offers {
		iv, ok := offer.OfferInterval()
		if ok && !offer.OfferExpired(now) && iv.Overlaps(freed) {
			return
		}
	}

	waiting, err := s.entries.ListWaiting(ctx, resourceID)
	if err != nil {
		log.ErrorContext(ctx, "failed to list waiting entries", "error", err)
		return
	}
	for _, entry := range waiting {
		slot, ok := s.fit(entry, freed, now)
		if !ok {
			continue
		}
		expiresAt := now.Add(s.offerWindow)
		entry.Status = WaitlistOffered
		entry.OfferStart = &slot.Start
		entry.OfferEnd = &slot.End
		entry.OfferExpiresAt = &expiresAt
		entry.UpdatedAt = now
		updated, err := s.entries.UpdateEntry(ctx, entry)
		if err != nil {
			if errors.Is(mapRepoError(err), ErrVersionMismatch) {
				continue
			}
			log.ErrorContext(ctx, "failed to record offer", "entry_id", entry.ID, "error", err)
			return
		}

		emit(ctx, s.emitter, Intent{
			ID:          s.idGenerator(),
			Kind:        IntentOfferMade,
			EntryID:     updated.ID,
			ResourceID:  updated.ResourceID,
			RecipientID: updated.RequesterID,
			OccurredAt:  now,
		})
		log.InfoContext(ctx, "slot offered", "entry_id", updated.ID,
			"offer_start", slot.Start, "offer_end", slot.End, "offer_expires_at", expiresAt)
		return
	}
}

// OnResourceClosed resolves every waiting or offered entry for a resource
// that was closed. The holders are notified once; a closed entry is terminal.
func (s *WaitlistService) OnResourceClosed(ctx context.Context, resourceID string) {
	now := s.clock.Now()
	log := serviceLogger(ctx, s.logger, "waitlist", "close_queue", "resource_id", resourceID)

	offers, err := s.entries.ListActiveOffers(ctx, resourceID)
	if err != nil {
		log.ErrorContext(ctx, "failed to list active offers", "error", err)
		return
	}
	waiting, err := s.entries.ListWaiting(ctx, resourceID)
	if err != nil {
		log.ErrorContext(ctx, "failed to list waiting entries", "error", err)
		return
	}

	for _, entry := range append(offers, waiting...) {
		entry.Status = WaitlistClosed
		entry.OfferStart = nil
		entry.OfferEnd = nil
		entry.OfferExpiresAt = nil
		entry.UpdatedAt = now
		updated, err := s.entries.UpdateEntry(ctx, entry)
		if err != nil {
			if errors.Is(mapRepoError(err), ErrVersionMismatch) {
				continue
			}
			log.ErrorContext(ctx, "failed to close entry", "entry_id", entry.ID, "error", err)
			continue
		}
		emit(ctx, s.emitter, Intent{
			ID:          s.idGenerator(),
			Kind:        IntentWaitlistClosed,
			EntryID:     updated.ID,
			ResourceID:  updated.ResourceID,
			RecipientID: updated.RequesterID,
			OccurredAt:  now,
			Detail:      "resource closed",
		})
	}
}

// fit computes the offerable slot for an entry against freed capacity: the
// portion of the freed interval inside the entry's window, no shorter than
// the entry's minimum duration and never starting in the past.
func (s *WaitlistService) fit(entry WaitingListEntry, freed schedule.Interval, now time.Time) (schedule.Interval, bool) {
	slot, ok := freed.Intersect(entry.Window())
	if !ok {
		return schedule.Interval{}, false
	}
	if slot.Start.Before(now) {
		slot.Start = now
	}
	if !slot.IsValid() || slot.Duration() < entry.MinDuration {
		return schedule.Interval{}, false
	}
	return slot, true
}

// Accept converts a held offer into a booking. Acceptance at or after the
// expiry instant fails with ErrOfferExpired and cascades the slot onward; a
// slot taken in the meantime returns the conflict and re-queues the entry.
// The offer is claimed with a versioned write before the booking is created,
// so exactly one of an accept and a concurrent expiry sweep takes effect.
func (s *WaitlistService) Accept(ctx context.Context, entryID string, principal Principal) (Booking, WaitingListEntry, error) {
	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return Booking{}, WaitingListEntry{}, mapRepoError(err)
	}
	if entry.RequesterID != principal.UserID && !principal.IsAdmin {
		return Booking{}, WaitingListEntry{}, ErrUnauthorized
	}
	if entry.Status != WaitlistOffered {
		return Booking{}, WaitingListEntry{}, &StateError{Entity: "waitlist entry", ID: entry.ID, Operation: "accept", Status: string(entry.Status)}
	}

	now := s.clock.Now()
	if entry.OfferExpired(now) {
		s.expireEntry(ctx, entry, now)
		return Booking{}, WaitingListEntry{}, ErrOfferExpired
	}
	slot, ok := entry.OfferInterval()
	if !ok {
		return Booking{}, WaitingListEntry{}, &StateError{Entity: "waitlist entry", ID: entry.ID, Operation: "accept", Status: "offer missing interval"}
	}

	entry.Status = WaitlistAccepted
	entry.UpdatedAt = now
	claimed, err := s.entries.UpdateEntry(ctx, entry)
	if err != nil {
		mapped := mapRepoError(err)
		if !errors.Is(mapped, ErrVersionMismatch) {
			return Booking{}, WaitingListEntry{}, mapped
		}
		// Lost the claim, typically to the expiry sweep. Report what won.
		current, getErr := s.entries.GetEntry(ctx, entryID)
		if getErr != nil {
			return Booking{}, WaitingListEntry{}, mapRepoError(getErr)
		}
		if current.Status == WaitlistExpired {
			return Booking{}, WaitingListEntry{}, ErrOfferExpired
		}
		return Booking{}, WaitingListEntry{}, &StateError{Entity: "waitlist entry", ID: current.ID, Operation: "accept", Status: string(current.Status)}
	}

	booking, err := s.creator.CreateFromOffer(ctx, claimed, slot)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.requeue(ctx, claimed, now)
		} else {
			s.restoreOffer(ctx, claimed, now)
		}
		return Booking{}, WaitingListEntry{}, err
	}

	emit(ctx, s.emitter, Intent{
		ID:          s.idGenerator(),
		Kind:        IntentOfferAccepted,
		EntryID:     claimed.ID,
		BookingID:   booking.ID,
		ResourceID:  claimed.ResourceID,
		RecipientID: claimed.RequesterID,
		OccurredAt:  now,
	})
	return booking, claimed, nil
}

// Decline releases a held offer and cascades the slot to the next entry.
func (s *WaitlistService) Decline(ctx context.Context, entryID string, principal Principal) (WaitingListEntry, error) {
	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return WaitingListEntry{}, mapRepoError(err)
	}
	if entry.RequesterID != principal.UserID && !principal.IsAdmin {
		return WaitingListEntry{}, ErrUnauthorized
	}
	if entry.Status != WaitlistOffered {
		return WaitingListEntry{}, &StateError{Entity: "waitlist entry", ID: entry.ID, Operation: "decline", Status: string(entry.Status)}
	}

	now := s.clock.Now()
	updated, ok := s.expireEntry(ctx, entry, now)
	if !ok {
		return WaitingListEntry{}, ErrVersionMismatch
	}
	return updated, nil
}

// Withdraw removes an entry from the waiting list. A withdrawn offer's slot
// cascades to the next entry.
func (s *WaitlistService) Withdraw(ctx context.Context, entryID string, principal Principal) (WaitingListEntry, error) {
	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return WaitingListEntry{}, mapRepoError(err)
	}
	if entry.RequesterID != principal.UserID && !principal.IsAdmin {
		return WaitingListEntry{}, ErrUnauthorized
	}
	if entry.Status != WaitlistWaiting && entry.Status != WaitlistOffered {
		return WaitingListEntry{}, &StateError{Entity: "waitlist entry", ID: entry.ID, Operation: "withdraw", Status: string(entry.Status)}
	}

	now := s.clock.Now()
	slot, hadOffer := entry.OfferInterval()
	hadOffer = hadOffer && entry.Status == WaitlistOffered

	entry.Status = WaitlistWithdrawn
	entry.UpdatedAt = now
	updated, err := s.entries.UpdateEntry(ctx, entry)
	if err != nil {
		return WaitingListEntry{}, mapRepoError(err)
	}
	if hadOffer {
		s.OnCapacityFreed(ctx, updated.ResourceID, slot)
	}
	return updated, nil
}

// ExpireOffers sweeps offers past their expiry instant. Each expiry cascades
// the slot to the next waiting entry, so a chain of expired offers walks the
// queue in order.
func (s *WaitlistService) ExpireOffers(ctx context.Context) error {
	now := s.clock.Now()
	due, err := s.entries.ListOffersExpiringBy(ctx, now)
	if err != nil {
		return mapRepoError(err)
	}
	for _, entry := range due {
		if !entry.OfferExpired(now) {
			continue
		}
		s.expireEntry(ctx, entry, now)
	}
	return nil
}

// expireEntry marks an offered entry expired and cascades its slot onward.
// A version mismatch means the holder raced the expiry, typically with an
// accept; the entry is left alone.
func (s *WaitlistService) expireEntry(ctx context.Context, entry WaitingListEntry, now time.Time) (WaitingListEntry, bool) {
	slot, hadOffer := entry.OfferInterval()

	entry.Status = WaitlistExpired
	entry.UpdatedAt = now
	updated, err := s.entries.UpdateEntry(ctx, entry)
	if err != nil {
		mapped := mapRepoError(err)
		if !errors.Is(mapped, ErrVersionMismatch) {
			serviceLogger(ctx, s.logger, "waitlist", "expire_offer", "entry_id", entry.ID).
				ErrorContext(ctx, "failed to expire offer", "error", err)
		}
		return WaitingListEntry{}, false
	}

	emit(ctx, s.emitter, Intent{
		ID:          s.idGenerator(),
		Kind:        IntentOfferExpired,
		EntryID:     updated.ID,
		ResourceID:  updated.ResourceID,
		RecipientID: updated.RequesterID,
		OccurredAt:  now,
	})
	if hadOffer {
		s.OnCapacityFreed(ctx, updated.ResourceID, slot)
	}
	return updated, true
}

// restoreOffer puts a claimed entry back into the offered state after a
// booking creation failure that was not a conflict. The offer fields were
// never cleared, so the holder keeps the original expiry instant.
func (s *WaitlistService) restoreOffer(ctx context.Context, entry WaitingListEntry, now time.Time) {
	entry.Status = WaitlistOffered
	entry.UpdatedAt = now
	if _, err := s.entries.UpdateEntry(ctx, entry); err != nil {
		serviceLogger(ctx, s.logger, "waitlist", "restore_offer", "entry_id", entry.ID).
			ErrorContext(ctx, "failed to restore offer after booking failure", "error", err)
	}
}

// requeue returns an entry whose accepted slot was lost to a conflict back
// to the waiting state, preserving its original queue position.
func (s *WaitlistService) requeue(ctx context.Context, entry WaitingListEntry, now time.Time) {
	entry.Status = WaitlistWaiting
	entry.OfferStart = nil
	entry.OfferEnd = nil
	entry.OfferExpiresAt = nil
	entry.UpdatedAt = now
	if _, err := s.entries.UpdateEntry(ctx, entry); err != nil {
		serviceLogger(ctx, s.logger, "waitlist", "requeue", "entry_id", entry.ID).
			ErrorContext(ctx, "failed to requeue entry after conflict", "error", err)
	}
}
