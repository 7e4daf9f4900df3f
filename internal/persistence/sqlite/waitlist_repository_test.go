package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/lab-booking/internal/application"
	"github.com/example/lab-booking/internal/persistence"
)

func TestWaitlistRepository_QueueOrderAndExpiry(t *testing.T) {
	t.Parallel()
	pool := openTestPool(t)
	res := seedTestResource(t, pool, "lab-1")
	repo := NewWaitlistRepository(pool)

	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	mk := func(id string, registered time.Duration) application.WaitingListEntry {
		return application.WaitingListEntry{
			ID:           id,
			ResourceID:   res.ID,
			RequesterID:  "user-" + id,
			WindowStart:  base.Add(time.Hour),
			WindowEnd:    base.Add(5 * time.Hour),
			MinDuration:  time.Hour,
			Status:       application.WaitlistWaiting,
			RegisteredAt: base.Add(registered),
			Version:      1,
			CreatedAt:    base,
			UpdatedAt:    base,
		}
	}
	// Inserted out of registration order on purpose.
	for _, entry := range []application.WaitingListEntry{mk("b", 2 * time.Minute), mk("a", time.Minute), mk("c", 3 * time.Minute)} {
		if _, err := repo.CreateEntry(context.Background(), entry); err != nil {
			t.Fatalf("CreateEntry(%s) returned error: %v", entry.ID, err)
		}
	}

	waiting, err := repo.ListWaiting(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("ListWaiting returned error: %v", err)
	}
	if len(waiting) != 3 || waiting[0].ID != "a" || waiting[1].ID != "b" || waiting[2].ID != "c" {
		t.Fatalf("queue order = %v, want a, b, c", ids(waiting))
	}

	// Promote the head to an offer and check the expiry scan picks it up.
	head := waiting[0]
	offerStart := base.Add(time.Hour)
	offerEnd := base.Add(2 * time.Hour)
	expiresAt := base.Add(30 * time.Minute)
	head.Status = application.WaitlistOffered
	head.OfferStart = &offerStart
	head.OfferEnd = &offerEnd
	head.OfferExpiresAt = &expiresAt
	head.UpdatedAt = base.Add(time.Minute)
	promoted, err := repo.UpdateEntry(context.Background(), head)
	if err != nil {
		t.Fatalf("UpdateEntry returned error: %v", err)
	}

	due, err := repo.ListOffersExpiringBy(context.Background(), expiresAt)
	if err != nil {
		t.Fatalf("ListOffersExpiringBy returned error: %v", err)
	}
	if len(due) != 1 || due[0].ID != "a" {
		t.Fatalf("due offers = %v, want only a", ids(due))
	}
	if due, _ = repo.ListOffersExpiringBy(context.Background(), expiresAt.Add(-time.Second)); len(due) != 0 {
		t.Fatalf("offer reported due before its expiry instant")
	}

	// A stale write against the promoted entry must lose.
	stale := head
	stale.Status = application.WaitlistAccepted
	if _, err := repo.UpdateEntry(context.Background(), stale); !errors.Is(err, persistence.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	got, _ := repo.GetEntry(context.Background(), promoted.ID)
	if got.Status != application.WaitlistOffered {
		t.Fatalf("status = %s, stale write must not apply", got.Status)
	}
}

func ids(entries []application.WaitingListEntry) []string {
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[i] = entry.ID
	}
	return out
}
