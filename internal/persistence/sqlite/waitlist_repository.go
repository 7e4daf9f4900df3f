package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/lab-booking/internal/application"
	"github.com/example/lab-booking/internal/persistence"
)

// WaitlistRepository implements application.WaitlistRepository.
type WaitlistRepository struct {
	pool *ConnectionPool
}

// NewWaitlistRepository creates a SQLite waiting-list repository.
func NewWaitlistRepository(pool *ConnectionPool) *WaitlistRepository {
	return &WaitlistRepository{pool: pool}
}

const entryColumns = `id, resource_id, requester_id, window_start, window_end,
	min_duration_seconds, status, registered_at, offer_start, offer_end,
	offer_expires_at, version, created_at, updated_at`

// CreateEntry inserts a waiting-list entry.
func (r *WaitlistRepository) CreateEntry(ctx context.Context, entry application.WaitingListEntry) (application.WaitingListEntry, error) {
	query := `
		INSERT INTO waitlist_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.pool.db.ExecContext(ctx, query,
		entry.ID,
		entry.ResourceID,
		entry.RequesterID,
		formatTime(entry.WindowStart),
		formatTime(entry.WindowEnd),
		int64(entry.MinDuration/time.Second),
		string(entry.Status),
		formatTime(entry.RegisteredAt),
		formatTimePtr(entry.OfferStart),
		formatTimePtr(entry.OfferEnd),
		formatTimePtr(entry.OfferExpiresAt),
		entry.Version,
		formatTime(entry.CreatedAt),
		formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return application.WaitingListEntry{}, mapError(err)
	}
	return entry, nil
}

// GetEntry retrieves an entry by ID.
func (r *WaitlistRepository) GetEntry(ctx context.Context, id string) (application.WaitingListEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE id = ?`
	return scanEntry(r.pool.db.QueryRowContext(ctx, query, id))
}

// UpdateEntry writes an entry under optimistic concurrency, so an accept and
// an expiry racing for the same offer cannot both win.
func (r *WaitlistRepository) UpdateEntry(ctx context.Context, entry application.WaitingListEntry) (application.WaitingListEntry, error) {
	query := `
		UPDATE waitlist_entries
		SET status = ?, offer_start = ?, offer_end = ?, offer_expires_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.pool.db.ExecContext(ctx, query,
		string(entry.Status),
		formatTimePtr(entry.OfferStart),
		formatTimePtr(entry.OfferEnd),
		formatTimePtr(entry.OfferExpiresAt),
		formatTime(entry.UpdatedAt),
		entry.ID,
		entry.Version,
	)
	if err != nil {
		return application.WaitingListEntry{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return application.WaitingListEntry{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetEntry(ctx, entry.ID); err != nil {
			return application.WaitingListEntry{}, err
		}
		return application.WaitingListEntry{}, persistence.ErrVersionMismatch
	}
	return r.GetEntry(ctx, entry.ID)
}

// ListWaiting returns a resource's waiting entries in registration order.
func (r *WaitlistRepository) ListWaiting(ctx context.Context, resourceID string) ([]application.WaitingListEntry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM waitlist_entries
		WHERE resource_id = ? AND status = ?
		ORDER BY registered_at ASC, id ASC
	`
	return r.listEntries(ctx, query, resourceID, string(application.WaitlistWaiting))
}

// ListActiveOffers returns a resource's entries currently holding an offer.
func (r *WaitlistRepository) ListActiveOffers(ctx context.Context, resourceID string) ([]application.WaitingListEntry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM waitlist_entries
		WHERE resource_id = ? AND status = ?
		ORDER BY registered_at ASC, id ASC
	`
	return r.listEntries(ctx, query, resourceID, string(application.WaitlistOffered))
}

// ListOffersExpiringBy returns offers whose expiry instant is at or before
// the given instant.
func (r *WaitlistRepository) ListOffersExpiringBy(ctx context.Context, deadline time.Time) ([]application.WaitingListEntry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM waitlist_entries
		WHERE status = ? AND offer_expires_at IS NOT NULL AND offer_expires_at <= ?
		ORDER BY offer_expires_at ASC, id ASC
	`
	return r.listEntries(ctx, query, string(application.WaitlistOffered), formatTime(deadline))
}

func (r *WaitlistRepository) listEntries(ctx context.Context, query string, args ...any) ([]application.WaitingListEntry, error) {
	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []application.WaitingListEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (application.WaitingListEntry, error) {
	var entry application.WaitingListEntry
	var windowStartStr, windowEndStr, registeredStr, createdStr, updatedStr string
	var status string
	var minDurationSeconds int64
	var offerStart, offerEnd, offerExpires sql.NullString

	err := row.Scan(
		&entry.ID,
		&entry.ResourceID,
		&entry.RequesterID,
		&windowStartStr,
		&windowEndStr,
		&minDurationSeconds,
		&status,
		&registeredStr,
		&offerStart,
		&offerEnd,
		&offerExpires,
		&entry.Version,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return application.WaitingListEntry{}, mapError(err)
	}

	entry.Status = application.WaitlistStatus(status)
	entry.MinDuration = time.Duration(minDurationSeconds) * time.Second
	if entry.WindowStart, err = parseTime(windowStartStr); err != nil {
		return application.WaitingListEntry{}, err
	}
	if entry.WindowEnd, err = parseTime(windowEndStr); err != nil {
		return application.WaitingListEntry{}, err
	}
	if entry.RegisteredAt, err = parseTime(registeredStr); err != nil {
		return application.WaitingListEntry{}, err
	}
	if entry.OfferStart, err = parseTimePtr(offerStart); err != nil {
		return application.WaitingListEntry{}, err
	}
	if entry.OfferEnd, err = parseTimePtr(offerEnd); err != nil {
		return application.WaitingListEntry{}, err
	}
	if entry.OfferExpiresAt, err = parseTimePtr(offerExpires); err != nil {
		return application.WaitingListEntry{}, err
	}
	if entry.CreatedAt, err = parseTime(createdStr); err != nil {
		return application.WaitingListEntry{}, err
	}
	if entry.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return application.WaitingListEntry{}, err
	}
	return entry, nil
}
