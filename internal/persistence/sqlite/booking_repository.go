package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/lab-booking/internal/application"
	"github.com/example/lab-booking/internal/persistence"
)

// BookingRepository implements application.BookingRepository.
type BookingRepository struct {
	pool *ConnectionPool
}

// NewBookingRepository creates a SQLite booking repository.
func NewBookingRepository(pool *ConnectionPool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

const bookingColumns = `id, resource_id, requester_id, start_at, end_at, status, origin,
	series_id, attendees, checked_in_at, checked_out_at, version, created_at, updated_at`

// CreateBooking inserts a single booking.
func (r *BookingRepository) CreateBooking(ctx context.Context, booking application.Booking) (application.Booking, error) {
	return booking, r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return insertBooking(tx, booking)
	})
}

// CreateBookings inserts a batch of bookings atomically: either the whole
// series lands or none of it does.
func (r *BookingRepository) CreateBookings(ctx context.Context, bookings []application.Booking) ([]application.Booking, error) {
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, booking := range bookings {
			if err := insertBooking(tx, booking); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

func insertBooking(tx *sql.Tx, booking application.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query,
		booking.ID,
		booking.ResourceID,
		booking.RequesterID,
		formatTime(booking.Start),
		formatTime(booking.End),
		string(booking.Status),
		string(booking.Origin),
		nullStringPtr(booking.SeriesID),
		joinList(booking.Attendees),
		formatTimePtr(booking.CheckedInAt),
		formatTimePtr(booking.CheckedOutAt),
		booking.Version,
		formatTime(booking.CreatedAt),
		formatTime(booking.UpdatedAt),
	)
	return mapError(err)
}

// GetBooking retrieves a booking by ID.
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (application.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	return scanBooking(r.pool.db.QueryRowContext(ctx, query, id))
}

// UpdateBooking writes a booking under optimistic concurrency. The update
// succeeds only when the stored version matches the version the caller read;
// a lost race surfaces as persistence.ErrVersionMismatch.
func (r *BookingRepository) UpdateBooking(ctx context.Context, booking application.Booking) (application.Booking, error) {
	query := `
		UPDATE bookings
		SET status = ?, attendees = ?, checked_in_at = ?, checked_out_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.pool.db.ExecContext(ctx, query,
		string(booking.Status),
		joinList(booking.Attendees),
		formatTimePtr(booking.CheckedInAt),
		formatTimePtr(booking.CheckedOutAt),
		formatTime(booking.UpdatedAt),
		booking.ID,
		booking.Version,
	)
	if err != nil {
		return application.Booking{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return application.Booking{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetBooking(ctx, booking.ID); err != nil {
			return application.Booking{}, err
		}
		return application.Booking{}, persistence.ErrVersionMismatch
	}
	return r.GetBooking(ctx, booking.ID)
}

// ListBookings returns bookings matching the filter, ordered by start time.
func (r *BookingRepository) ListBookings(ctx context.Context, filter application.BookingFilter) ([]application.Booking, error) {
	var conditions []string
	var args []any
	if filter.ResourceID != "" {
		conditions = append(conditions, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.RequesterID != "" {
		conditions = append(conditions, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if filter.SeriesID != "" {
		conditions = append(conditions, "series_id = ?")
		args = append(args, filter.SeriesID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.EndsAfter != nil {
		conditions = append(conditions, "end_at > ?")
		args = append(args, formatTime(*filter.EndsAfter))
	}
	if filter.StartsBefore != nil {
		conditions = append(conditions, "start_at < ?")
		args = append(args, formatTime(*filter.StartsBefore))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_at ASC, id ASC"

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var bookings []application.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return bookings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (application.Booking, error) {
	var booking application.Booking
	var startStr, endStr, createdStr, updatedStr string
	var status, origin string
	var seriesID, attendees, checkedIn, checkedOut sql.NullString

	err := row.Scan(
		&booking.ID,
		&booking.ResourceID,
		&booking.RequesterID,
		&startStr,
		&endStr,
		&status,
		&origin,
		&seriesID,
		&attendees,
		&checkedIn,
		&checkedOut,
		&booking.Version,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return application.Booking{}, mapError(err)
	}

	booking.Status = application.BookingStatus(status)
	booking.Origin = application.BookingOrigin(origin)
	if seriesID.Valid {
		value := seriesID.String
		booking.SeriesID = &value
	}
	booking.Attendees = splitList(attendees)

	if booking.Start, err = parseTime(startStr); err != nil {
		return application.Booking{}, err
	}
	if booking.End, err = parseTime(endStr); err != nil {
		return application.Booking{}, err
	}
	if booking.CheckedInAt, err = parseTimePtr(checkedIn); err != nil {
		return application.Booking{}, err
	}
	if booking.CheckedOutAt, err = parseTimePtr(checkedOut); err != nil {
		return application.Booking{}, err
	}
	if booking.CreatedAt, err = parseTime(createdStr); err != nil {
		return application.Booking{}, err
	}
	if booking.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return application.Booking{}, err
	}
	return booking, nil
}
