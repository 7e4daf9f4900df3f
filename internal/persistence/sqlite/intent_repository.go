package sqlite

import (
	"context"

	"github.com/example/lab-booking/internal/application"
)

// IntentLog implements application.IntentEmitter by appending intents to the
// notification_intents table, where the external dispatcher picks them up.
type IntentLog struct {
	pool *ConnectionPool
}

// NewIntentLog creates a SQLite-backed intent emitter.
func NewIntentLog(pool *ConnectionPool) *IntentLog {
	return &IntentLog{pool: pool}
}

// Emit records one notification intent.
func (l *IntentLog) Emit(ctx context.Context, intent application.Intent) error {
	query := `
		INSERT INTO notification_intents
			(id, kind, booking_id, entry_id, step_id, resource_id, recipient_id, recipient_roles, occurred_at, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.pool.db.ExecContext(ctx, query,
		intent.ID,
		string(intent.Kind),
		nullString(intent.BookingID),
		nullString(intent.EntryID),
		nullString(intent.StepID),
		nullString(intent.ResourceID),
		nullString(intent.RecipientID),
		joinList(intent.RecipientRoles),
		formatTime(intent.OccurredAt),
		nullString(intent.Detail),
	)
	return mapError(err)
}
