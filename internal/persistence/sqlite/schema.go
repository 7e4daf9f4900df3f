package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	type             TEXT NOT NULL,
	risk_tier        INTEGER NOT NULL DEFAULT 0,
	active           INTEGER NOT NULL DEFAULT 1,
	requires_checkin INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS maintenance_windows (
	id          TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL REFERENCES resources(id),
	start_at    TEXT NOT NULL,
	end_at      TEXT NOT NULL,
	reason      TEXT,
	created_at  TEXT NOT NULL,
	CHECK (start_at < end_at)
);
CREATE INDEX IF NOT EXISTS idx_maintenance_resource ON maintenance_windows(resource_id, start_at);

CREATE TABLE IF NOT EXISTS bookings (
	id             TEXT PRIMARY KEY,
	resource_id    TEXT NOT NULL REFERENCES resources(id),
	requester_id   TEXT NOT NULL,
	start_at       TEXT NOT NULL,
	end_at         TEXT NOT NULL,
	status         TEXT NOT NULL,
	origin         TEXT NOT NULL,
	series_id      TEXT,
	attendees      TEXT,
	checked_in_at  TEXT,
	checked_out_at TEXT,
	version        INTEGER NOT NULL DEFAULT 1,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	CHECK (start_at < end_at)
);
CREATE INDEX IF NOT EXISTS idx_bookings_resource ON bookings(resource_id, start_at);
CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status, end_at);
CREATE INDEX IF NOT EXISTS idx_bookings_series ON bookings(series_id);

CREATE TABLE IF NOT EXISTS approval_rules (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	priority             INTEGER NOT NULL,
	resource_types       TEXT,
	min_risk_tier        INTEGER NOT NULL DEFAULT 0,
	min_duration_seconds INTEGER NOT NULL DEFAULT 0,
	role                 TEXT NOT NULL,
	tier                 INTEGER NOT NULL DEFAULT 0,
	auto_approve         INTEGER NOT NULL DEFAULT 0,
	deadline_policy      TEXT NOT NULL,
	escalate_to_role     TEXT,
	created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS approval_steps (
	id          TEXT PRIMARY KEY,
	booking_id  TEXT NOT NULL REFERENCES bookings(id),
	rule_id     TEXT NOT NULL,
	role        TEXT NOT NULL,
	tier        INTEGER NOT NULL DEFAULT 0,
	state       TEXT NOT NULL,
	decider_id  TEXT,
	delegate_id TEXT,
	deadline    TEXT NOT NULL,
	decided_at  TEXT,
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_booking ON approval_steps(booking_id);
CREATE INDEX IF NOT EXISTS idx_steps_due ON approval_steps(state, deadline);

CREATE TABLE IF NOT EXISTS waitlist_entries (
	id                   TEXT PRIMARY KEY,
	resource_id          TEXT NOT NULL REFERENCES resources(id),
	requester_id         TEXT NOT NULL,
	window_start         TEXT NOT NULL,
	window_end           TEXT NOT NULL,
	min_duration_seconds INTEGER NOT NULL,
	status               TEXT NOT NULL,
	registered_at        TEXT NOT NULL,
	offer_start          TEXT,
	offer_end            TEXT,
	offer_expires_at     TEXT,
	version              INTEGER NOT NULL DEFAULT 1,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	CHECK (window_start < window_end)
);
CREATE INDEX IF NOT EXISTS idx_waitlist_queue ON waitlist_entries(resource_id, status, registered_at);
CREATE INDEX IF NOT EXISTS idx_waitlist_expiry ON waitlist_entries(status, offer_expires_at);

CREATE TABLE IF NOT EXISTS notification_intents (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	booking_id      TEXT,
	entry_id        TEXT,
	step_id         TEXT,
	resource_id     TEXT,
	recipient_id    TEXT,
	recipient_roles TEXT,
	occurred_at     TEXT NOT NULL,
	detail          TEXT
);
CREATE INDEX IF NOT EXISTS idx_intents_occurred ON notification_intents(occurred_at);
`

// Migrate creates the schema. Statements are idempotent so repeated startup
// runs are safe.
func (cp *ConnectionPool) Migrate(ctx context.Context) error {
	if _, err := cp.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Timestamps are stored as RFC 3339 strings in UTC; lexical order matches
// chronological order, which the deadline and queue indexes depend on.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullStringPtr(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func joinList(values []string) sql.NullString {
	if len(values) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.Join(values, ","), Valid: true}
}

func splitList(value sql.NullString) []string {
	if !value.Valid || value.String == "" {
		return nil
	}
	return strings.Split(value.String, ",")
}
