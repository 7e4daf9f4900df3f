package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/lab-booking/internal/application"
	"github.com/example/lab-booking/internal/persistence"
)

// ApprovalRepository implements application.ApprovalRuleRepository and
// application.ApprovalStepRepository.
type ApprovalRepository struct {
	pool *ConnectionPool
}

// NewApprovalRepository creates a SQLite approval repository.
func NewApprovalRepository(pool *ConnectionPool) *ApprovalRepository {
	return &ApprovalRepository{pool: pool}
}

const ruleColumns = `id, name, priority, resource_types, min_risk_tier, min_duration_seconds,
	role, tier, auto_approve, deadline_policy, escalate_to_role, created_at`

// CreateRule inserts an approval rule.
func (r *ApprovalRepository) CreateRule(ctx context.Context, rule application.ApprovalRule) (application.ApprovalRule, error) {
	query := `
		INSERT INTO approval_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.pool.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Priority,
		joinList(rule.ResourceTypes),
		rule.MinRiskTier,
		int64(rule.MinDuration/time.Second),
		rule.Role,
		rule.Tier,
		boolToInt(rule.AutoApprove),
		string(rule.DeadlinePolicy),
		nullString(rule.EscalateToRole),
		formatTime(rule.CreatedAt),
	)
	if err != nil {
		return application.ApprovalRule{}, mapError(err)
	}
	return rule, nil
}

// ListRules returns all rules ordered by ascending priority.
func (r *ApprovalRepository) ListRules(ctx context.Context) ([]application.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules ORDER BY priority ASC, id ASC`
	rows, err := r.pool.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var rules []application.ApprovalRule
	for rows.Next() {
		var rule application.ApprovalRule
		var resourceTypes, escalateTo sql.NullString
		var minDurationSeconds int64
		var autoApprove int
		var policy, createdStr string

		err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Priority,
			&resourceTypes,
			&rule.MinRiskTier,
			&minDurationSeconds,
			&rule.Role,
			&rule.Tier,
			&autoApprove,
			&policy,
			&escalateTo,
			&createdStr,
		)
		if err != nil {
			return nil, mapError(err)
		}
		rule.ResourceTypes = splitList(resourceTypes)
		rule.MinDuration = time.Duration(minDurationSeconds) * time.Second
		rule.AutoApprove = autoApprove != 0
		rule.DeadlinePolicy = application.DeadlinePolicy(policy)
		rule.EscalateToRole = escalateTo.String
		if rule.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return rules, nil
}

const stepColumns = `id, booking_id, rule_id, role, tier, state, decider_id, delegate_id,
	deadline, decided_at, version, created_at, updated_at`

// CreateSteps inserts a tier of approval steps atomically.
func (r *ApprovalRepository) CreateSteps(ctx context.Context, steps []application.ApprovalStep) ([]application.ApprovalStep, error) {
	out := make([]application.ApprovalStep, 0, len(steps))
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO approval_steps (` + stepColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		for _, step := range steps {
			step.Version = 1
			_, err := tx.Exec(query,
				step.ID,
				step.BookingID,
				step.RuleID,
				step.Role,
				step.Tier,
				string(step.State),
				nullString(step.DeciderID),
				nullString(step.DelegateID),
				formatTime(step.Deadline),
				formatTimePtr(step.DecidedAt),
				step.Version,
				formatTime(step.CreatedAt),
				formatTime(step.UpdatedAt),
			)
			if err != nil {
				return mapError(err)
			}
			out = append(out, step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetStep retrieves a step by ID.
func (r *ApprovalRepository) GetStep(ctx context.Context, id string) (application.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE id = ?`
	return scanStep(r.pool.db.QueryRowContext(ctx, query, id))
}

// UpdateStep writes a step under optimistic concurrency.
func (r *ApprovalRepository) UpdateStep(ctx context.Context, step application.ApprovalStep) (application.ApprovalStep, error) {
	query := `
		UPDATE approval_steps
		SET role = ?, state = ?, decider_id = ?, delegate_id = ?, deadline = ?,
			decided_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.pool.db.ExecContext(ctx, query,
		step.Role,
		string(step.State),
		nullString(step.DeciderID),
		nullString(step.DelegateID),
		formatTime(step.Deadline),
		formatTimePtr(step.DecidedAt),
		formatTime(step.UpdatedAt),
		step.ID,
		step.Version,
	)
	if err != nil {
		return application.ApprovalStep{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return application.ApprovalStep{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetStep(ctx, step.ID); err != nil {
			return application.ApprovalStep{}, err
		}
		return application.ApprovalStep{}, persistence.ErrVersionMismatch
	}
	return r.GetStep(ctx, step.ID)
}

// ListStepsForBooking returns a booking's chain ordered by tier and creation.
func (r *ApprovalRepository) ListStepsForBooking(ctx context.Context, bookingID string) ([]application.ApprovalStep, error) {
	query := `
		SELECT ` + stepColumns + ` FROM approval_steps
		WHERE booking_id = ?
		ORDER BY tier ASC, created_at ASC, id ASC
	`
	return r.listSteps(ctx, query, bookingID)
}

// ListPendingStepsDueBy returns pending steps whose deadline is at or before
// the given instant.
func (r *ApprovalRepository) ListPendingStepsDueBy(ctx context.Context, deadline time.Time) ([]application.ApprovalStep, error) {
	query := `
		SELECT ` + stepColumns + ` FROM approval_steps
		WHERE state = ? AND deadline <= ?
		ORDER BY deadline ASC, id ASC
	`
	return r.listSteps(ctx, query, string(application.DecisionPending), formatTime(deadline))
}

func (r *ApprovalRepository) listSteps(ctx context.Context, query string, args ...any) ([]application.ApprovalStep, error) {
	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var steps []application.ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return steps, nil
}

func scanStep(row rowScanner) (application.ApprovalStep, error) {
	var step application.ApprovalStep
	var state, deadlineStr, createdStr, updatedStr string
	var deciderID, delegateID, decidedAt sql.NullString

	err := row.Scan(
		&step.ID,
		&step.BookingID,
		&step.RuleID,
		&step.Role,
		&step.Tier,
		&state,
		&deciderID,
		&delegateID,
		&deadlineStr,
		&decidedAt,
		&step.Version,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return application.ApprovalStep{}, mapError(err)
	}

	step.State = application.DecisionState(state)
	step.DeciderID = deciderID.String
	step.DelegateID = delegateID.String
	if step.Deadline, err = parseTime(deadlineStr); err != nil {
		return application.ApprovalStep{}, err
	}
	if step.DecidedAt, err = parseTimePtr(decidedAt); err != nil {
		return application.ApprovalStep{}, err
	}
	if step.CreatedAt, err = parseTime(createdStr); err != nil {
		return application.ApprovalStep{}, err
	}
	if step.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return application.ApprovalStep{}, err
	}
	return step, nil
}
