package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/lab-booking/internal/application"
	"github.com/example/lab-booking/internal/persistence"
)

// ResourceRepository implements application.ResourceRepository.
type ResourceRepository struct {
	pool *ConnectionPool
}

// NewResourceRepository creates a SQLite resource repository.
func NewResourceRepository(pool *ConnectionPool) *ResourceRepository {
	return &ResourceRepository{pool: pool}
}

const resourceColumns = `id, name, type, risk_tier, active, requires_checkin, created_at, updated_at`

// CreateResource inserts a catalog entry.
func (r *ResourceRepository) CreateResource(ctx context.Context, resource application.Resource) (application.Resource, error) {
	query := `
		INSERT INTO resources (` + resourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.pool.db.ExecContext(ctx, query,
		resource.ID,
		resource.Name,
		resource.Type,
		resource.RiskTier,
		boolToInt(resource.Active),
		boolToInt(resource.RequiresCheckIn),
		formatTime(resource.CreatedAt),
		formatTime(resource.UpdatedAt),
	)
	if err != nil {
		return application.Resource{}, mapError(err)
	}
	return resource, nil
}

// UpdateResource rewrites a catalog entry.
func (r *ResourceRepository) UpdateResource(ctx context.Context, resource application.Resource) (application.Resource, error) {
	query := `
		UPDATE resources
		SET name = ?, type = ?, risk_tier = ?, active = ?, requires_checkin = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.pool.db.ExecContext(ctx, query,
		resource.Name,
		resource.Type,
		resource.RiskTier,
		boolToInt(resource.Active),
		boolToInt(resource.RequiresCheckIn),
		formatTime(resource.UpdatedAt),
		resource.ID,
	)
	if err != nil {
		return application.Resource{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return application.Resource{}, err
	}
	if affected == 0 {
		return application.Resource{}, persistence.ErrNotFound
	}
	return resource, nil
}

// GetResource retrieves a catalog entry by ID.
func (r *ResourceRepository) GetResource(ctx context.Context, id string) (application.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = ?`
	return scanResource(r.pool.db.QueryRowContext(ctx, query, id))
}

// ListResources returns the catalog ordered by name.
func (r *ResourceRepository) ListResources(ctx context.Context) ([]application.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources ORDER BY name ASC, id ASC`
	rows, err := r.pool.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var resources []application.Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return resources, nil
}

// AddMaintenanceWindow records a maintenance block.
func (r *ResourceRepository) AddMaintenanceWindow(ctx context.Context, window application.MaintenanceWindow) (application.MaintenanceWindow, error) {
	query := `
		INSERT INTO maintenance_windows (id, resource_id, start_at, end_at, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.pool.db.ExecContext(ctx, query,
		window.ID,
		window.ResourceID,
		formatTime(window.Start),
		formatTime(window.End),
		nullString(window.Reason),
		formatTime(window.CreatedAt),
	)
	if err != nil {
		return application.MaintenanceWindow{}, mapError(err)
	}
	return window, nil
}

// ListMaintenanceWindows returns a resource's maintenance blocks ordered by
// start time.
func (r *ResourceRepository) ListMaintenanceWindows(ctx context.Context, resourceID string) ([]application.MaintenanceWindow, error) {
	query := `
		SELECT id, resource_id, start_at, end_at, reason, created_at
		FROM maintenance_windows
		WHERE resource_id = ?
		ORDER BY start_at ASC
	`
	rows, err := r.pool.db.QueryContext(ctx, query, resourceID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var windows []application.MaintenanceWindow
	for rows.Next() {
		var window application.MaintenanceWindow
		var startStr, endStr, createdStr string
		var reason sql.NullString
		if err := rows.Scan(&window.ID, &window.ResourceID, &startStr, &endStr, &reason, &createdStr); err != nil {
			return nil, mapError(err)
		}
		window.Reason = reason.String
		if window.Start, err = parseTime(startStr); err != nil {
			return nil, err
		}
		if window.End, err = parseTime(endStr); err != nil {
			return nil, err
		}
		if window.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, err
		}
		windows = append(windows, window)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return windows, nil
}

func scanResource(row rowScanner) (application.Resource, error) {
	var resource application.Resource
	var active, requiresCheckIn int
	var createdStr, updatedStr string

	err := row.Scan(
		&resource.ID,
		&resource.Name,
		&resource.Type,
		&resource.RiskTier,
		&active,
		&requiresCheckIn,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return application.Resource{}, mapError(err)
	}
	resource.Active = active != 0
	resource.RequiresCheckIn = requiresCheckIn != 0
	if resource.CreatedAt, err = parseTime(createdStr); err != nil {
		return application.Resource{}, err
	}
	if resource.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return application.Resource{}, err
	}
	return resource, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
