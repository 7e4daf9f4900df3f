package application

import (
	"context"
	"log/slog"

	"github.com/example/lab-booking/internal/clock"
	"github.com/example/lab-booking/internal/schedule"
)

// ResourceService manages the resource catalog, maintenance windows and the
// approval rule configuration. All writes are admin only.
type ResourceService struct {
	resources   ResourceRepository
	rules       ApprovalRuleRepository
	registry    *schedule.Registry
	idGenerator func() string
	clock       clock.Clock
	logger      *slog.Logger
}

// NewResourceService wires dependencies for catalog operations.
func NewResourceService(
	resources ResourceRepository,
	rules ApprovalRuleRepository,
	registry *schedule.Registry,
	idGenerator func() string,
	clk clock.Clock,
	logger *slog.Logger,
) *ResourceService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &ResourceService{
		resources:   resources,
		rules:       rules,
		registry:    registry,
		idGenerator: idGenerator,
		clock:       clk,
		logger:      defaultLogger(logger),
	}
}

// Create registers a new bookable resource.
func (s *ResourceService) Create(ctx context.Context, input ResourceInput, principal Principal) (Resource, error) {
	if !principal.IsAdmin {
		return Resource{}, ErrUnauthorized
	}
	vErr := &ValidationError{}
	if input.Name == "" {
		vErr.add("name", "name is required")
	}
	if input.Type == "" {
		vErr.add("type", "type is required")
	}
	if input.RiskTier < 0 {
		vErr.add("risk_tier", "risk tier must not be negative")
	}
	if vErr.HasErrors() {
		return Resource{}, vErr
	}

	now := s.clock.Now()
	resource := Resource{
		ID:              s.idGenerator(),
		Name:            input.Name,
		Type:            input.Type,
		RiskTier:        input.RiskTier,
		Active:          true,
		RequiresCheckIn: input.RequiresCheckIn,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := s.resources.CreateResource(ctx, resource)
	if err != nil {
		return Resource{}, mapRepoError(err)
	}
	return created, nil
}

// Update rewrites a catalog entry's mutable fields. The active flag is not
// touched here; closing goes through the lifecycle manager so future
// bookings are released with it.
func (s *ResourceService) Update(ctx context.Context, id string, input ResourceInput, principal Principal) (Resource, error) {
	if !principal.IsAdmin {
		return Resource{}, ErrUnauthorized
	}
	vErr := &ValidationError{}
	if input.Name == "" {
		vErr.add("name", "name is required")
	}
	if input.Type == "" {
		vErr.add("type", "type is required")
	}
	if input.RiskTier < 0 {
		vErr.add("risk_tier", "risk tier must not be negative")
	}
	if vErr.HasErrors() {
		return Resource{}, vErr
	}

	resource, err := s.resources.GetResource(ctx, id)
	if err != nil {
		return Resource{}, mapRepoError(err)
	}
	resource.Name = input.Name
	resource.Type = input.Type
	resource.RiskTier = input.RiskTier
	resource.RequiresCheckIn = input.RequiresCheckIn
	resource.UpdatedAt = s.clock.Now()

	updated, err := s.resources.UpdateResource(ctx, resource)
	if err != nil {
		return Resource{}, mapRepoError(err)
	}
	return updated, nil
}

// Get returns a catalog entry.
func (s *ResourceService) Get(ctx context.Context, id string) (Resource, error) {
	resource, err := s.resources.GetResource(ctx, id)
	if err != nil {
		return Resource{}, mapRepoError(err)
	}
	return resource, nil
}

// List returns the full catalog.
func (s *ResourceService) List(ctx context.Context) ([]Resource, error) {
	resources, err := s.resources.ListResources(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return resources, nil
}

// AddMaintenanceWindow blocks a resource's schedule. The window goes through
// the same check-and-reserve bracket as a booking, so it cannot be placed
// over existing occupants.
func (s *ResourceService) AddMaintenanceWindow(ctx context.Context, resourceID string, input MaintenanceInput, principal Principal) (MaintenanceWindow, error) {
	if !principal.IsAdmin {
		return MaintenanceWindow{}, ErrUnauthorized
	}
	iv := schedule.Interval{Start: input.Start, End: input.End}
	if !iv.IsValid() {
		vErr := &ValidationError{}
		vErr.add("end", "end must be after start")
		return MaintenanceWindow{}, vErr
	}
	if _, err := s.resources.GetResource(ctx, resourceID); err != nil {
		return MaintenanceWindow{}, mapRepoError(err)
	}

	now := s.clock.Now()
	window := MaintenanceWindow{
		ID:         s.idGenerator(),
		ResourceID: resourceID,
		Start:      input.Start,
		End:        input.End,
		Reason:     input.Reason,
		CreatedAt:  now,
	}

	var conflictErr *ConflictError
	err := s.registry.WithResource(resourceID, func(view *schedule.View) error {
		if conflict, found := view.Check(iv, ""); found {
			conflictErr = &ConflictError{ResourceID: resourceID, Requested: iv, Conflict: conflict}
			return nil
		}
		view.Reserve(window.ID, schedule.KindMaintenance, iv)
		return nil
	})
	if err != nil {
		return MaintenanceWindow{}, err
	}
	if conflictErr != nil {
		return MaintenanceWindow{}, conflictErr
	}

	created, err := s.resources.AddMaintenanceWindow(ctx, window)
	if err != nil {
		s.registry.Release(resourceID, window.ID, iv)
		return MaintenanceWindow{}, mapRepoError(err)
	}
	return created, nil
}

// ListMaintenanceWindows returns a resource's maintenance windows.
func (s *ResourceService) ListMaintenanceWindows(ctx context.Context, resourceID string) ([]MaintenanceWindow, error) {
	windows, err := s.resources.ListMaintenanceWindows(ctx, resourceID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return windows, nil
}

// CreateRule registers an approval rule.
func (s *ResourceService) CreateRule(ctx context.Context, rule ApprovalRule, principal Principal) (ApprovalRule, error) {
	if !principal.IsAdmin {
		return ApprovalRule{}, ErrUnauthorized
	}
	vErr := &ValidationError{}
	if rule.Role == "" && !rule.AutoApprove {
		vErr.add("role", "role is required unless the rule auto-approves")
	}
	switch rule.DeadlinePolicy {
	case DeadlineEscalate:
		if rule.EscalateToRole == "" {
			vErr.add("escalate_to_role", "escalation target is required for the escalate policy")
		}
	case DeadlineReject:
	default:
		if !rule.AutoApprove {
			vErr.add("deadline_policy", "deadline policy must be escalate or reject")
		}
	}
	if rule.Tier < 0 {
		vErr.add("tier", "tier must not be negative")
	}
	if vErr.HasErrors() {
		return ApprovalRule{}, vErr
	}

	rule.ID = s.idGenerator()
	rule.CreatedAt = s.clock.Now()
	created, err := s.rules.CreateRule(ctx, rule)
	if err != nil {
		return ApprovalRule{}, mapRepoError(err)
	}
	return created, nil
}

// ListRules returns the rule configuration ordered by priority.
func (s *ResourceService) ListRules(ctx context.Context, principal Principal) ([]ApprovalRule, error) {
	if !principal.IsAdmin {
		return nil, ErrUnauthorized
	}
	rules, err := s.rules.ListRules(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return rules, nil
}
