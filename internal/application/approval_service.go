package application

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/example/lab-booking/internal/clock"
)

// ApprovalService evaluates approval rules and drives approval chains. It
// owns ApprovalStep state but never mutates bookings: chain outcomes are
// returned to the lifecycle manager, which applies them.
type ApprovalService struct {
	rules        ApprovalRuleRepository
	steps        ApprovalStepRepository
	directory    ApproverDirectory
	emitter      IntentEmitter
	idGenerator  func() string
	clock        clock.Clock
	stepDeadline time.Duration
	logger       *slog.Logger
}

// NewApprovalService wires dependencies for approval workflow operations.
func NewApprovalService(
	rules ApprovalRuleRepository,
	steps ApprovalStepRepository,
	directory ApproverDirectory,
	emitter IntentEmitter,
	idGenerator func() string,
	clk clock.Clock,
	stepDeadline time.Duration,
	logger *slog.Logger,
) *ApprovalService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &ApprovalService{
		rules:        rules,
		steps:        steps,
		directory:    directory,
		emitter:      emitter,
		idGenerator:  idGenerator,
		clock:        clk,
		stepDeadline: stepDeadline,
		logger:       defaultLogger(logger),
	}
}

// requiredRules returns the rules whose steps the booking must clear,
// ordered by tier then priority. Rules are matched in priority order and
// the first match per distinct approver role wins; auto-approving winners
// drop their role from the chain entirely.
func (s *ApprovalService) requiredRules(ctx context.Context, booking Booking, resource Resource) ([]ApprovalRule, error) {
	if s.rules == nil {
		return nil, nil
	}
	all, err := s.rules.ListRules(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })

	winners := make(map[string]ApprovalRule)
	order := make([]string, 0, len(all))
	for _, rule := range all {
		if _, seen := winners[rule.Role]; seen {
			continue
		}
		if !rule.Matches(booking, resource) {
			continue
		}
		winners[rule.Role] = rule
		order = append(order, rule.Role)
	}

	required := make([]ApprovalRule, 0, len(order))
	for _, role := range order {
		rule := winners[role]
		if rule.AutoApprove {
			continue
		}
		required = append(required, rule)
	}

	sort.SliceStable(required, func(i, j int) bool {
		if required[i].Tier != required[j].Tier {
			return required[i].Tier < required[j].Tier
		}
		return required[i].Priority < required[j].Priority
	})
	return required, nil
}

// RequiresApproval reports whether any non-auto-approving rule matches the
// booking. The lifecycle manager uses it to pick the initial status before
// the booking is persisted.
func (s *ApprovalService) RequiresApproval(ctx context.Context, booking Booking, resource Resource) (bool, error) {
	required, err := s.requiredRules(ctx, booking, resource)
	if err != nil {
		return false, err
	}
	return len(required) > 0, nil
}

// Begin evaluates the rules for a newly submitted booking and, when approval
// is required, creates the first tier of pending steps. Later tiers are only
// materialized once every step of the preceding tier is approved, so a
// rejection never leaves orphaned successor steps.
func (s *ApprovalService) Begin(ctx context.Context, booking Booking, resource Resource) (bool, []ApprovalStep, error) {
	required, err := s.requiredRules(ctx, booking, resource)
	if err != nil {
		return false, nil, err
	}
	if len(required) == 0 {
		return false, nil, nil
	}

	firstTier := required[0].Tier
	var tierRules []ApprovalRule
	for _, rule := range required {
		if rule.Tier == firstTier {
			tierRules = append(tierRules, rule)
		}
	}

	created, err := s.createTierSteps(ctx, booking, tierRules)
	if err != nil {
		return false, nil, err
	}
	return true, created, nil
}

func (s *ApprovalService) createTierSteps(ctx context.Context, booking Booking, tierRules []ApprovalRule) ([]ApprovalStep, error) {
	now := s.clock.Now()
	steps := make([]ApprovalStep, 0, len(tierRules))
	for _, rule := range tierRules {
		steps = append(steps, ApprovalStep{
			ID:        s.idGenerator(),
			BookingID: booking.ID,
			RuleID:    rule.ID,
			Role:      rule.Role,
			Tier:      rule.Tier,
			State:     DecisionPending,
			Deadline:  now.Add(s.stepDeadline),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	created, err := s.steps.CreateSteps(ctx, steps)
	if err != nil {
		return nil, mapRepoError(err)
	}

	for i, step := range created {
		emit(ctx, s.emitter, Intent{
			ID:             s.idGenerator(),
			Kind:           IntentApprovalStepPending,
			BookingID:      booking.ID,
			StepID:         step.ID,
			ResourceID:     booking.ResourceID,
			RecipientRoles: []string{step.Role},
			OccurredAt:     now,
		})
		s.alertIfUnstaffed(ctx, tierRules[i], booking)
	}
	return created, nil
}

// alertIfUnstaffed surfaces the configuration error of a required role with
// no active approver. The step still exists and stays pending; the alert is
// what distinguishes this from a normal wait.
func (s *ApprovalService) alertIfUnstaffed(ctx context.Context, rule ApprovalRule, booking Booking) {
	if s.directory == nil {
		return
	}
	ok, err := s.directory.HasActiveApprover(ctx, rule.Role)
	if err != nil {
		serviceLogger(ctx, s.logger, "approvals", "staffing_check", "rule_id", rule.ID).
			ErrorContext(ctx, "failed to check approver availability", "error", err)
		return
	}
	if ok {
		return
	}
	cfgErr := &ApproverMissingError{RuleID: rule.ID, Role: rule.Role}
	serviceLogger(ctx, s.logger, "approvals", "staffing_check", "booking_id", booking.ID).
		ErrorContext(ctx, "approval chain blocked by configuration", "error", cfgErr, "error_kind", ErrorKind(cfgErr))
	emit(ctx, s.emitter, Intent{
		ID:         s.idGenerator(),
		Kind:       IntentApprovalConfigError,
		BookingID:  booking.ID,
		ResourceID: booking.ResourceID,
		OccurredAt: s.clock.Now(),
		Detail:     cfgErr.Error(),
	})
}

// Chain returns the booking's approval steps ordered by tier and creation.
func (s *ApprovalService) Chain(ctx context.Context, bookingID string) ([]ApprovalStep, error) {
	steps, err := s.steps.ListStepsForBooking(ctx, bookingID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Tier != steps[j].Tier {
			return steps[i].Tier < steps[j].Tier
		}
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})
	return steps, nil
}

// Apply processes one approval decision. Decisions are idempotent per
// (booking, step): retrying an already-applied decision is a no-op, not an
// error and not a second application.
func (s *ApprovalService) Apply(ctx context.Context, booking Booking, resource Resource, input DecisionInput, principal Principal) (ChainResult, error) {
	step, err := s.steps.GetStep(ctx, input.StepID)
	if err != nil {
		return ChainResult{}, mapRepoError(err)
	}
	if step.BookingID != input.BookingID {
		return ChainResult{}, ErrNotFound
	}

	if step.Resolved() {
		return s.retryResult(ctx, booking, step, input)
	}

	if booking.Status != StatusAwaitingApproval {
		return ChainResult{}, &StateError{Entity: "booking", ID: booking.ID, Operation: "decide", Status: string(booking.Status)}
	}

	now := s.clock.Now()
	if step.DeadlinePassed(now) {
		// Lazy expiry: the read path applies the same policy as the sweep.
		result, err := s.ExpireStep(ctx, step.ID)
		if err != nil {
			return ChainResult{}, err
		}
		if result.Outcome == ChainRejected {
			return ChainResult{}, &StateError{Entity: "approval step", ID: step.ID, Operation: string(input.Decision), Status: "deadline passed"}
		}
		step, err = s.steps.GetStep(ctx, input.StepID)
		if err != nil {
			return ChainResult{}, mapRepoError(err)
		}
	}

	if err := s.authorizeDecider(step, principal); err != nil {
		return ChainResult{}, err
	}

	switch input.Decision {
	case DecisionActApprove:
		return s.applyApproval(ctx, booking, resource, step, principal, now)
	case DecisionActReject:
		return s.applyRejection(ctx, booking, step, principal, now)
	case DecisionActDelegate:
		return s.applyDelegation(ctx, booking, step, principal, input.DelegateTo, now)
	default:
		vErr := &ValidationError{}
		vErr.add("decision", "must be approve, reject or delegate")
		return ChainResult{}, vErr
	}
}

func (s *ApprovalService) authorizeDecider(step ApprovalStep, principal Principal) error {
	if principal.IsAdmin {
		return nil
	}
	if step.DelegateID != "" {
		if principal.UserID == step.DelegateID {
			return nil
		}
		return ErrUnauthorized
	}
	if principal.HasRole(step.Role) {
		return nil
	}
	return ErrUnauthorized
}

// retryResult handles the idempotent retry of an already-resolved step:
// the matching decision is a no-op, a contradicting one is a state error.
func (s *ApprovalService) retryResult(ctx context.Context, booking Booking, step ApprovalStep, input DecisionInput) (ChainResult, error) {
	matches := (step.State == DecisionApproved && input.Decision == DecisionActApprove) ||
		(step.State == DecisionRejected && input.Decision == DecisionActReject)
	if !matches {
		return ChainResult{}, &StateError{Entity: "approval step", ID: step.ID, Operation: string(input.Decision), Status: string(step.State)}
	}
	steps, err := s.Chain(ctx, booking.ID)
	if err != nil {
		return ChainResult{}, err
	}
	return ChainResult{Outcome: outcomeOfSteps(steps), Steps: steps, NoOp: true}, nil
}

func outcomeOfSteps(steps []ApprovalStep) ChainOutcome {
	pending := false
	for _, step := range steps {
		switch step.State {
		case DecisionRejected:
			return ChainRejected
		case DecisionPending:
			pending = true
		}
	}
	if pending {
		return ChainPending
	}
	return ChainApproved
}

func (s *ApprovalService) applyApproval(ctx context.Context, booking Booking, resource Resource, step ApprovalStep, principal Principal, now time.Time) (ChainResult, error) {
	step.State = DecisionApproved
	step.DeciderID = principal.UserID
	step.DecidedAt = &now
	step.UpdatedAt = now
	if _, err := s.steps.UpdateStep(ctx, step); err != nil {
		return ChainResult{}, mapRepoError(err)
	}

	emit(ctx, s.emitter, Intent{
		ID:          s.idGenerator(),
		Kind:        IntentApprovalResolved,
		BookingID:   booking.ID,
		StepID:      step.ID,
		ResourceID:  booking.ResourceID,
		RecipientID: booking.RequesterID,
		OccurredAt:  now,
		Detail:      "approved",
	})

	steps, err := s.Chain(ctx, booking.ID)
	if err != nil {
		return ChainResult{}, err
	}
	for _, existing := range steps {
		if existing.State == DecisionPending {
			return ChainResult{Outcome: ChainPending, Steps: steps}, nil
		}
	}

	newSteps, err := s.advanceTier(ctx, booking, resource, steps)
	if err != nil {
		return ChainResult{}, err
	}
	if len(newSteps) > 0 {
		steps = append(steps, newSteps...)
		return ChainResult{Outcome: ChainPending, Steps: steps, NewSteps: newSteps}, nil
	}
	return ChainResult{Outcome: ChainApproved, Steps: steps}, nil
}

// advanceTier creates the steps of the next planned tier once the current
// tier is fully approved.
func (s *ApprovalService) advanceTier(ctx context.Context, booking Booking, resource Resource, existing []ApprovalStep) ([]ApprovalStep, error) {
	required, err := s.requiredRules(ctx, booking, resource)
	if err != nil {
		return nil, err
	}

	created := make(map[string]struct{}, len(existing))
	maxTier := 0
	for _, step := range existing {
		created[step.RuleID] = struct{}{}
		if step.Tier > maxTier {
			maxTier = step.Tier
		}
	}

	nextTier := 0
	found := false
	var tierRules []ApprovalRule
	for _, rule := range required {
		if _, done := created[rule.ID]; done {
			continue
		}
		if rule.Tier < maxTier {
			continue
		}
		if !found || rule.Tier < nextTier {
			nextTier = rule.Tier
			found = true
			tierRules = tierRules[:0]
		}
		if rule.Tier == nextTier {
			tierRules = append(tierRules, rule)
		}
	}
	if !found {
		return nil, nil
	}
	return s.createTierSteps(ctx, booking, tierRules)
}

func (s *ApprovalService) applyRejection(ctx context.Context, booking Booking, step ApprovalStep, principal Principal, now time.Time) (ChainResult, error) {
	step.State = DecisionRejected
	step.DeciderID = principal.UserID
	step.DecidedAt = &now
	step.UpdatedAt = now
	if _, err := s.steps.UpdateStep(ctx, step); err != nil {
		return ChainResult{}, mapRepoError(err)
	}

	emit(ctx, s.emitter, Intent{
		ID:          s.idGenerator(),
		Kind:        IntentApprovalResolved,
		BookingID:   booking.ID,
		StepID:      step.ID,
		ResourceID:  booking.ResourceID,
		RecipientID: booking.RequesterID,
		OccurredAt:  now,
		Detail:      "rejected",
	})

	steps, err := s.Chain(ctx, booking.ID)
	if err != nil {
		return ChainResult{}, err
	}
	// Rejection short-circuits: no later tier is ever created.
	return ChainResult{Outcome: ChainRejected, Steps: steps}, nil
}

func (s *ApprovalService) applyDelegation(ctx context.Context, booking Booking, step ApprovalStep, principal Principal, delegateTo string, now time.Time) (ChainResult, error) {
	if delegateTo == "" {
		vErr := &ValidationError{}
		vErr.add("delegate_to", "delegation target is required")
		return ChainResult{}, vErr
	}
	if s.directory != nil {
		holds, err := s.directory.HoldsRole(ctx, delegateTo, step.Role)
		if err != nil {
			return ChainResult{}, err
		}
		if !holds {
			vErr := &ValidationError{}
			vErr.add("delegate_to", "target does not hold the required role")
			return ChainResult{}, vErr
		}
	}

	// Delegation retargets the step without moving its position or deadline.
	step.DelegateID = delegateTo
	step.UpdatedAt = now
	if _, err := s.steps.UpdateStep(ctx, step); err != nil {
		return ChainResult{}, mapRepoError(err)
	}

	emit(ctx, s.emitter, Intent{
		ID:          s.idGenerator(),
		Kind:        IntentApprovalStepPending,
		BookingID:   booking.ID,
		StepID:      step.ID,
		ResourceID:  booking.ResourceID,
		RecipientID: delegateTo,
		OccurredAt:  now,
		Detail:      "delegated",
	})

	steps, err := s.Chain(ctx, booking.ID)
	if err != nil {
		return ChainResult{}, err
	}
	return ChainResult{Outcome: ChainPending, Steps: steps}, nil
}

// ListDueSteps returns pending steps whose deadline has passed.
func (s *ApprovalService) ListDueSteps(ctx context.Context) ([]ApprovalStep, error) {
	steps, err := s.steps.ListPendingStepsDueBy(ctx, s.clock.Now())
	if err != nil {
		return nil, mapRepoError(err)
	}
	return steps, nil
}

// ExpireStep applies the owning rule's deadline policy to an overdue step.
// It is safe to run redundantly: a step that raced another actor is skipped.
func (s *ApprovalService) ExpireStep(ctx context.Context, stepID string) (ChainResult, error) {
	step, err := s.steps.GetStep(ctx, stepID)
	if err != nil {
		return ChainResult{}, mapRepoError(err)
	}
	now := s.clock.Now()
	if step.Resolved() || !step.DeadlinePassed(now) {
		return ChainResult{NoOp: true, Outcome: ChainPending}, nil
	}

	rule, err := s.ruleByID(ctx, step.RuleID)
	if err != nil {
		return ChainResult{}, err
	}

	escalate := rule.DeadlinePolicy == DeadlineEscalate && rule.EscalateToRole != "" && step.Role != rule.EscalateToRole
	if escalate {
		step.Role = rule.EscalateToRole
		step.DelegateID = ""
		step.Deadline = now.Add(s.stepDeadline)
		step.UpdatedAt = now
		updated, err := s.steps.UpdateStep(ctx, step)
		if err != nil {
			if mapped := mapRepoError(err); mapped == ErrVersionMismatch {
				return ChainResult{NoOp: true, Outcome: ChainPending}, nil
			}
			return ChainResult{}, mapRepoError(err)
		}
		emit(ctx, s.emitter, Intent{
			ID:             s.idGenerator(),
			Kind:           IntentApprovalStepPending,
			BookingID:      step.BookingID,
			StepID:         updated.ID,
			RecipientRoles: []string{updated.Role},
			OccurredAt:     now,
			Detail:         "escalated after deadline",
		})
		return ChainResult{Outcome: ChainPending}, nil
	}

	step.State = DecisionRejected
	step.DeciderID = "system"
	step.DecidedAt = &now
	step.UpdatedAt = now
	if _, err := s.steps.UpdateStep(ctx, step); err != nil {
		if mapped := mapRepoError(err); mapped == ErrVersionMismatch {
			return ChainResult{NoOp: true, Outcome: ChainPending}, nil
		}
		return ChainResult{}, mapRepoError(err)
	}
	emit(ctx, s.emitter, Intent{
		ID:         s.idGenerator(),
		Kind:       IntentApprovalResolved,
		BookingID:  step.BookingID,
		StepID:     step.ID,
		OccurredAt: now,
		Detail:     "rejected after deadline",
	})

	steps, err := s.Chain(ctx, step.BookingID)
	if err != nil {
		return ChainResult{}, err
	}
	return ChainResult{Outcome: ChainRejected, Steps: steps}, nil
}

func (s *ApprovalService) ruleByID(ctx context.Context, id string) (ApprovalRule, error) {
	rules, err := s.rules.ListRules(ctx)
	if err != nil {
		return ApprovalRule{}, mapRepoError(err)
	}
	for _, rule := range rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return ApprovalRule{}, ErrNotFound
}
