package application

import (
	"context"
	"time"
)

// BookingRepository captures the persistence interactions of the lifecycle
// manager. UpdateBooking applies optimistic concurrency: the write succeeds
// only when the stored version equals the version carried by the booking,
// and the returned booking carries the bumped counter.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) (Booking, error)
	CreateBookings(ctx context.Context, bookings []Booking) ([]Booking, error)
	GetBooking(ctx context.Context, id string) (Booking, error)
	UpdateBooking(ctx context.Context, booking Booking) (Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
}

// ResourceRepository stores the resource catalog and maintenance windows.
type ResourceRepository interface {
	CreateResource(ctx context.Context, resource Resource) (Resource, error)
	UpdateResource(ctx context.Context, resource Resource) (Resource, error)
	GetResource(ctx context.Context, id string) (Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)
	AddMaintenanceWindow(ctx context.Context, window MaintenanceWindow) (MaintenanceWindow, error)
	ListMaintenanceWindows(ctx context.Context, resourceID string) ([]MaintenanceWindow, error)
}

// ApprovalRuleRepository exposes the read-only approval rule configuration.
// ListRules returns rules ordered by ascending priority.
type ApprovalRuleRepository interface {
	CreateRule(ctx context.Context, rule ApprovalRule) (ApprovalRule, error)
	ListRules(ctx context.Context) ([]ApprovalRule, error)
}

// ApprovalStepRepository stores booking approval chains.
type ApprovalStepRepository interface {
	CreateSteps(ctx context.Context, steps []ApprovalStep) ([]ApprovalStep, error)
	GetStep(ctx context.Context, id string) (ApprovalStep, error)
	UpdateStep(ctx context.Context, step ApprovalStep) (ApprovalStep, error)
	ListStepsForBooking(ctx context.Context, bookingID string) ([]ApprovalStep, error)
	ListPendingStepsDueBy(ctx context.Context, deadline time.Time) ([]ApprovalStep, error)
}

// WaitlistRepository stores waiting-list entries. ListWaiting returns
// entries in strict registration order.
type WaitlistRepository interface {
	CreateEntry(ctx context.Context, entry WaitingListEntry) (WaitingListEntry, error)
	GetEntry(ctx context.Context, id string) (WaitingListEntry, error)
	UpdateEntry(ctx context.Context, entry WaitingListEntry) (WaitingListEntry, error)
	ListWaiting(ctx context.Context, resourceID string) ([]WaitingListEntry, error)
	ListActiveOffers(ctx context.Context, resourceID string) ([]WaitingListEntry, error)
	ListOffersExpiringBy(ctx context.Context, deadline time.Time) ([]WaitingListEntry, error)
}

// ApproverDirectory is the identity collaborator view the approval engine
// needs: whether a role has any active approver, and whether a given user
// holds a role (used to validate delegation targets).
type ApproverDirectory interface {
	HasActiveApprover(ctx context.Context, role string) (bool, error)
	HoldsRole(ctx context.Context, userID, role string) (bool, error)
}
