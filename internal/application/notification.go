package application

import (
	"context"
	"time"
)

// IntentKind labels the notification intents the engine emits. The engine
// never delivers notifications; it only records intents for the external
// dispatcher to render and deliver.
type IntentKind string

const (
	IntentBookingCreated      IntentKind = "booking_created"
	IntentBookingConfirmed    IntentKind = "booking_confirmed"
	IntentBookingRejected     IntentKind = "booking_rejected"
	IntentBookingCancelled    IntentKind = "booking_cancelled"
	IntentBookingCompleted    IntentKind = "booking_completed"
	IntentBookingNoShow       IntentKind = "booking_no_show"
	IntentApprovalStepPending IntentKind = "approval_step_pending"
	IntentApprovalResolved    IntentKind = "approval_step_resolved"
	IntentApprovalConfigError IntentKind = "approval_config_error"
	IntentOfferMade           IntentKind = "waitlist_offer_made"
	IntentOfferExpired        IntentKind = "waitlist_offer_expired"
	IntentOfferAccepted       IntentKind = "waitlist_offer_accepted"
	IntentWaitlistClosed      IntentKind = "waitlist_closed"
)

// Intent is a structured notification request handed to the external
// dispatcher.
type Intent struct {
	ID             string
	Kind           IntentKind
	BookingID      string
	EntryID        string
	StepID         string
	ResourceID     string
	RecipientID    string
	RecipientRoles []string
	OccurredAt     time.Time
	Detail         string
}

// IntentEmitter receives engine events destined for the notification
// dispatcher. Emission failures never fail the operation that produced the
// event; services log and continue.
type IntentEmitter interface {
	Emit(ctx context.Context, intent Intent) error
}

func emit(ctx context.Context, emitter IntentEmitter, intent Intent) {
	if emitter == nil {
		return
	}
	if err := emitter.Emit(ctx, intent); err != nil {
		serviceLogger(ctx, nil, "notifications", "emit").
			WarnContext(ctx, "failed to record notification intent", "kind", intent.Kind, "error", err)
	}
}
