package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/lab-booking/internal/application"
)

// BookingHandler serves the booking lifecycle endpoints.
type BookingHandler struct {
	bookings  *application.BookingService
	responder responder
	logger    *slog.Logger
}

// NewBookingHandler creates a booking handler.
func NewBookingHandler(bookings *application.BookingService, logger *slog.Logger) *BookingHandler {
	logger = defaultLogger(logger)
	return &BookingHandler{
		bookings:  bookings,
		responder: newResponder(logger),
		logger:    logger,
	}
}

type recurrencePayload struct {
	Frequency string     `json:"frequency"`
	Interval  int        `json:"interval"`
	Count     int        `json:"count,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
	Weekdays  []int      `json:"weekdays,omitempty"`
}

type createBookingRequest struct {
	ResourceID string             `json:"resource_id"`
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	Attendees  []string           `json:"attendees,omitempty"`
	Recurrence *recurrencePayload `json:"recurrence,omitempty"`
}

type bookingPayload struct {
	ID           string     `json:"id"`
	ResourceID   string     `json:"resource_id"`
	RequesterID  string     `json:"requester_id"`
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	Status       string     `json:"status"`
	Origin       string     `json:"origin"`
	SeriesID     *string    `json:"series_id,omitempty"`
	Attendees    []string   `json:"attendees,omitempty"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty"`
	Version      int64      `json:"version"`
}

type rejectedInstancePayload struct {
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Reason        string     `json:"reason"`
	ConflictStart *time.Time `json:"conflict_start,omitempty"`
	ConflictEnd   *time.Time `json:"conflict_end,omitempty"`
}

type approvalStepPayload struct {
	ID         string     `json:"id"`
	BookingID  string     `json:"booking_id"`
	Role       string     `json:"role"`
	Tier       int        `json:"tier"`
	State      string     `json:"state"`
	DeciderID  string     `json:"decider_id,omitempty"`
	DelegateID string     `json:"delegate_id,omitempty"`
	Deadline   time.Time  `json:"deadline"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

type submitBookingResponse struct {
	Bookings []bookingPayload          `json:"bookings"`
	Rejected []rejectedInstancePayload `json:"rejected,omitempty"`
	Steps    []approvalStepPayload     `json:"approval_steps,omitempty"`
}

// Create handles POST /bookings.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	input := application.BookingInput{
		ResourceID: req.ResourceID,
		Start:      req.Start,
		End:        req.End,
		Attendees:  req.Attendees,
	}
	if req.Recurrence != nil {
		weekdays := make([]time.Weekday, 0, len(req.Recurrence.Weekdays))
		for _, day := range req.Recurrence.Weekdays {
			weekdays = append(weekdays, time.Weekday(day))
		}
		input.Recurrence = &application.RecurrenceInput{
			Frequency: req.Recurrence.Frequency,
			Interval:  req.Recurrence.Interval,
			Count:     req.Recurrence.Count,
			Until:     req.Recurrence.Until,
			Weekdays:  weekdays,
		}
	}

	origin := application.OriginSelfService
	if principal.IsAdmin {
		origin = application.OriginAdmin
	}
	result, err := h.bookings.Submit(ctx, application.SubmitBookingParams{
		Principal: principal,
		Input:     input,
		Origin:    origin,
	})
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "bookings", "create").
		InfoContext(ctx, "booking request processed", "created", len(result.Bookings), "rejected", len(result.Rejected))
	h.responder.writeJSON(ctx, w, http.StatusCreated, toSubmitResponse(result))
}

// Get handles GET /bookings/{id}.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	booking, err := h.bookings.Get(ctx, mux.Vars(r)["id"], principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toBookingPayload(booking))
}

// List handles GET /bookings.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	query := r.URL.Query()
	filter := application.BookingFilter{
		ResourceID: query.Get("resource_id"),
		SeriesID:   query.Get("series_id"),
	}
	for _, status := range query["status"] {
		filter.Statuses = append(filter.Statuses, application.BookingStatus(status))
	}
	if from := query.Get("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			h.responder.writeError(ctx, w, http.StatusBadRequest, errBadTimeFilter)
			return
		}
		filter.EndsAfter = &parsed
	}
	if to := query.Get("to"); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			h.responder.writeError(ctx, w, http.StatusBadRequest, errBadTimeFilter)
			return
		}
		filter.StartsBefore = &parsed
	}

	bookings, err := h.bookings.List(ctx, filter, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	payload := make([]bookingPayload, 0, len(bookings))
	for _, booking := range bookings {
		payload = append(payload, toBookingPayload(booking))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, payload)
}

// Cancel handles POST /bookings/{id}/cancel.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, "cancel", h.bookings.Cancel)
}

// CheckIn handles POST /bookings/{id}/checkin.
func (h *BookingHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, "checkin", h.bookings.CheckIn)
}

// CheckOut handles POST /bookings/{id}/checkout.
func (h *BookingHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, "checkout", h.bookings.CheckOut)
}

func (h *BookingHandler) lifecycleAction(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	action func(ctx context.Context, id string, principal application.Principal) (application.Booking, error),
) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	id := mux.Vars(r)["id"]
	booking, err := action(ctx, id, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "bookings", operation, "booking_id", id).
		InfoContext(ctx, "booking updated", "status", booking.Status)
	h.responder.writeJSON(ctx, w, http.StatusOK, toBookingPayload(booking))
}

type decisionRequest struct {
	Decision   string `json:"decision"`
	DelegateTo string `json:"delegate_to,omitempty"`
}

type decisionResponse struct {
	Outcome string                `json:"outcome"`
	NoOp    bool                  `json:"no_op,omitempty"`
	Booking bookingPayload        `json:"booking"`
	Steps   []approvalStepPayload `json:"steps"`
}

// Decide handles POST /bookings/{id}/approvals/{step}.
func (h *BookingHandler) Decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	vars := mux.Vars(r)
	bookingID := vars["id"]
	result, booking, err := h.bookings.SubmitDecision(ctx, application.DecisionInput{
		BookingID:  bookingID,
		StepID:     vars["step"],
		Decision:   application.Decision(req.Decision),
		DelegateTo: req.DelegateTo,
	}, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "bookings", "decide", "booking_id", bookingID).
		InfoContext(ctx, "decision applied", "outcome", result.Outcome, "no_op", result.NoOp)
	h.responder.writeJSON(ctx, w, http.StatusOK, decisionResponse{
		Outcome: string(result.Outcome),
		NoOp:    result.NoOp,
		Booking: toBookingPayload(booking),
		Steps:   toStepPayloads(result.Steps),
	})
}

// Approvals handles GET /bookings/{id}/approvals.
func (h *BookingHandler) Approvals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	steps, err := h.bookings.ApprovalChain(ctx, mux.Vars(r)["id"], principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toStepPayloads(steps))
}

func toBookingPayload(booking application.Booking) bookingPayload {
	return bookingPayload{
		ID:           booking.ID,
		ResourceID:   booking.ResourceID,
		RequesterID:  booking.RequesterID,
		Start:        booking.Start,
		End:          booking.End,
		Status:       string(booking.Status),
		Origin:       string(booking.Origin),
		SeriesID:     booking.SeriesID,
		Attendees:    booking.Attendees,
		CheckedInAt:  booking.CheckedInAt,
		CheckedOutAt: booking.CheckedOutAt,
		Version:      booking.Version,
	}
}

func toStepPayloads(steps []application.ApprovalStep) []approvalStepPayload {
	payload := make([]approvalStepPayload, 0, len(steps))
	for _, step := range steps {
		payload = append(payload, approvalStepPayload{
			ID:         step.ID,
			BookingID:  step.BookingID,
			Role:       step.Role,
			Tier:       step.Tier,
			State:      string(step.State),
			DeciderID:  step.DeciderID,
			DelegateID: step.DelegateID,
			Deadline:   step.Deadline,
			DecidedAt:  step.DecidedAt,
		})
	}
	return payload
}

func toSubmitResponse(result application.SubmitBookingResult) submitBookingResponse {
	resp := submitBookingResponse{
		Bookings: make([]bookingPayload, 0, len(result.Bookings)),
		Steps:    toStepPayloads(result.Steps),
	}
	for _, booking := range result.Bookings {
		resp.Bookings = append(resp.Bookings, toBookingPayload(booking))
	}
	for _, rejected := range result.Rejected {
		payload := rejectedInstancePayload{
			Start:  rejected.Start,
			End:    rejected.End,
			Reason: rejected.Reason,
		}
		if rejected.ConflictWith != nil {
			start, end := rejected.ConflictWith.Start, rejected.ConflictWith.End
			payload.ConflictStart = &start
			payload.ConflictEnd = &end
		}
		resp.Rejected = append(resp.Rejected, payload)
	}
	return resp
}
