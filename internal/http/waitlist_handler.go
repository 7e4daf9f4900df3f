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

// WaitlistHandler serves the waiting list endpoints.
type WaitlistHandler struct {
	waitlist  *application.WaitlistService
	responder responder
	logger    *slog.Logger
}

// NewWaitlistHandler creates a waiting list handler.
func NewWaitlistHandler(waitlist *application.WaitlistService, logger *slog.Logger) *WaitlistHandler {
	logger = defaultLogger(logger)
	return &WaitlistHandler{
		waitlist:  waitlist,
		responder: newResponder(logger),
		logger:    logger,
	}
}

type joinWaitlistRequest struct {
	ResourceID         string    `json:"resource_id"`
	WindowStart        time.Time `json:"window_start"`
	WindowEnd          time.Time `json:"window_end"`
	MinDurationMinutes int       `json:"min_duration_minutes"`
}

type waitlistEntryPayload struct {
	ID                 string     `json:"id"`
	ResourceID         string     `json:"resource_id"`
	RequesterID        string     `json:"requester_id"`
	WindowStart        time.Time  `json:"window_start"`
	WindowEnd          time.Time  `json:"window_end"`
	MinDurationMinutes int        `json:"min_duration_minutes"`
	Status             string     `json:"status"`
	RegisteredAt       time.Time  `json:"registered_at"`
	OfferStart         *time.Time `json:"offer_start,omitempty"`
	OfferEnd           *time.Time `json:"offer_end,omitempty"`
	OfferExpiresAt     *time.Time `json:"offer_expires_at,omitempty"`
	Version            int64      `json:"version"`
}

// Join handles POST /waitlist.
func (h *WaitlistHandler) Join(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	var req joinWaitlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	entry, err := h.waitlist.Join(ctx, application.JoinWaitlistParams{
		Principal:   principal,
		ResourceID:  req.ResourceID,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
		MinDuration: time.Duration(req.MinDurationMinutes) * time.Minute,
	})
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "waitlist", "join", "entry_id", entry.ID).
		InfoContext(ctx, "waiting list entry registered", "resource_id", entry.ResourceID)
	h.responder.writeJSON(ctx, w, http.StatusCreated, toEntryPayload(entry))
}

// Get handles GET /waitlist/{id}.
func (h *WaitlistHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	entry, err := h.waitlist.Get(ctx, mux.Vars(r)["id"], principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toEntryPayload(entry))
}

type acceptOfferResponse struct {
	Entry   waitlistEntryPayload `json:"entry"`
	Booking bookingPayload       `json:"booking"`
}

// Accept handles POST /waitlist/{id}/accept.
func (h *WaitlistHandler) Accept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	id := mux.Vars(r)["id"]
	booking, entry, err := h.waitlist.Accept(ctx, id, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "waitlist", "accept", "entry_id", id).
		InfoContext(ctx, "offer accepted", "booking_id", booking.ID)
	h.responder.writeJSON(ctx, w, http.StatusOK, acceptOfferResponse{
		Entry:   toEntryPayload(entry),
		Booking: toBookingPayload(booking),
	})
}

// Decline handles POST /waitlist/{id}/decline.
func (h *WaitlistHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, "decline", h.waitlist.Decline)
}

// Withdraw handles DELETE /waitlist/{id}.
func (h *WaitlistHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, "withdraw", h.waitlist.Withdraw)
}

func (h *WaitlistHandler) entryAction(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	action func(ctx context.Context, id string, principal application.Principal) (application.WaitingListEntry, error),
) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	id := mux.Vars(r)["id"]
	entry, err := action(ctx, id, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "waitlist", operation, "entry_id", id).
		InfoContext(ctx, "waiting list entry updated", "status", entry.Status)
	h.responder.writeJSON(ctx, w, http.StatusOK, toEntryPayload(entry))
}

func toEntryPayload(entry application.WaitingListEntry) waitlistEntryPayload {
	return waitlistEntryPayload{
		ID:                 entry.ID,
		ResourceID:         entry.ResourceID,
		RequesterID:        entry.RequesterID,
		WindowStart:        entry.WindowStart,
		WindowEnd:          entry.WindowEnd,
		MinDurationMinutes: int(entry.MinDuration / time.Minute),
		Status:             string(entry.Status),
		RegisteredAt:       entry.RegisteredAt,
		OfferStart:         entry.OfferStart,
		OfferEnd:           entry.OfferEnd,
		OfferExpiresAt:     entry.OfferExpiresAt,
		Version:            entry.Version,
	}
}
