package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/lab-booking/internal/application"
)

// ResourceHandler serves the resource catalog and approval rule endpoints.
type ResourceHandler struct {
	resources *application.ResourceService
	bookings  *application.BookingService
	responder responder
	logger    *slog.Logger
}

// NewResourceHandler creates a resource handler.
func NewResourceHandler(resources *application.ResourceService, bookings *application.BookingService, logger *slog.Logger) *ResourceHandler {
	logger = defaultLogger(logger)
	return &ResourceHandler{
		resources: resources,
		bookings:  bookings,
		responder: newResponder(logger),
		logger:    logger,
	}
}

type createResourceRequest struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	RiskTier        int    `json:"risk_tier"`
	RequiresCheckIn bool   `json:"requires_checkin"`
}

type resourcePayload struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            string    `json:"type"`
	RiskTier        int       `json:"risk_tier"`
	Active          bool      `json:"active"`
	RequiresCheckIn bool      `json:"requires_checkin"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Create handles POST /resources.
func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	var req createResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	resource, err := h.resources.Create(ctx, application.ResourceInput{
		Name:            req.Name,
		Type:            req.Type,
		RiskTier:        req.RiskTier,
		RequiresCheckIn: req.RequiresCheckIn,
	}, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "resources", "create", "resource_id", resource.ID).
		InfoContext(ctx, "resource registered", "type", resource.Type)
	h.responder.writeJSON(ctx, w, http.StatusCreated, toResourcePayload(resource))
}

// Update handles PUT /resources/{id}.
func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	var req createResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	id := mux.Vars(r)["id"]
	resource, err := h.resources.Update(ctx, id, application.ResourceInput{
		Name:            req.Name,
		Type:            req.Type,
		RiskTier:        req.RiskTier,
		RequiresCheckIn: req.RequiresCheckIn,
	}, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "resources", "update", "resource_id", id).
		InfoContext(ctx, "resource updated")
	h.responder.writeJSON(ctx, w, http.StatusOK, toResourcePayload(resource))
}

// Get handles GET /resources/{id}.
func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := PrincipalFromContext(ctx); !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	resource, err := h.resources.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toResourcePayload(resource))
}

// List handles GET /resources.
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := PrincipalFromContext(ctx); !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	resources, err := h.resources.List(ctx)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	payload := make([]resourcePayload, 0, len(resources))
	for _, resource := range resources {
		payload = append(payload, toResourcePayload(resource))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, payload)
}

// Close handles POST /resources/{id}/close. Closing deactivates the resource
// and cancels its future occupying bookings.
func (h *ResourceHandler) Close(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	id := mux.Vars(r)["id"]
	resource, err := h.bookings.CloseResource(ctx, id, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "resources", "close", "resource_id", id).
		InfoContext(ctx, "resource closed")
	h.responder.writeJSON(ctx, w, http.StatusOK, toResourcePayload(resource))
}

type maintenanceRequest struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason,omitempty"`
}

type maintenancePayload struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AddMaintenance handles POST /resources/{id}/maintenance.
func (h *ResourceHandler) AddMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	var req maintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	resourceID := mux.Vars(r)["id"]
	window, err := h.resources.AddMaintenanceWindow(ctx, resourceID, application.MaintenanceInput{
		Start:  req.Start,
		End:    req.End,
		Reason: req.Reason,
	}, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "resources", "add_maintenance", "resource_id", resourceID).
		InfoContext(ctx, "maintenance window registered", "window_id", window.ID)
	h.responder.writeJSON(ctx, w, http.StatusCreated, toMaintenancePayload(window))
}

// ListMaintenance handles GET /resources/{id}/maintenance.
func (h *ResourceHandler) ListMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := PrincipalFromContext(ctx); !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	windows, err := h.resources.ListMaintenanceWindows(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	payload := make([]maintenancePayload, 0, len(windows))
	for _, window := range windows {
		payload = append(payload, toMaintenancePayload(window))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, payload)
}

type approvalRuleRequest struct {
	Name               string   `json:"name"`
	Priority           int      `json:"priority"`
	ResourceTypes      []string `json:"resource_types,omitempty"`
	MinRiskTier        int      `json:"min_risk_tier"`
	MinDurationMinutes int      `json:"min_duration_minutes"`
	Role               string   `json:"role"`
	Tier               int      `json:"tier"`
	AutoApprove        bool     `json:"auto_approve"`
	DeadlinePolicy     string   `json:"deadline_policy"`
	EscalateToRole     string   `json:"escalate_to_role,omitempty"`
}

type approvalRulePayload struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Priority           int      `json:"priority"`
	ResourceTypes      []string `json:"resource_types,omitempty"`
	MinRiskTier        int      `json:"min_risk_tier"`
	MinDurationMinutes int      `json:"min_duration_minutes"`
	Role               string   `json:"role,omitempty"`
	Tier               int      `json:"tier"`
	AutoApprove        bool     `json:"auto_approve"`
	DeadlinePolicy     string   `json:"deadline_policy"`
	EscalateToRole     string   `json:"escalate_to_role,omitempty"`
}

// CreateRule handles POST /approval-rules.
func (h *ResourceHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	var req approvalRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	rule, err := h.resources.CreateRule(ctx, application.ApprovalRule{
		Name:           req.Name,
		Priority:       req.Priority,
		ResourceTypes:  req.ResourceTypes,
		MinRiskTier:    req.MinRiskTier,
		MinDuration:    time.Duration(req.MinDurationMinutes) * time.Minute,
		Role:           req.Role,
		Tier:           req.Tier,
		AutoApprove:    req.AutoApprove,
		DeadlinePolicy: application.DeadlinePolicy(req.DeadlinePolicy),
		EscalateToRole: req.EscalateToRole,
	}, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	handlerLogger(ctx, h.logger, "resources", "create_rule", "rule_id", rule.ID).
		InfoContext(ctx, "approval rule registered", "priority", rule.Priority)
	h.responder.writeJSON(ctx, w, http.StatusCreated, toRulePayload(rule))
}

// ListRules handles GET /approval-rules.
func (h *ResourceHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingToken)
		return
	}

	rules, err := h.resources.ListRules(ctx, principal)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	payload := make([]approvalRulePayload, 0, len(rules))
	for _, rule := range rules {
		payload = append(payload, toRulePayload(rule))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, payload)
}

func toResourcePayload(resource application.Resource) resourcePayload {
	return resourcePayload{
		ID:              resource.ID,
		Name:            resource.Name,
		Type:            resource.Type,
		RiskTier:        resource.RiskTier,
		Active:          resource.Active,
		RequiresCheckIn: resource.RequiresCheckIn,
		CreatedAt:       resource.CreatedAt,
		UpdatedAt:       resource.UpdatedAt,
	}
}

func toMaintenancePayload(window application.MaintenanceWindow) maintenancePayload {
	return maintenancePayload{
		ID:         window.ID,
		ResourceID: window.ResourceID,
		Start:      window.Start,
		End:        window.End,
		Reason:     window.Reason,
		CreatedAt:  window.CreatedAt,
	}
}

func toRulePayload(rule application.ApprovalRule) approvalRulePayload {
	return approvalRulePayload{
		ID:                 rule.ID,
		Name:               rule.Name,
		Priority:           rule.Priority,
		ResourceTypes:      rule.ResourceTypes,
		MinRiskTier:        rule.MinRiskTier,
		MinDurationMinutes: int(rule.MinDuration / time.Minute),
		Role:               rule.Role,
		Tier:               rule.Tier,
		AutoApprove:        rule.AutoApprove,
		DeadlinePolicy:     string(rule.DeadlinePolicy),
		EscalateToRole:     rule.EscalateToRole,
	}
}
