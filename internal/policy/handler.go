package policy

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/approvia/approvia/internal/platform/httpx"
)

// Handler wires HTTP endpoints for approval policy management.
type Handler struct {
	logger    *slog.Logger
	service   *Resolver
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Resolver) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers policy routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.listActive)
	r.Get("/resolve", h.resolve)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Post("/{id}/status", h.setStatus)
}

type approverBody struct {
	Level      int   `json:"level" validate:"required,min=1"`
	UserID     int64 `json:"user_id" validate:"required"`
	IsRequired bool  `json:"is_required"`
	CanSkip    bool  `json:"can_skip"`
}

type conditionsBody struct {
	RequiresAllApprovers  bool `json:"requires_all_approvers"`
	AllowParallelApproval bool `json:"allow_parallel_approval"`
	EscalationTimeHours   int  `json:"escalation_time_hours"`
	RequiresDocuments     bool `json:"requires_documents"`
	AllowSelfApproval     bool `json:"allow_self_approval"`
}

type policyBody struct {
	Name         string         `json:"name" validate:"required"`
	MinAmount    string         `json:"min_amount" validate:"required"`
	MaxAmount    string         `json:"max_amount" validate:"required"`
	CategoryID   *int64         `json:"category_id"`
	CostCenterID *int64         `json:"cost_center_id"`
	Priority     int            `json:"priority"`
	Approvers    []approverBody `json:"approvers" validate:"required,min=1,dive"`
	Conditions   conditionsBody `json:"conditions"`
}

type policyResponse struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	MinAmount    string         `json:"min_amount"`
	MaxAmount    string         `json:"max_amount"`
	CategoryID   *int64         `json:"category_id,omitempty"`
	CostCenterID *int64         `json:"cost_center_id,omitempty"`
	Priority     int            `json:"priority"`
	Status       string         `json:"status"`
	Approvers    []approverBody `json:"approvers"`
	Conditions   conditionsBody `json:"conditions"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func toResponse(p Policy) policyResponse {
	resp := policyResponse{
		ID:           p.ID,
		Name:         p.Name,
		MinAmount:    p.MinAmount.String(),
		MaxAmount:    p.MaxAmount.String(),
		CategoryID:   p.CategoryID,
		CostCenterID: p.CostCenterID,
		Priority:     p.Priority,
		Status:       string(p.Status),
		Conditions: conditionsBody{
			RequiresAllApprovers:  p.Conditions.RequiresAllApprovers,
			AllowParallelApproval: p.Conditions.AllowParallelApproval,
			EscalationTimeHours:   p.Conditions.EscalationTimeHours,
			RequiresDocuments:     p.Conditions.RequiresDocuments,
			AllowSelfApproval:     p.Conditions.AllowSelfApproval,
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	for _, a := range p.Approvers {
		resp.Approvers = append(resp.Approvers, approverBody{Level: a.Level, UserID: a.UserID, IsRequired: a.IsRequired, CanSkip: a.CanSkip})
	}
	return resp
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNoApplicablePolicy):
		httpx.Problem(w, http.StatusNotFound, "No Applicable Policy", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("policy handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) decodePolicy(w http.ResponseWriter, r *http.Request) (Policy, bool) {
	var body policyBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return Policy{}, false
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return Policy{}, false
	}
	minAmount, err := decimal.NewFromString(body.MinAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid min_amount")
		return Policy{}, false
	}
	maxAmount, err := decimal.NewFromString(body.MaxAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid max_amount")
		return Policy{}, false
	}
	p := Policy{
		Name:         body.Name,
		MinAmount:    minAmount,
		MaxAmount:    maxAmount,
		CategoryID:   body.CategoryID,
		CostCenterID: body.CostCenterID,
		Priority:     body.Priority,
		Conditions: Conditions{
			RequiresAllApprovers:  body.Conditions.RequiresAllApprovers,
			AllowParallelApproval: body.Conditions.AllowParallelApproval,
			EscalationTimeHours:   body.Conditions.EscalationTimeHours,
			RequiresDocuments:     body.Conditions.RequiresDocuments,
			AllowSelfApproval:     body.Conditions.AllowSelfApproval,
		},
	}
	for _, a := range body.Approvers {
		p.Approvers = append(p.Approvers, Approver{Level: a.Level, UserID: a.UserID, IsRequired: a.IsRequired, CanSkip: a.CanSkip})
	}
	return p, true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodePolicy(w, r)
	if !ok {
		return
	}
	created, err := h.service.Create(r.Context(), p)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) listActive(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListActive(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]policyResponse, 0, len(items))
	for _, p := range items {
		out = append(out, toResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

// resolve answers "which policy governs this request" without side effects.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amount")
		return
	}
	var categoryID, costCenterID *int64
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid category_id")
			return
		}
		categoryID = &v
	}
	if raw := r.URL.Query().Get("cost_center_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cost_center_id")
			return
		}
		costCenterID = &v
	}
	p, err := h.service.FindApplicable(r.Context(), amount, categoryID, costCenterID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) policyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid policy id")
		return 0, false
	}
	return id, true
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	p, ok := h.decodePolicy(w, r)
	if !ok {
		return
	}
	p.ID = id
	if err := h.service.Update(r.Context(), p); err != nil {
		h.respondError(w, err)
		return
	}
	updated, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(updated))
}

type policyStatusBody struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	var body policyStatusBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetStatus(r.Context(), id, Status(body.Status)); err != nil {
		h.respondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}
