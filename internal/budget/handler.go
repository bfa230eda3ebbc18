package budget

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

// Handler wires HTTP endpoints for budget management.
type Handler struct {
	logger    *slog.Logger
	service   *Ledger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Ledger) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers budget routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}/planned", h.setPlanned)
	r.Post("/{id}/status", h.setStatus)
	r.Get("/availability", h.availability)
}

type budgetResponse struct {
	ID           int64     `json:"id"`
	CostCenterID int64     `json:"cost_center_id"`
	CategoryID   *int64    `json:"category_id,omitempty"`
	Year         int       `json:"year"`
	Period       string    `json:"period"`
	Planned      string    `json:"planned"`
	Spent        string    `json:"spent"`
	Committed    string    `json:"committed"`
	Available    string    `json:"available"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toResponse(b Budget) budgetResponse {
	return budgetResponse{
		ID:           b.ID,
		CostCenterID: b.CostCenterID,
		CategoryID:   b.CategoryID,
		Year:         b.Year,
		Period:       string(b.Period),
		Planned:      b.Planned.String(),
		Spent:        b.Spent.String(),
		Committed:    b.Committed.String(),
		Available:    b.Available.String(),
		Status:       string(b.Status),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientBudget), errors.Is(err, ErrInsufficientCommitted):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Budget", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("budget handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) budgetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid budget id")
		return 0, false
	}
	return id, true
}

type createBudgetBody struct {
	CostCenterID int64  `json:"cost_center_id" validate:"required"`
	CategoryID   *int64 `json:"category_id"`
	Year         int    `json:"year" validate:"required,min=2000"`
	Period       string `json:"period" validate:"required,oneof=monthly quarterly annual"`
	Planned      string `json:"planned" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createBudgetBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	planned, err := decimal.NewFromString(body.Planned)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid planned amount")
		return
	}
	b, err := h.service.Create(r.Context(), Budget{
		CostCenterID: body.CostCenterID,
		CategoryID:   body.CategoryID,
		Year:         body.Year,
		Period:       Period(body.Period),
		Planned:      planned,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(b))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	costCenterID, _ := strconv.ParseInt(r.URL.Query().Get("cost_center_id"), 10, 64)
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	items, err := h.service.List(r.Context(), costCenterID, year, limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]budgetResponse, 0, len(items))
	for _, b := range items {
		out = append(out, toResponse(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out, "limit": limit, "offset": offset})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(b))
}

type plannedBody struct {
	Planned string `json:"planned" validate:"required"`
}

func (h *Handler) setPlanned(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	var body plannedBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	planned, err := decimal.NewFromString(body.Planned)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid planned amount")
		return
	}
	if err := h.service.SetPlanned(r.Context(), id, planned); err != nil {
		h.respondError(w, err)
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(b))
}

type statusBody struct {
	Status string `json:"status" validate:"required,oneof=draft approved active closed"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	var body statusBody
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
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(b))
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	costCenterID, _ := strconv.ParseInt(r.URL.Query().Get("cost_center_id"), 10, 64)
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))
	if costCenterID <= 0 || year <= 0 || month < 1 || month > 12 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cost_center_id, year and month required")
		return
	}
	ref := BucketRef{CostCenterID: costCenterID, Year: year, Month: month}
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		categoryID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid category_id")
			return
		}
		ref.CategoryID = &categoryID
	}
	b, err := h.service.FindApplicable(r.Context(), ref)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"budget_id": b.ID,
		"available": b.Available.String(),
		"committed": b.Committed.String(),
		"spent":     b.Spent.String(),
		"planned":   b.Planned.String(),
	})
}
