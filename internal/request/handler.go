package request

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvia/approvia/internal/budget"
	"github.com/approvia/approvia/internal/platform/httpx"
	"github.com/approvia/approvia/internal/shared"
)

// Handler wires HTTP endpoints for the payment request workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers request routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/approvals", h.approvals)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/validate", h.validate)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/pay", h.pay)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/return", h.sendBack)
	r.Post("/{id}/request-adjustment", h.requestAdjustment)
	r.Post("/{id}/resubmit", h.resubmit)
	r.Put("/{id}/quotations", h.setQuotations)
}

type createRequestBody struct {
	Description    string  `json:"description" validate:"required"`
	Amount         string  `json:"amount" validate:"required"`
	Currency       string  `json:"currency" validate:"omitempty,len=3"`
	VendorID       int64   `json:"vendor_id" validate:"required"`
	CostCenterID   int64   `json:"cost_center_id" validate:"required"`
	CategoryID     *int64  `json:"category_id"`
	InBudget       bool    `json:"in_budget"`
	InvoiceDate    string  `json:"invoice_date" validate:"required"`
	CompetenceDate string  `json:"competence_date"`
	DueDate        string  `json:"due_date"`
	QuotationCount int     `json:"quotation_count"`
	ReportedTax    *string `json:"reported_tax"`
}

type requestResponse struct {
	ID                string           `json:"id"`
	Number            string           `json:"number"`
	RequesterID       int64            `json:"requester_id"`
	Description       string           `json:"description"`
	Amount            string           `json:"amount"`
	Currency          string           `json:"currency"`
	VendorID          int64            `json:"vendor_id"`
	CostCenterID      int64            `json:"cost_center_id"`
	CategoryID        *int64           `json:"category_id,omitempty"`
	InBudget          bool             `json:"in_budget"`
	Status            string           `json:"status"`
	ApprovalLevel     int              `json:"approval_level"`
	CurrentApproverID *int64           `json:"current_approver_id,omitempty"`
	InvoiceDate       string           `json:"invoice_date"`
	CompetenceDate    string           `json:"competence_date,omitempty"`
	DueDate           string           `json:"due_date,omitempty"`
	QuotationCount    int              `json:"quotation_count"`
	ReportedTax       *string          `json:"reported_tax,omitempty"`
	TaxCheck          string           `json:"tax_check,omitempty"`
	ApprovedAt        *time.Time       `json:"approved_at,omitempty"`
	RejectedAt        *time.Time       `json:"rejected_at,omitempty"`
	PaidAt            *time.Time       `json:"paid_at,omitempty"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty"`
	Payment           *paymentResponse `json:"payment,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type paymentResponse struct {
	Method    string `json:"method"`
	Reference string `json:"reference"`
	PaidBy    int64  `json:"paid_by"`
}

func toResponse(pr PaymentRequest) requestResponse {
	resp := requestResponse{
		ID:                pr.ID.String(),
		Number:            pr.Number,
		RequesterID:       pr.RequesterID,
		Description:       pr.Description,
		Amount:            pr.Amount.String(),
		Currency:          pr.Currency,
		VendorID:          pr.VendorID,
		CostCenterID:      pr.CostCenterID,
		CategoryID:        pr.CategoryID,
		InBudget:          pr.InBudget,
		Status:            string(pr.Status),
		ApprovalLevel:     pr.ApprovalLevel,
		CurrentApproverID: pr.CurrentApproverID,
		InvoiceDate:       pr.InvoiceDate.Format("2006-01-02"),
		QuotationCount:    pr.QuotationCount,
		TaxCheck:          string(pr.TaxCheck),
		ApprovedAt:        pr.ApprovedAt,
		RejectedAt:        pr.RejectedAt,
		PaidAt:            pr.PaidAt,
		CancelledAt:       pr.CancelledAt,
		CreatedAt:         pr.CreatedAt,
		UpdatedAt:         pr.UpdatedAt,
	}
	if !pr.CompetenceDate.IsZero() {
		resp.CompetenceDate = pr.CompetenceDate.Format("2006-01-02")
	}
	if !pr.DueDate.IsZero() {
		resp.DueDate = pr.DueDate.Format("2006-01-02")
	}
	if pr.ReportedTax != nil {
		s := pr.ReportedTax.String()
		resp.ReportedTax = &s
	}
	if pr.Payment.PaidBy != 0 || pr.Payment.Reference != "" {
		resp.Payment = &paymentResponse{Method: pr.Payment.Method, Reference: pr.Payment.Reference, PaidBy: pr.Payment.PaidBy}
	}
	return resp
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, budget.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrInsufficientQuotations):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Quotations", err.Error())
	case errors.Is(err, budget.ErrInsufficientBudget):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Budget", err.Error())
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("request handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok || actorID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return 0, false
	}
	return actorID, true
}

func (h *Handler) requestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return uuid.Nil, false
	}
	return id, true
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", value)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body createRequestBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amount")
		return
	}
	invoiceDate, err := parseDate(body.InvoiceDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice_date")
		return
	}
	competenceDate, err := parseDate(body.CompetenceDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid competence_date")
		return
	}
	dueDate, err := parseDate(body.DueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid due_date")
		return
	}
	var reportedTax *decimal.Decimal
	if body.ReportedTax != nil {
		tax, err := decimal.NewFromString(*body.ReportedTax)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid reported_tax")
			return
		}
		reportedTax = &tax
	}
	pr, err := h.service.Create(r.Context(), CreateInput{
		RequesterID:    actorID,
		Description:    body.Description,
		Amount:         amount,
		Currency:       body.Currency,
		VendorID:       body.VendorID,
		CostCenterID:   body.CostCenterID,
		CategoryID:     body.CategoryID,
		InBudget:       body.InBudget,
		InvoiceDate:    invoiceDate,
		CompetenceDate: competenceDate,
		DueDate:        dueDate,
		QuotationCount: body.QuotationCount,
		ReportedTax:    reportedTax,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(pr))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	requesterID, _ := strconv.ParseInt(r.URL.Query().Get("requester_id"), 10, 64)
	costCenterID, _ := strconv.ParseInt(r.URL.Query().Get("cost_center_id"), 10, 64)
	approverID, _ := strconv.ParseInt(r.URL.Query().Get("approver_id"), 10, 64)
	filters := ListFilters{
		Status:       Status(r.URL.Query().Get("status")),
		RequesterID:  requesterID,
		CostCenterID: costCenterID,
		ApproverID:   approverID,
	}
	items, err := h.service.List(r.Context(), filters, perPage, (page-1)*perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	total, err := h.service.Count(r.Context(), filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]requestResponse, 0, len(items))
	for _, pr := range items {
		out = append(out, toResponse(pr))
	}
	meta := shared.NewPagination(page, perPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items": out,
		"meta": map[string]any{
			"page":        meta.Page,
			"per_page":    meta.PerPage,
			"total":       meta.Total,
			"total_pages": meta.TotalPages,
		},
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	pr, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(pr))
}

type approvalResponse struct {
	ApproverID int64     `json:"approver_id"`
	Action     string    `json:"action"`
	Level      int       `json:"level"`
	Comment    string    `json:"comment,omitempty"`
	At         time.Time `json:"at"`
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ApprovalHistory(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]approvalResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, approvalResponse{ApproverID: e.ApproverID, Action: string(e.Action), Level: e.Level, Comment: e.Comment, At: e.At})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

type statusResponse struct {
	Status  string    `json:"status"`
	ActorID int64     `json:"actor_id"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.StatusHistory(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]statusResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, statusResponse{Status: string(e.Status), ActorID: e.ActorID, Reason: e.Reason, At: e.At})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

type actionBody struct {
	Comment string `json:"comment"`
	Reason  string `json:"reason"`
}

func decodeAction(r *http.Request) actionBody {
	var body actionBody
	// Action bodies are optional for comment-less transitions.
	_ = httpx.DecodeJSON(r, &body)
	return body
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID, int64) error) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	if err := fn(id, actorID); err != nil {
		h.respondError(w, err)
		return
	}
	pr, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(pr))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actorID int64) error {
		return h.service.Submit(r.Context(), id, actorID)
	})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	body := decodeAction(r)
	h.transition(w, r, func(id uuid.UUID, actorID int64) error {
		return h.service.Validate(r.Context(), id, actorID, body.Comment)
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	body := decodeAction(r)
	h.transition(w, r, func(id uuid.UUID, actorID int64) error {
		return h.service.Approve(r.Context(), id, actorID, body.Comment)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	body := decodeAction(r)
	h.transition(w, r, func(id uuid.UUID, actorID int64) error {
		return h.service.Reject(r.Context(), id, actorID, body.Reason)
	})
}

type payBody struct {
	Method    string `json:"method" validate:"required"`
	Reference string `json:"reference" validate:"required"`
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	var body payBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.MarkAsPaid(r.Context(), id, actorID, PaymentDetails{Method: body.Method, Reference: body.Reference}); err != nil {
		h.respondError(w, err)
		return
	}
	pr, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(pr))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	body := decodeAction(r)
	h.transition(w, r, func(id uuid.UUID, actorID int64) error {
		return h.service.Cancel(r.Context(), id, actorID, body.Reason)
	})
}

func (h *Handler) sendBack(w http.ResponseWriter, r *http.Request) {
	body := decodeAction(r)
	h.transition(w, r, func(id uuid.UUID, actorID int64) error {
		return h.service.Return(r.Context(), id, actorID, body.Reason)
	})
}

func (h *Handler) requestAdjustment(w http.ResponseWriter, r *http.Request) {
	body := decodeAction(r)
	h.transition(w, r, func(id uuid.UUID, actorID int64) error {
		return h.service.RequestAdjustment(r.Context(), id, actorID, body.Reason)
	})
}

func (h *Handler) resubmit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actorID int64) error {
		return h.service.Resubmit(r.Context(), id, actorID)
	})
}

type quotationsBody struct {
	Count int `json:"count" validate:"min=0"`
}

func (h *Handler) setQuotations(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	var body quotationsBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.service.SetQuotationCount(r.Context(), id, actorID, body.Count); err != nil {
		h.respondError(w, err)
		return
	}
	pr, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":       id.String(),
		"count":    pr.QuotationCount,
		"required": h.service.Gate().QuotationsRequired(pr.Amount),
	})
}
