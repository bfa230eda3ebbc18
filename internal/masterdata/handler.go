package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/approvia/approvia/internal/platform/httpx"
)

// Handler wires HTTP endpoints for master data.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers master data routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/cost-centers", func(r chi.Router) {
		r.Post("/", h.createCostCenter)
		r.Get("/", h.listCostCenters)
		r.Get("/{id}", h.getCostCenter)
	})
	r.Route("/vendors", func(r chi.Router) {
		r.Post("/", h.createVendor)
		r.Get("/", h.listVendors)
		r.Get("/{id}", h.getVendor)
	})
	r.Route("/categories", func(r chi.Router) {
		r.Post("/", h.createCategory)
		r.Get("/", h.listCategories)
		r.Get("/{id}", h.getCategory)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("masterdata handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

type costCenterBody struct {
	Code      string `json:"code" validate:"required"`
	Name      string `json:"name" validate:"required"`
	ManagerID int64  `json:"manager_id" validate:"required"`
}

type costCenterResponse struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	ManagerID int64  `json:"manager_id"`
	Committed string `json:"committed"`
	Spent     string `json:"spent"`
	Active    bool   `json:"active"`
}

func toCostCenterResponse(cc CostCenter) costCenterResponse {
	return costCenterResponse{
		ID:        cc.ID,
		Code:      cc.Code,
		Name:      cc.Name,
		ManagerID: cc.ManagerID,
		Committed: cc.Committed.String(),
		Spent:     cc.Spent.String(),
		Active:    cc.Active,
	}
}

func (h *Handler) createCostCenter(w http.ResponseWriter, r *http.Request) {
	var body costCenterBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cc, err := h.service.CreateCostCenter(r.Context(), CostCenter{Code: body.Code, Name: body.Name, ManagerID: body.ManagerID, Active: true})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCostCenterResponse(cc))
}

func (h *Handler) listCostCenters(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListCostCenters(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]costCenterResponse, 0, len(items))
	for _, cc := range items {
		out = append(out, toCostCenterResponse(cc))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) getCostCenter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cc, err := h.service.GetCostCenter(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCostCenterResponse(cc))
}

type vendorBody struct {
	Code  string `json:"code" validate:"required"`
	Name  string `json:"name" validate:"required"`
	TaxID string `json:"tax_id"`
}

type vendorResponse struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	TaxID  string `json:"tax_id,omitempty"`
	Active bool   `json:"active"`
}

func toVendorResponse(v Vendor) vendorResponse {
	return vendorResponse{ID: v.ID, Code: v.Code, Name: v.Name, TaxID: v.TaxID, Active: v.Active}
}

func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	var body vendorBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	v, err := h.service.CreateVendor(r.Context(), Vendor{Code: body.Code, Name: body.Name, TaxID: body.TaxID, Active: true})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toVendorResponse(v))
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListVendors(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]vendorResponse, 0, len(items))
	for _, v := range items {
		out = append(out, toVendorResponse(v))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) getVendor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.service.GetVendor(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVendorResponse(v))
}

type categoryBody struct {
	Code string `json:"code" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type categoryResponse struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func toCategoryResponse(c Category) categoryResponse {
	return categoryResponse{ID: c.ID, Code: c.Code, Name: c.Name, Active: c.Active}
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var body categoryBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	c, err := h.service.CreateCategory(r.Context(), Category{Code: body.Code, Name: body.Name, Active: true})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCategoryResponse(c))
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]categoryResponse, 0, len(items))
	for _, c := range items {
		out = append(out, toCategoryResponse(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) getCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetCategory(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCategoryResponse(c))
}
