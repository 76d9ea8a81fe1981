package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/repository"
	"github.com/akshay-ctas/server/internal/service"
	"github.com/akshay-ctas/server/pkg/httputil"
	"github.com/akshay-ctas/server/pkg/pagination"
)

// ProductHandler handles HTTP requests for product endpoints.
type ProductHandler struct {
	service *service.ProductService
	logger  *slog.Logger
}

// NewProductHandler creates a new product HTTP handler.
func NewProductHandler(svc *service.ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{
		service: svc,
		logger:  logger,
	}
}

// ListProducts handles GET /api/v1/products
// Query: page, per_page, sort (createdAt|price|title|sortOrder, "-" prefix
// for descending), status, category_id, search.
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r, repository.SortFields()...)
	filter := repository.ProductFilter{
		SortBy:  params.SortBy,
		Desc:    params.Desc,
		Page:    params.Page,
		PerPage: params.PerPage,
	}

	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := domain.ProductStatus(strings.ToUpper(v))
		if !status.Valid() {
			httputil.WriteBadRequest(w, "INVALID_PARAMETER", "status must be one of: DRAFT, ACTIVE, ARCHIVED")
			return
		}
		filter.Status = &status
	}
	if v := q.Get("category_id"); v != "" {
		filter.CategoryID = &v
	}
	if v := strings.TrimSpace(q.Get("search")); v != "" {
		filter.Search = &v
	}

	products, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(products, total, params))
}

// GetProduct handles GET /api/v1/products/{idOrSlug}
// It accepts both a UUID (product ID) and a slug for lookup.
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.Get(r.Context(), chi.URLParam(r, "idOrSlug"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// CreateProduct handles POST /api/v1/products
// The body is multipart/form-data: a "payload" field holding the product JSON
// and zero or more "images" files, annotated by payload.imagesMeta.
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	form, err := parseUploadForm(w, r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	defer form.Close()

	var input service.CreateProductInput
	if strings.TrimSpace(form.value("payload")) == "" {
		httputil.WriteBadRequest(w, "INVALID_INPUT", "payload field is required")
		return
	}
	if err := decodeField(form.value("payload"), "payload", &input); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.service.Create(r.Context(), &input, form.files)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: product})
}

// UpdateProduct handles PATCH /api/v1/products/{id}
// Every field is optional. Images are not editable here.
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var input service.UpdateProductInput
	if err := decodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.service.UpdateDetails(r.Context(), id.String(), &input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// DeleteProduct handles DELETE /api/v1/products/{id}
// The product and its image blobs are removed.
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"id": id.String(), "status": "deleted"}})
}
