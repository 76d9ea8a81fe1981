package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/repository"
	"github.com/akshay-ctas/server/pkg/httputil"
	"github.com/akshay-ctas/server/pkg/slug"
	"github.com/akshay-ctas/server/pkg/validator"
)

// CategoryHandler handles HTTP requests for category endpoints.
type CategoryHandler struct {
	repo   repository.CategoryRepository
	logger *slog.Logger
}

// NewCategoryHandler creates a new category HTTP handler.
func NewCategoryHandler(repo repository.CategoryRepository, logger *slog.Logger) *CategoryHandler {
	return &CategoryHandler{
		repo:   repo,
		logger: logger,
	}
}

// CreateCategoryRequest is the JSON request body for creating a category.
type CreateCategoryRequest struct {
	Name      string  `json:"name" validate:"notblank,max=255"`
	Slug      string  `json:"slug,omitempty" validate:"omitempty,slug,max=255"`
	ParentID  *string `json:"parentId,omitempty" validate:"omitempty,uuid"`
	SortOrder int     `json:"sortOrder" validate:"gte=0"`
	IsActive  *bool   `json:"isActive,omitempty"`
}

// ListCategories handles GET /api/v1/categories
// Pass ?active=true to list only active categories.
func (h *CategoryHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.List(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: categories})
}

// GetCategory handles GET /api/v1/categories/{id}
func (h *CategoryHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	category, err := h.repo.GetByID(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: category})
}

// CreateCategory handles POST /api/v1/categories
func (h *CategoryHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	categorySlug := req.Slug
	if categorySlug == "" {
		categorySlug = slug.Generate(req.Name)
	}
	if !slug.Valid(categorySlug) {
		httputil.WriteBadRequest(w, "INVALID_INPUT", "name must contain letters or digits")
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	now := time.Now().UTC()
	category := &domain.Category{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Slug:      categorySlug,
		ParentID:  req.ParentID,
		IsActive:  isActive,
		SortOrder: req.SortOrder,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.repo.Create(r.Context(), category); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: category})
}
