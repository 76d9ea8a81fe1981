package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akshay-ctas/server/internal/service"
	"github.com/akshay-ctas/server/pkg/httputil"
)

// VariantImageHandler handles the variant and image sub-resources of a
// product. Image routes exist both at product level and under a variant; the
// variantId URL parameter is empty for the product-level scope.
type VariantImageHandler struct {
	coordinator *service.VariantImageCoordinator
	logger      *slog.Logger
}

// NewVariantImageHandler creates a new variant/image HTTP handler.
func NewVariantImageHandler(coordinator *service.VariantImageCoordinator, logger *slog.Logger) *VariantImageHandler {
	return &VariantImageHandler{
		coordinator: coordinator,
		logger:      logger,
	}
}

// AddVariant handles POST /api/v1/products/{id}/variants
func (h *VariantImageHandler) AddVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var input service.VariantInput
	if err := decodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, variant, err := h.coordinator.AddVariant(r.Context(), id.String(), &input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: map[string]any{
		"variant": variant,
		"product": product,
	}})
}

// EditVariant handles PATCH /api/v1/products/{id}/variants/{variantId}
func (h *VariantImageHandler) EditVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var input service.EditVariantInput
	if err := decodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.coordinator.EditVariant(r.Context(), id.String(), chi.URLParam(r, "variantId"), &input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// DeleteVariant handles DELETE /api/v1/products/{id}/variants/{variantId}
// The variant's images are removed with it.
func (h *VariantImageHandler) DeleteVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	product, err := h.coordinator.DeleteVariant(r.Context(), id.String(), chi.URLParam(r, "variantId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// AddImages handles POST /api/v1/products/{id}/images and
// POST /api/v1/products/{id}/variants/{variantId}/images
// The body is multipart/form-data: "images" files plus an optional "meta"
// field holding a JSON array of {altText, isPrimary} in file order.
func (h *VariantImageHandler) AddImages(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	form, err := parseUploadForm(w, r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	defer form.Close()

	var meta []service.ImageMeta
	if err := decodeField(form.value("meta"), "meta", &meta); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.coordinator.AddImages(r.Context(), id.String(), chi.URLParam(r, "variantId"), form.files, meta)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: product})
}

// DeleteImage handles DELETE /api/v1/products/{id}/images/{imageId} and
// DELETE /api/v1/products/{id}/variants/{variantId}/images/{imageId}
func (h *VariantImageHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	product, err := h.coordinator.DeleteImage(r.Context(), id.String(),
		chi.URLParam(r, "variantId"), chi.URLParam(r, "imageId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// SetPrimaryImage handles PUT /api/v1/products/{id}/images/{imageId}/primary
// and PUT /api/v1/products/{id}/variants/{variantId}/images/{imageId}/primary
func (h *VariantImageHandler) SetPrimaryImage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	product, err := h.coordinator.SetPrimaryImage(r.Context(), id.String(),
		chi.URLParam(r, "variantId"), chi.URLParam(r, "imageId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}
