package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akshay-ctas/server/internal/repository"
	"github.com/akshay-ctas/server/internal/service"
	"github.com/akshay-ctas/server/pkg/health"
	"github.com/akshay-ctas/server/pkg/middleware"
)

// RouterConfig carries the collaborators and policies of the HTTP surface.
type RouterConfig struct {
	ServiceName string
	Products    *service.ProductService
	Coordinator *service.VariantImageCoordinator
	Categories  repository.CategoryRepository
	Health      *health.Handler
	Tokens      middleware.TokenValidator
	CORS        middleware.CORSConfig

	// RateLimit guards mutating routes; nil disables it.
	RateLimit func(http.Handler) http.Handler

	// Blobs, when set, serves uploaded objects under /blobs.
	Blobs http.Handler

	// PprofAllowedCIDRs exposes /debug/pprof to these networks; empty disables it.
	PprofAllowedCIDRs []string

	// ReadCacheMaxAge sets Cache-Control on public reads, in seconds; 0 disables it.
	ReadCacheMaxAge int

	Logger *slog.Logger
}

// NewRouter creates a chi router with all catalog routes registered.
// Reads are public; every mutation needs an admin bearer token.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Blobs != nil {
		r.Handle("/blobs/*", http.StripPrefix("/blobs", cfg.Blobs))
	}
	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	products := NewProductHandler(cfg.Products, logger)
	variants := NewVariantImageHandler(cfg.Coordinator, logger)
	categories := NewCategoryHandler(cfg.Categories, logger)

	public := func(h http.HandlerFunc) http.Handler {
		if cfg.ReadCacheMaxAge > 0 {
			return middleware.CacheControl(cfg.ReadCacheMaxAge)(h)
		}
		return h
	}

	admin := func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Tokens, logger))
		r.Use(middleware.RequireRole(middleware.RoleAdmin))
		r.Use(middleware.RequestLogger(logger))
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit)
		}
	}

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Method(http.MethodGet, "/", public(products.ListProducts))
		r.Method(http.MethodGet, "/{idOrSlug}", public(products.GetProduct))

		r.Group(func(r chi.Router) {
			admin(r)

			r.Post("/", products.CreateProduct)
			r.Patch("/{id}", products.UpdateProduct)
			r.Delete("/{id}", products.DeleteProduct)

			r.Post("/{id}/variants", variants.AddVariant)
			r.Patch("/{id}/variants/{variantId}", variants.EditVariant)
			r.Delete("/{id}/variants/{variantId}", variants.DeleteVariant)

			r.Post("/{id}/images", variants.AddImages)
			r.Delete("/{id}/images/{imageId}", variants.DeleteImage)
			r.Put("/{id}/images/{imageId}/primary", variants.SetPrimaryImage)

			r.Post("/{id}/variants/{variantId}/images", variants.AddImages)
			r.Delete("/{id}/variants/{variantId}/images/{imageId}", variants.DeleteImage)
			r.Put("/{id}/variants/{variantId}/images/{imageId}/primary", variants.SetPrimaryImage)
		})
	})

	r.Route("/api/v1/categories", func(r chi.Router) {
		r.Method(http.MethodGet, "/", public(categories.ListCategories))
		r.Method(http.MethodGet, "/{id}", public(categories.GetCategory))

		r.Group(func(r chi.Router) {
			admin(r)
			r.Post("/", categories.CreateCategory)
		})
	})

	return r
}
