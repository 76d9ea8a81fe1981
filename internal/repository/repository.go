package repository

import (
	"context"
	"fmt"

	"github.com/akshay-ctas/server/internal/domain"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
)

// ErrVersionConflict is returned by ProductRepository.Save when the stored
// aggregate has moved past the version the caller loaded.
var ErrVersionConflict = fmt.Errorf("%w: product was modified concurrently", apperrors.ErrConflict)

// Sortable product fields.
const (
	SortCreatedAt = "createdAt"
	SortPrice     = "price"
	SortTitle     = "title"
	SortSortOrder = "sortOrder"
)

// SortFields lists the accepted values of ProductFilter.SortBy.
func SortFields() []string {
	return []string{SortCreatedAt, SortPrice, SortTitle, SortSortOrder}
}

// ProductFilter defines filter criteria for listing products.
type ProductFilter struct {
	Search     *string
	Status     *domain.ProductStatus
	CategoryID *string
	SortBy     string // empty lists newest first
	Desc       bool
	Page       int
	PerPage    int
}

// ProductRepository persists whole product aggregates and enforces slug and
// SKU uniqueness at the storage layer.
type ProductRepository interface {
	// FindByID returns a live (not soft-deleted) product.
	FindByID(ctx context.Context, id string) (*domain.Product, error)

	// FindBySlug returns a live product by slug.
	FindBySlug(ctx context.Context, slug string) (*domain.Product, error)

	// List returns one page of products matching filter and the total match count.
	List(ctx context.Context, filter ProductFilter) ([]domain.Product, int, error)

	// SlugExists reports whether another product already uses slug.
	SlugExists(ctx context.Context, slug, excludeProductID string) (bool, error)

	// FindExistingSKUs returns the subset of skus owned by products other than
	// excludeProductID.
	FindExistingSKUs(ctx context.Context, skus []string, excludeProductID string) ([]string, error)

	// Save inserts (Version 0) or updates the aggregate if its stored version
	// still equals p.Version, then increments p.Version. A stale version
	// yields ErrVersionConflict.
	Save(ctx context.Context, p *domain.Product) error

	// Delete removes the aggregate and its SKU reservations.
	Delete(ctx context.Context, id string) error
}

// CategoryRepository is the read side of the category reference data plus
// the minimal writes needed to seed it.
type CategoryRepository interface {
	// FindActiveByIDs returns the subset of ids that exist and are active.
	FindActiveByIDs(ctx context.Context, ids []string) ([]string, error)
	GetByID(ctx context.Context, id string) (*domain.Category, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Category, error)
	Create(ctx context.Context, c *domain.Category) error
}

// ProductCache is a read-through cache of whole aggregates. Lookups return
// nil, nil on a miss.
type ProductCache interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Product, error)
	Set(ctx context.Context, p *domain.Product) error

	// Invalidate drops the entry for id and every slug it was cached under.
	Invalidate(ctx context.Context, id string, slugs ...string) error
}
