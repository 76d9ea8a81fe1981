package service

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/event"
	"github.com/akshay-ctas/server/internal/repository"
	"github.com/akshay-ctas/server/internal/storage"
)

// --- Mock Repositories ---

type mockProductRepository struct {
	mock.Mock
}

func (m *mockProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if load, ok := args.Get(0).(func() *domain.Product); ok {
		return load(), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockProductRepository) FindBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockProductRepository) List(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Product), args.Int(1), args.Error(2)
}

func (m *mockProductRepository) SlugExists(ctx context.Context, slug, excludeProductID string) (bool, error) {
	args := m.Called(ctx, slug, excludeProductID)
	return args.Bool(0), args.Error(1)
}

func (m *mockProductRepository) FindExistingSKUs(ctx context.Context, skus []string, excludeProductID string) ([]string, error) {
	args := m.Called(ctx, skus, excludeProductID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockProductRepository) Save(ctx context.Context, p *domain.Product) error {
	args := m.Called(ctx, p)
	if args.Error(0) == nil {
		p.Version++
	}
	return args.Error(0)
}

func (m *mockProductRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockCategoryRepository struct {
	mock.Mock
}

func (m *mockCategoryRepository) FindActiveByIDs(ctx context.Context, ids []string) ([]string, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockCategoryRepository) GetByID(ctx context.Context, id string) (*domain.Category, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Category), args.Error(1)
}

func (m *mockCategoryRepository) List(ctx context.Context, activeOnly bool) ([]domain.Category, error) {
	args := m.Called(ctx, activeOnly)
	return args.Get(0).([]domain.Category), args.Error(1)
}

func (m *mockCategoryRepository) Create(ctx context.Context, c *domain.Category) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockCache) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockCache) Set(ctx context.Context, p *domain.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, id string, slugs ...string) error {
	args := m.Called(ctx, id, slugs)
	return args.Error(0)
}

// --- Mock Blob Storage ---

type mockBlobs struct {
	mock.Mock
}

func (m *mockBlobs) Upload(ctx context.Context, f storage.File) (string, error) {
	args := m.Called(ctx, f)
	return args.String(0), args.Error(1)
}

func (m *mockBlobs) UploadMany(ctx context.Context, files []storage.File) ([]string, error) {
	args := m.Called(ctx, files)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockBlobs) Delete(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *mockBlobs) DeleteMany(ctx context.Context, urls []string) error {
	args := m.Called(ctx, urls)
	return args.Error(0)
}

// --- Mock Event Publisher ---

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishProductCreated(ctx context.Context, p *domain.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockEvents) PublishProductUpdated(ctx context.Context, p *domain.Product, change event.Change) error {
	args := m.Called(ctx, p, change)
	return args.Error(0)
}

func (m *mockEvents) PublishProductDeleted(ctx context.Context, p *domain.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

// --- Test Helpers ---

const (
	productID  = "5b6f1c3e-8a2d-4c1b-9e7f-0a1b2c3d4e5f"
	categoryID = "c0ffee00-0000-4000-8000-000000000001"
	variantA   = "variant-a"
	variantB   = "variant-b"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	products   *mockProductRepository
	categories *mockCategoryRepository
	cache      *mockCache
	blobs      *mockBlobs
	events     *mockEvents
	validator  *ProductValidator
	svc        *ProductService
	coord      *VariantImageCoordinator
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		products:   new(mockProductRepository),
		categories: new(mockCategoryRepository),
		cache:      new(mockCache),
		blobs:      new(mockBlobs),
		events:     new(mockEvents),
	}
	f.validator = NewProductValidator(f.products, f.categories)
	f.validator.now = func() time.Time { return fixedNow }

	deps := Deps{
		Products:   f.products,
		Categories: f.categories,
		Cache:      f.cache,
		Blobs:      f.blobs,
		Events:     f.events,
		Logger:     newTestLogger(),
	}
	f.svc = NewProductService(deps, f.validator)
	f.svc.now = func() time.Time { return fixedNow }
	f.coord = NewVariantImageCoordinator(deps, f.validator)
	f.coord.now = func() time.Time { return fixedNow }

	t.Cleanup(func() {
		f.products.AssertExpectations(t)
		f.categories.AssertExpectations(t)
		f.cache.AssertExpectations(t)
		f.blobs.AssertExpectations(t)
		f.events.AssertExpectations(t)
	})
	return f
}

// expectLoad makes every FindByID for productID return a fresh copy of p so
// each retry starts from the stored state.
func (f *fixture) expectLoad(p *domain.Product) {
	f.products.On("FindByID", mock.Anything, p.ID).
		Return(func() *domain.Product { return cloneProduct(p) }, nil)
}

// expectWriteEffects allows the cache invalidation and update event that
// follow a successful save.
func (f *fixture) expectWriteEffects(change event.Change) {
	f.cache.On("Invalidate", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.events.On("PublishProductUpdated", mock.Anything, mock.Anything, change).Return(nil)
}

func cloneProduct(p *domain.Product) *domain.Product {
	c := *p
	c.Variants = slices.Clone(p.Variants)
	c.Images = slices.Clone(p.Images)
	c.Tags = slices.Clone(p.Tags)
	c.Categories = slices.Clone(p.Categories)
	return &c
}

func strPtr(s string) *string {
	return &s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func scoped(id string, scope string, position int, primary bool) domain.Image {
	img := domain.Image{
		ID:        id,
		URL:       "https://cdn.example.com/products/" + id + ".jpg",
		Position:  position,
		IsPrimary: primary,
	}
	if scope != "" {
		img.VariantID = strPtr(scope)
	}
	return img
}

// storedProduct is a saved ACTIVE product with two variants, two product-level
// images and two images on variant A.
func storedProduct() *domain.Product {
	published := fixedNow.Add(-24 * time.Hour)
	return &domain.Product{
		ID:         productID,
		Title:      "Gold Ring",
		Slug:       "gold-ring",
		Price:      dec("199.90"),
		Status:     domain.StatusActive,
		Tags:       []string{"gold"},
		Categories: []string{categoryID},
		Variants: []domain.Variant{
			{ID: variantA, SKU: "RING-GOLD-6", Price: dec("199.90"), Stock: 3, IsAvailable: true},
			{ID: variantB, SKU: "RING-GOLD-7", Price: dec("199.90"), Stock: 1, IsAvailable: true},
		},
		Images: []domain.Image{
			scoped("img-p0", "", 0, true),
			scoped("img-p1", "", 1, false),
			scoped("img-a0", variantA, 0, true),
			scoped("img-a1", variantA, 1, false),
		},
		PublishedAt: &published,
		CreatedAt:   published,
		UpdatedAt:   published,
		Version:     4,
	}
}

func jpeg(name string) storage.File {
	return storage.File{Name: name, ContentType: "image/jpeg", Size: 1024, Data: strings.NewReader("jpeg-bytes")}
}

// scopeState summarises a scope as "id:position[*]" in position order, the
// asterisk marking the primary.
func scopeState(p *domain.Product, scope string) []string {
	var out []string
	for _, img := range p.ScopeImages(scope) {
		s := img.ID + ":" + strconv.Itoa(img.Position)
		if img.IsPrimary {
			s += "*"
		}
		out = append(out, s)
	}
	return out
}
