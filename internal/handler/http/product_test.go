package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/repository"
	"github.com/akshay-ctas/server/internal/service"
	"github.com/akshay-ctas/server/internal/storage"
	"github.com/akshay-ctas/server/internal/storage/memory"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
	"github.com/akshay-ctas/server/pkg/health"
	"github.com/akshay-ctas/server/pkg/httputil"
	"github.com/akshay-ctas/server/pkg/middleware"
	"github.com/akshay-ctas/server/pkg/pagination"
)

// =============================================================================
// Mock repositories
// =============================================================================

type mockProductRepo struct {
	mock.Mock
}

func (m *mockProductRepo) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// Hand out a copy so mutations never leak back into the expectation.
	p := *args.Get(0).(*domain.Product)
	p.Variants = append([]domain.Variant(nil), p.Variants...)
	p.Images = append([]domain.Image(nil), p.Images...)
	return &p, args.Error(1)
}

func (m *mockProductRepo) FindBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockProductRepo) List(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Product), args.Int(1), args.Error(2)
}

func (m *mockProductRepo) SlugExists(ctx context.Context, slug, excludeProductID string) (bool, error) {
	args := m.Called(ctx, slug, excludeProductID)
	return args.Bool(0), args.Error(1)
}

func (m *mockProductRepo) FindExistingSKUs(ctx context.Context, skus []string, excludeProductID string) ([]string, error) {
	args := m.Called(ctx, skus, excludeProductID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockProductRepo) Save(ctx context.Context, p *domain.Product) error {
	args := m.Called(ctx, p)
	if args.Error(0) == nil {
		p.Version++
	}
	return args.Error(0)
}

func (m *mockProductRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockCategoryRepo struct {
	mock.Mock
}

func (m *mockCategoryRepo) FindActiveByIDs(ctx context.Context, ids []string) ([]string, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockCategoryRepo) GetByID(ctx context.Context, id string) (*domain.Category, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Category), args.Error(1)
}

func (m *mockCategoryRepo) List(ctx context.Context, activeOnly bool) ([]domain.Category, error) {
	args := m.Called(ctx, activeOnly)
	return args.Get(0).([]domain.Category), args.Error(1)
}

func (m *mockCategoryRepo) Create(ctx context.Context, c *domain.Category) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

// =============================================================================
// Test helpers
// =============================================================================

const (
	testSecret   = "test-secret"
	testProduct  = "5b6f1c3e-8a2d-4c1b-9e7f-0a1b2c3d4e5f"
	testCategory = "c0ffee00-0000-4000-8000-000000000001"
)

// pngBytes starts with the PNG signature so content sniffing reports image/png.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

type testEnv struct {
	products   *mockProductRepo
	categories *mockCategoryRepo
	blobs      *memory.Backend
	router     http.Handler
}

func newTestEnv(t *testing.T, opts ...func(*RouterConfig)) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	env := &testEnv{
		products:   new(mockProductRepo),
		categories: new(mockCategoryRepo),
		blobs:      memory.New("https://cdn.test"),
	}

	validator := service.NewProductValidator(env.products, env.categories)
	deps := service.Deps{
		Products:   env.products,
		Categories: env.categories,
		Blobs:      storage.New(env.blobs, storage.DefaultConfig(), logger),
		Logger:     logger,
	}

	cfg := RouterConfig{
		ServiceName: "catalog-test",
		Products:    service.NewProductService(deps, validator),
		Coordinator: service.NewVariantImageCoordinator(deps, validator),
		Categories:  env.categories,
		Health:      health.NewHandler(),
		Tokens:      middleware.HS256Validator(testSecret),
		Logger:      logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.router = NewRouter(cfg)

	t.Cleanup(func() {
		env.products.AssertExpectations(t)
		env.categories.AssertExpectations(t)
	})
	return env
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := middleware.SignHS256(testSecret, middleware.Claims{
		UserID: "user-1",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, req *http.Request, role string) *httptest.ResponseRecorder {
	t.Helper()
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

type part struct {
	name, filename string
	data           []byte
}

func multipartRequest(t *testing.T, target string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.name, string(p.data)))
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.name+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", "image/png")
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) *httputil.ErrorResponse {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func decodeProduct(t *testing.T, rr *httptest.ResponseRecorder) *domain.Product {
	t.Helper()
	var resp struct {
		Data domain.Product `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return &resp.Data
}

func strPtr(s string) *string {
	return &s
}

func storedProduct() *domain.Product {
	variant := "variant-a"
	return &domain.Product{
		ID:         testProduct,
		Title:      "Gold Ring",
		Slug:       "gold-ring",
		Price:      decimal.RequireFromString("100"),
		Status:     domain.StatusDraft,
		Tags:       []string{},
		Categories: []string{testCategory},
		Variants: []domain.Variant{
			{ID: variant, SKU: "GR-001", Price: decimal.RequireFromString("100"), IsAvailable: true},
		},
		Images: []domain.Image{
			{ID: "img-0", URL: "https://cdn.test/products/0.png", Position: 0, IsPrimary: true},
			{ID: "img-1", URL: "https://cdn.test/products/1.png", Position: 1},
			{ID: "img-v0", VariantID: &variant, URL: "https://cdn.test/products/v0.png", Position: 0, IsPrimary: true},
		},
		Version: 2,
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestMutationsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, jsonRequest(http.MethodPatch, "/api/v1/products/"+testProduct, map[string]any{}), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, jsonRequest(http.MethodDelete, "/api/v1/products/"+testProduct, nil), "customer")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, rr).Code)
}

func TestGetProduct_BySlug(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindBySlug", mock.Anything, "gold-ring").Return(storedProduct(), nil)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products/gold-ring", nil), "")

	require.Equal(t, http.StatusOK, rr.Code)
	product := decodeProduct(t, rr)
	assert.Equal(t, testProduct, product.ID)
	assert.Len(t, product.Images, 3)
}

func TestGetProduct_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindByID", mock.Anything, testProduct).Return(nil, apperrors.NotFound("product", testProduct))

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products/"+testProduct, nil), "")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rr).Code)
}

func TestListProducts(t *testing.T) {
	env := newTestEnv(t)

	status := domain.StatusActive
	category := testCategory
	want := repository.ProductFilter{
		Status:     &status,
		CategoryID: &category,
		SortBy:     repository.SortPrice,
		Desc:       true,
		Page:       2,
		PerPage:    5,
	}
	env.products.On("List", mock.Anything, want).Return([]domain.Product{*storedProduct()}, 6, nil)

	rr := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/v1/products?status=active&category_id="+testCategory+"&sort=-price&page=2&per_page=5", nil), "")

	require.Equal(t, http.StatusOK, rr.Code)
	var result pagination.Result[domain.Product]
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.Equal(t, 6, result.TotalCount)
	assert.Equal(t, 2, result.TotalPages)
	assert.True(t, result.HasPrev)
	assert.False(t, result.HasNext)
	assert.Len(t, result.Data, 1)
}

func TestListProducts_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products?status=live", nil), "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	env.products.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestCreateProduct_Multipart(t *testing.T) {
	env := newTestEnv(t)
	env.categories.On("FindActiveByIDs", mock.Anything, []string{testCategory}).Return([]string{testCategory}, nil)
	env.products.On("FindExistingSKUs", mock.Anything, []string{"GR-001"}, "").Return(nil, nil)
	env.products.On("SlugExists", mock.Anything, "gold-ring", "").Return(false, nil)
	env.products.On("Save", mock.Anything, mock.AnythingOfType("*domain.Product")).Return(nil)

	payload := `{"title":"Gold Ring","price":"100","categories":["` + testCategory + `"],
		"status":"ACTIVE","variants":[{"sku":"GR-001","price":"100","stock":1}],
		"imagesMeta":[{"altText":"front"}]}`
	req := multipartRequest(t, "/api/v1/products",
		part{name: "payload", data: []byte(payload)},
		part{name: "images", filename: "front.png", data: pngBytes},
		part{name: "images", filename: "side.png", data: pngBytes},
	)

	rr := env.do(t, req, middleware.RoleAdmin)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	product := decodeProduct(t, rr)
	assert.Equal(t, "gold-ring", product.Slug)
	assert.Equal(t, domain.StatusActive, product.Status)
	require.Len(t, product.Images, 2)
	assert.True(t, product.Images[0].IsPrimary)
	assert.Equal(t, 0, product.Images[0].Position)
	assert.Equal(t, "front", *product.Images[0].AltText)
	assert.False(t, product.Images[1].IsPrimary)
	assert.Equal(t, 1, product.Images[1].Position)
	assert.True(t, strings.HasPrefix(product.Images[0].URL, "https://cdn.test/products/"))
	assert.Equal(t, 2, env.blobs.Len())
}

func TestCreateProduct_SniffedTypeRejected(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"title":"Gold Ring","price":"100","categories":["` + testCategory + `"]}`
	req := multipartRequest(t, "/api/v1/products",
		part{name: "payload", data: []byte(payload)},
		part{name: "images", filename: "fake.png", data: []byte("definitely not an image")},
	)

	rr := env.do(t, req, middleware.RoleAdmin)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr).Fields, "images[0]")
	assert.Zero(t, env.blobs.Len())
}

func TestCreateProduct_MissingPayload(t *testing.T) {
	env := newTestEnv(t)

	req := multipartRequest(t, "/api/v1/products", part{name: "images", filename: "a.png", data: pngBytes})

	rr := env.do(t, req, middleware.RoleAdmin)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateProduct_DuplicateSKUs(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"title":"Gold Ring","price":"100","categories":["` + testCategory + `"],
		"variants":[{"sku":"X-1","price":"10"},{"sku":"X-1","price":"12"}]}`
	req := multipartRequest(t, "/api/v1/products", part{name: "payload", data: []byte(payload)})

	rr := env.do(t, req, middleware.RoleAdmin)

	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "X-1", decodeError(t, rr).Fields["sku"])
	env.products.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestCreateProduct_NotMultipart(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, jsonRequest(http.MethodPost, "/api/v1/products", map[string]string{"title": "x"}), middleware.RoleAdmin)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateProduct_ActivateWithoutVariants(t *testing.T) {
	env := newTestEnv(t)
	bare := storedProduct()
	bare.Variants = []domain.Variant{}
	bare.Images = []domain.Image{}
	env.products.On("FindByID", mock.Anything, testProduct).Return(bare, nil)

	rr := env.do(t, jsonRequest(http.MethodPatch, "/api/v1/products/"+testProduct,
		map[string]any{"status": "ACTIVE"}), middleware.RoleAdmin)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", decodeError(t, rr).Code)
}

func TestUpdateProduct_UnknownField(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, jsonRequest(http.MethodPatch, "/api/v1/products/"+testProduct,
		map[string]any{"images": []string{}}), middleware.RoleAdmin)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateProduct_InvalidID(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, jsonRequest(http.MethodPatch, "/api/v1/products/not-a-uuid", map[string]any{}), middleware.RoleAdmin)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeError(t, rr).Code)
}

func TestDeleteProduct(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindByID", mock.Anything, testProduct).Return(storedProduct(), nil)
	env.products.On("Delete", mock.Anything, testProduct).Return(nil)

	rr := env.do(t, jsonRequest(http.MethodDelete, "/api/v1/products/"+testProduct, nil), middleware.RoleAdmin)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDeleteImage_PromotesNext(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindByID", mock.Anything, testProduct).Return(storedProduct(), nil)
	env.products.On("Save", mock.Anything, mock.Anything).Return(nil)

	rr := env.do(t, jsonRequest(http.MethodDelete, "/api/v1/products/"+testProduct+"/images/img-0", nil), middleware.RoleAdmin)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	product := decodeProduct(t, rr)
	scope := product.ScopeImages("")
	require.Len(t, scope, 1)
	assert.Equal(t, "img-1", scope[0].ID)
	assert.Equal(t, 0, scope[0].Position)
	assert.True(t, scope[0].IsPrimary)
}

func TestDeleteImage_VariantScope(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindByID", mock.Anything, testProduct).Return(storedProduct(), nil)

	// img-0 is a product-level image, so it is absent from the variant scope.
	rr := env.do(t, jsonRequest(http.MethodDelete,
		"/api/v1/products/"+testProduct+"/variants/variant-a/images/img-0", nil), middleware.RoleAdmin)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSetPrimaryImage(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindByID", mock.Anything, testProduct).Return(storedProduct(), nil)
	env.products.On("Save", mock.Anything, mock.Anything).Return(nil)

	rr := env.do(t, jsonRequest(http.MethodPut, "/api/v1/products/"+testProduct+"/images/img-1/primary", nil), middleware.RoleAdmin)

	require.Equal(t, http.StatusOK, rr.Code)
	scope := decodeProduct(t, rr).ScopeImages("")
	assert.False(t, scope[0].IsPrimary)
	assert.True(t, scope[1].IsPrimary)
}

func TestAddImages_ToVariant(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindByID", mock.Anything, testProduct).Return(storedProduct(), nil)
	env.products.On("Save", mock.Anything, mock.Anything).Return(nil)

	req := multipartRequest(t, "/api/v1/products/"+testProduct+"/variants/variant-a/images",
		part{name: "images", filename: "a.png", data: pngBytes},
		part{name: "meta", data: []byte(`[{"altText":"close-up","isPrimary":true}]`)},
	)

	rr := env.do(t, req, middleware.RoleAdmin)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	scope := decodeProduct(t, rr).ScopeImages("variant-a")
	require.Len(t, scope, 2)
	assert.False(t, scope[0].IsPrimary)
	assert.True(t, scope[1].IsPrimary)
	assert.Equal(t, 1, scope[1].Position)
	assert.Equal(t, "close-up", *scope[1].AltText)
	assert.Equal(t, 1, env.blobs.Len())
}

func TestAddImages_BadMeta(t *testing.T) {
	env := newTestEnv(t)

	req := multipartRequest(t, "/api/v1/products/"+testProduct+"/images",
		part{name: "images", filename: "a.png", data: pngBytes},
		part{name: "meta", data: []byte(`{"altText":1}`)},
	)

	rr := env.do(t, req, middleware.RoleAdmin)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr).Fields, "meta")
}

func TestEditVariant_SKUConflict(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindByID", mock.Anything, testProduct).Return(storedProduct(), nil)
	env.products.On("FindExistingSKUs", mock.Anything, []string{"GR-002"}, testProduct).Return([]string{"GR-002"}, nil)

	rr := env.do(t, jsonRequest(http.MethodPatch, "/api/v1/products/"+testProduct+"/variants/variant-a",
		map[string]any{"sku": "GR-002"}), middleware.RoleAdmin)

	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "CONFLICT", decodeError(t, rr).Code)
}

func TestAddVariant(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindByID", mock.Anything, testProduct).Return(storedProduct(), nil)
	env.products.On("FindExistingSKUs", mock.Anything, []string{"GR-001", "GR-002"}, testProduct).Return(nil, nil)
	env.products.On("Save", mock.Anything, mock.Anything).Return(nil)

	rr := env.do(t, jsonRequest(http.MethodPost, "/api/v1/products/"+testProduct+"/variants",
		map[string]any{"sku": "GR-002", "price": "120", "color": "rose"}), middleware.RoleAdmin)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp struct {
		Data struct {
			Variant domain.Variant `json:"variant"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "GR-002", resp.Data.Variant.SKU)
	assert.Equal(t, strPtr("rose"), resp.Data.Variant.Color)
}

func TestDeleteVariant(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("FindByID", mock.Anything, testProduct).Return(storedProduct(), nil)
	env.products.On("Save", mock.Anything, mock.Anything).Return(nil)

	rr := env.do(t, jsonRequest(http.MethodDelete, "/api/v1/products/"+testProduct+"/variants/variant-a", nil), middleware.RoleAdmin)

	require.Equal(t, http.StatusOK, rr.Code)
	product := decodeProduct(t, rr)
	assert.Empty(t, product.Variants)
	assert.Len(t, product.Images, 2)
}
