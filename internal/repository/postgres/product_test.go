package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/repository"
	"github.com/akshay-ctas/server/pkg/database"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func strPtr(s string) *string { return &s }

// anyArgs matches n arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

const productID = "0b6f8a52-5d0e-4c59-8f3c-5f1f2a0e9d11"

func sampleProduct() *domain.Product {
	return &domain.Product{
		ID:         productID,
		Title:      "Gold Ring",
		Slug:       "gold-ring",
		Price:      decimal.RequireFromString("199.90"),
		Status:     domain.StatusDraft,
		Tags:       []string{"gold"},
		Categories: []string{"cat-1"},
		Variants: []domain.Variant{
			{ID: "v1", SKU: "RING-1", Price: decimal.RequireFromString("199.90"), Stock: 3, IsAvailable: true},
			{ID: "v2", SKU: "RING-2", Price: decimal.RequireFromString("209.90"), Stock: 1, IsAvailable: true},
		},
		Images: []domain.Image{
			{ID: "i1", URL: "https://cdn.test/products/a.jpg", Position: 0, IsPrimary: true},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func documentOf(t *testing.T, p *domain.Product) []byte {
	t.Helper()
	doc, err := json.Marshal(p)
	require.NoError(t, err)
	return doc
}

func TestProductRepository_FindByID(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	stored := sampleProduct()
	mock.ExpectQuery(`SELECT document, version\s+FROM products\s+WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(productID).
		WillReturnRows(pgxmock.NewRows([]string{"document", "version"}).AddRow(documentOf(t, stored), int64(4)))

	got, err := repo.FindByID(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, "Gold Ring", got.Title)
	assert.Equal(t, int64(4), got.Version)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("199.90")))
	assert.Equal(t, []string{"RING-1", "RING-2"}, got.SKUs())
	require.Len(t, got.Images, 1)
	assert.True(t, got.Images[0].IsPrimary)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_FindByID_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	mock.ExpectQuery(`SELECT document, version`).
		WithArgs(productID).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindByID(context.Background(), productID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 404, apperrors.HTTPStatus(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_FindBySlug(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	mock.ExpectQuery(`WHERE slug = \$1 AND deleted_at IS NULL`).
		WithArgs("gold-ring").
		WillReturnRows(pgxmock.NewRows([]string{"document", "version"}).AddRow(documentOf(t, sampleProduct()), int64(1)))

	got, err := repo.FindBySlug(context.Background(), "gold-ring")
	require.NoError(t, err)
	assert.Equal(t, productID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_List_FiltersSortAndPaging(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	status := domain.StatusActive
	filter := repository.ProductFilter{
		Search:  strPtr("ring"),
		Status:  &status,
		SortBy:  repository.SortPrice,
		Desc:    true,
		Page:    2,
		PerPage: 10,
	}

	mock.ExpectQuery(`WHERE deleted_at IS NULL AND status = \$1 AND title ILIKE \$2\s+ORDER BY price DESC, id ASC\s+LIMIT \$3 OFFSET \$4`).
		WithArgs("ACTIVE", "%ring%", 10, 10).
		WillReturnRows(pgxmock.NewRows([]string{"document", "version", "total_count"}).
			AddRow(documentOf(t, sampleProduct()), int64(2), 11))

	products, total, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, products, 1)
	assert.Equal(t, int64(2), products[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_List_CategoryAndDefaults(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	mock.ExpectQuery(`WHERE deleted_at IS NULL AND \$1 = ANY\(category_ids\)\s+ORDER BY created_at DESC`).
		WithArgs("cat-1", 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"document", "version", "total_count"}))

	products, total, err := repo.List(context.Background(), repository.ProductFilter{
		CategoryID: strPtr("cat-1"),
		SortBy:     "; DROP TABLE products",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, products)
	assert.Empty(t, products)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_List_SortOrder(t *testing.T) {
	tests := []struct {
		name   string
		filter repository.ProductFilter
		order  string
	}{
		{"default newest first", repository.ProductFilter{}, `ORDER BY created_at DESC, id ASC`},
		{"explicit createdAt ascending", repository.ProductFilter{SortBy: repository.SortCreatedAt}, `ORDER BY created_at ASC, id ASC`},
		{"price descending", repository.ProductFilter{SortBy: repository.SortPrice, Desc: true}, `ORDER BY price DESC, id ASC`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			repo := NewProductRepository(mock)

			mock.ExpectQuery(`WHERE deleted_at IS NULL\s+` + tt.order).
				WithArgs(20, 0).
				WillReturnRows(pgxmock.NewRows([]string{"document", "version", "total_count"}))

			_, _, err := repo.List(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestProductRepository_SlugExists(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM products WHERE slug = \$1`).
		WithArgs("gold-ring", "").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.SlugExists(context.Background(), "gold-ring", "")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_FindExistingSKUs(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	mock.ExpectQuery(`SELECT sku\s+FROM product_skus`).
		WithArgs([]string{"RING-1", "RING-9"}, productID).
		WillReturnRows(pgxmock.NewRows([]string{"sku"}).AddRow("RING-9"))

	found, err := repo.FindExistingSKUs(context.Background(), []string{"RING-1", "RING-9"}, productID)
	require.NoError(t, err)
	assert.Equal(t, []string{"RING-9"}, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_FindExistingSKUs_EmptyInput(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	found, err := repo.FindExistingSKUs(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Save_Insert(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)
	p := sampleProduct()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO products`).
		WithArgs(
			p.ID, p.Slug, p.Title, "DRAFT", "199.9", p.SortOrder,
			p.Categories, pgxmock.AnyArg(), p.CreatedAt, p.UpdatedAt,
			p.PublishedAt, p.DeletedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM product_skus WHERE product_id = \$1`).
		WithArgs(p.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO product_skus`).
		WithArgs([]string{"RING-1", "RING-2"}, p.ID).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), p))
	assert.Equal(t, int64(1), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Save_UpdateBumpsVersion(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)
	p := sampleProduct()
	p.Version = 3
	p.Variants = nil

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products\s+SET .+WHERE id = \$1 AND version = \$2`).
		WithArgs(
			p.ID, int64(3), p.Slug, p.Title, "DRAFT", "199.9", p.SortOrder,
			p.Categories, pgxmock.AnyArg(), int64(4), p.UpdatedAt,
			p.PublishedAt, p.DeletedAt,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM product_skus`).
		WithArgs(p.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), p))
	assert.Equal(t, int64(4), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Save_StaleVersion(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)
	p := sampleProduct()
	p.Version = 3

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products`).
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(p.ID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), p)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, int64(3), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Save_MissingRowIsNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)
	p := sampleProduct()
	p.Version = 1

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products`).
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(p.ID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), p)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Save_SlugTaken(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)
	p := sampleProduct()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO products`).
		WithArgs(anyArgs(12)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "products_slug_key"})
	mock.ExpectRollback()

	err := repo.Save(context.Background(), p)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 409, appErr.Status)
	assert.Equal(t, "gold-ring", appErr.Fields["slug"])
	assert.Equal(t, int64(0), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Save_SKUTakenNamesSKU(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)
	p := sampleProduct()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO products`).
		WithArgs(anyArgs(12)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM product_skus`).
		WithArgs(p.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO product_skus`).
		WithArgs([]string{"RING-1", "RING-2"}, p.ID).
		WillReturnError(&pgconn.PgError{
			Code:           "23505",
			ConstraintName: "product_skus_pkey",
			Detail:         "Key (sku)=(RING-2) already exists.",
		})
	mock.ExpectRollback()

	err := repo.Save(context.Background(), p)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "RING-2", appErr.Fields["sku"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Delete(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	mock.ExpectExec(`DELETE FROM products WHERE id = \$1`).
		WithArgs(productID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.Delete(context.Background(), productID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Delete_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewProductRepository(mock)

	mock.ExpectExec(`DELETE FROM products`).
		WithArgs(productID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.Delete(context.Background(), productID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictingSKUs(t *testing.T) {
	all := []string{"A", "B"}
	assert.Equal(t, []string{"B"}, conflictingSKUs("Key (sku)=(B) already exists.", all))
	assert.Equal(t, all, conflictingSKUs("", all))
	assert.Equal(t, all, conflictingSKUs("Key (sku)=() already exists.", all))
}
