package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/repository"
	"github.com/akshay-ctas/server/pkg/database"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
)

const (
	uniqueViolation = "23505"
	slugConstraint  = "products_slug_key"
	skuConstraint   = "product_skus_pkey"
)

var sortColumns = map[string]string{
	repository.SortCreatedAt: "created_at",
	repository.SortPrice:     "price",
	repository.SortTitle:     "title",
	repository.SortSortOrder: "sort_order",
}

// ProductRepository implements repository.ProductRepository using PostgreSQL.
// The aggregate is stored as a JSONB document next to the columns used for
// filtering, sorting and uniqueness.
type ProductRepository struct {
	pool database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(pool database.DBTX) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// FindByID retrieves a live product by its ID.
func (r *ProductRepository) FindByID(ctx context.Context, id string) (p *domain.Product, err error) {
	query := `
		SELECT document, version
		FROM products
		WHERE id = $1 AND deleted_at IS NULL`

	ctx, end := database.TraceQuery(ctx, "FindProductByID", query)
	defer func() { end(err) }()

	p, err = r.scanProduct(ctx, query, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.NotFound("product", id)
	}
	return p, err
}

// FindBySlug retrieves a live product by its slug.
func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (p *domain.Product, err error) {
	query := `
		SELECT document, version
		FROM products
		WHERE slug = $1 AND deleted_at IS NULL`

	ctx, end := database.TraceQuery(ctx, "FindProductBySlug", query)
	defer func() { end(err) }()

	p, err = r.scanProduct(ctx, query, slug)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.NotFound("product", slug)
	}
	return p, err
}

// List returns products matching the given filter with the total count.
func (r *ProductRepository) List(ctx context.Context, filter repository.ProductFilter) (products []domain.Product, total int, err error) {
	var (
		conditions = []string{"deleted_at IS NULL"}
		args       []any
		argIndex   = 1
	)

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, string(*filter.Status))
		argIndex++
	}

	if filter.CategoryID != nil {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(category_ids)", argIndex))
		args = append(args, *filter.CategoryID)
		argIndex++
	}

	if filter.Search != nil {
		conditions = append(conditions, fmt.Sprintf("title ILIKE $%d", argIndex))
		args = append(args, "%"+*filter.Search+"%")
		argIndex++
	}

	direction := "ASC"
	if filter.Desc {
		direction = "DESC"
	}
	column, ok := sortColumns[filter.SortBy]
	if !ok {
		// Newest first unless a known field is requested.
		column, direction = "created_at", "DESC"
	}

	query := fmt.Sprintf(`
		SELECT document, version, count(*) OVER() AS total_count
		FROM products
		WHERE %s
		ORDER BY %s %s, id ASC
		LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "), column, direction, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	ctx, end := database.TraceQuery(ctx, "ListProducts", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version, &total); err != nil {
			return nil, 0, fmt.Errorf("scan product row: %w", err)
		}
		p, err := decodeProduct(doc, version)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate product rows: %w", err)
	}

	if products == nil {
		products = []domain.Product{}
	}

	return products, total, nil
}

// SlugExists reports whether any product other than excludeProductID holds slug.
// Soft-deleted products keep their slug reserved.
func (r *ProductRepository) SlugExists(ctx context.Context, slug, excludeProductID string) (exists bool, err error) {
	query := `SELECT EXISTS (SELECT 1 FROM products WHERE slug = $1 AND id::text <> $2)`

	ctx, end := database.TraceQuery(ctx, "ProductSlugExists", query)
	defer func() { end(err) }()

	if err = r.pool.QueryRow(ctx, query, slug, excludeProductID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check product slug: %w", err)
	}
	return exists, nil
}

// FindExistingSKUs returns which of skus are held by other products.
func (r *ProductRepository) FindExistingSKUs(ctx context.Context, skus []string, excludeProductID string) (found []string, err error) {
	if len(skus) == 0 {
		return nil, nil
	}

	query := `
		SELECT sku
		FROM product_skus
		WHERE sku = ANY($1) AND product_id::text <> $2
		ORDER BY sku`

	ctx, end := database.TraceQuery(ctx, "FindExistingSKUs", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, skus, excludeProductID)
	if err != nil {
		return nil, fmt.Errorf("find existing skus: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, fmt.Errorf("scan sku row: %w", err)
		}
		found = append(found, sku)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sku rows: %w", err)
	}
	return found, nil
}

// Save writes the whole aggregate and its SKU reservations in one transaction.
func (r *ProductRepository) Save(ctx context.Context, p *domain.Product) (err error) {
	ctx, end := database.TraceQuery(ctx, "SaveProduct", "products upsert")
	defer func() { end(err) }()

	next := p.Version + 1
	snapshot := *p
	snapshot.Version = next
	doc, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if p.Version == 0 {
		err = r.insert(ctx, tx, p, doc)
	} else {
		err = r.update(ctx, tx, p, doc, next)
	}
	if err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM product_skus WHERE product_id = $1`, p.ID); err != nil {
		return fmt.Errorf("clear product skus: %w", err)
	}

	if skus := p.SKUs(); len(skus) > 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO product_skus (sku, product_id) SELECT unnest($1::text[]), $2`,
			skus, p.ID,
		)
		if err != nil {
			return mapWriteError(err, p, "insert product skus")
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	p.Version = next
	return nil
}

func (r *ProductRepository) insert(ctx context.Context, tx pgx.Tx, p *domain.Product, doc []byte) error {
	query := `
		INSERT INTO products (id, slug, title, status, price, sort_order, category_ids, document, version, created_at, updated_at, published_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10, $11, $12)`

	_, err := tx.Exec(ctx, query,
		p.ID,
		p.Slug,
		p.Title,
		string(p.Status),
		p.Price.String(),
		p.SortOrder,
		p.Categories,
		doc,
		p.CreatedAt,
		p.UpdatedAt,
		p.PublishedAt,
		p.DeletedAt,
	)
	if err != nil {
		return mapWriteError(err, p, "insert product")
	}
	return nil
}

func (r *ProductRepository) update(ctx context.Context, tx pgx.Tx, p *domain.Product, doc []byte, next int64) error {
	query := `
		UPDATE products
		SET slug = $3, title = $4, status = $5, price = $6, sort_order = $7, category_ids = $8,
		    document = $9, version = $10, updated_at = $11, published_at = $12, deleted_at = $13
		WHERE id = $1 AND version = $2`

	ct, err := tx.Exec(ctx, query,
		p.ID,
		p.Version,
		p.Slug,
		p.Title,
		string(p.Status),
		p.Price.String(),
		p.SortOrder,
		p.Categories,
		doc,
		next,
		p.UpdatedAt,
		p.PublishedAt,
		p.DeletedAt,
	)
	if err != nil {
		return mapWriteError(err, p, "update product")
	}

	if ct.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check product: %w", err)
	}
	if !exists {
		return apperrors.NotFound("product", p.ID)
	}
	return repository.ErrVersionConflict
}

// Delete removes a product; its SKU rows go with it via ON DELETE CASCADE.
func (r *ProductRepository) Delete(ctx context.Context, id string) (err error) {
	query := `DELETE FROM products WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteProduct", query)
	defer func() { end(err) }()

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("product", id)
	}

	return nil
}

func (r *ProductRepository) scanProduct(ctx context.Context, query string, args ...any) (*domain.Product, error) {
	var (
		doc     []byte
		version int64
	)

	err := r.pool.QueryRow(ctx, query, args...).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}

	return decodeProduct(doc, version)
}

func decodeProduct(doc []byte, version int64) (*domain.Product, error) {
	var p domain.Product
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product document: %w", err)
	}
	p.Version = version
	if p.Variants == nil {
		p.Variants = []domain.Variant{}
	}
	if p.Images == nil {
		p.Images = []domain.Image{}
	}
	return &p, nil
}

// mapWriteError turns slug and SKU unique violations into conflict errors.
func mapWriteError(err error, p *domain.Product, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case slugConstraint:
			return apperrors.AlreadyExists("product", "slug", p.Slug)
		case skuConstraint:
			return apperrors.DuplicateValues("sku", conflictingSKUs(pgErr.Detail, p.SKUs()))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// conflictingSKUs extracts the value from a detail like
// `Key (sku)=(RING-1) already exists.`, falling back to every SKU.
func conflictingSKUs(detail string, all []string) []string {
	_, rest, ok := strings.Cut(detail, ")=(")
	if !ok {
		return all
	}
	sku, _, ok := strings.Cut(rest, ")")
	if !ok || sku == "" {
		return all
	}
	return []string{sku}
}
