package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/pkg/database"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
)

const categoryColumns = `id, name, slug, parent_id, is_active, sort_order, created_at, updated_at`

// CategoryRepository implements repository.CategoryRepository using PostgreSQL.
type CategoryRepository struct {
	pool database.DBTX
}

// NewCategoryRepository creates a new PostgreSQL-backed category repository.
func NewCategoryRepository(pool database.DBTX) *CategoryRepository {
	return &CategoryRepository{pool: pool}
}

// FindActiveByIDs returns the ids among ids that name an active category.
func (r *CategoryRepository) FindActiveByIDs(ctx context.Context, ids []string) (found []string, err error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id::text FROM categories WHERE id::text = ANY($1) AND is_active = true`

	ctx, end := database.TraceQuery(ctx, "FindActiveCategories", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("find active categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan category id: %w", err)
		}
		found = append(found, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category ids: %w", err)
	}
	return found, nil
}

// Create inserts a new category into the database.
func (r *CategoryRepository) Create(ctx context.Context, c *domain.Category) (err error) {
	query := `
		INSERT INTO categories (id, name, slug, parent_id, is_active, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	ctx, end := database.TraceQuery(ctx, "CreateCategory", query)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, query,
		c.ID,
		c.Name,
		c.Slug,
		c.ParentID,
		c.IsActive,
		c.SortOrder,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.AlreadyExists("category", "slug", c.Slug)
		}
		return fmt.Errorf("insert category: %w", err)
	}

	return nil
}

// GetByID retrieves a category by its unique identifier.
func (r *CategoryRepository) GetByID(ctx context.Context, id string) (c *domain.Category, err error) {
	query := fmt.Sprintf(`SELECT %s FROM categories WHERE id = $1`, categoryColumns)

	ctx, end := database.TraceQuery(ctx, "GetCategoryByID", query)
	defer func() { end(err) }()

	c = &domain.Category{}
	err = r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.Slug,
		&c.ParentID,
		&c.IsActive,
		&c.SortOrder,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("category", id)
		}
		return nil, fmt.Errorf("scan category: %w", err)
	}

	return c, nil
}

// List returns categories ordered by sort_order and name.
func (r *CategoryRepository) List(ctx context.Context, activeOnly bool) (categories []domain.Category, err error) {
	where := ""
	if activeOnly {
		where = "WHERE is_active = true"
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM categories
		%s
		ORDER BY sort_order, name`, categoryColumns, where)

	ctx, end := database.TraceQuery(ctx, "ListCategories", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.Slug,
			&c.ParentID,
			&c.IsActive,
			&c.SortOrder,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category rows: %w", err)
	}

	if categories == nil {
		categories = []domain.Category{}
	}

	return categories, nil
}
