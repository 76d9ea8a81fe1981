package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/storage"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
	"github.com/akshay-ctas/server/pkg/slug"
)

// MaxImageSize is the largest accepted image upload.
const MaxImageSize = 5 << 20

// AllowedImageTypes lists the accepted image MIME types.
var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

const slugAttempts = 5

// fallbackSlug is the slug base for titles without ASCII letters or digits.
const fallbackSlug = "product"

// TitleSlug derives the slug base for a product title.
func TitleSlug(title string) string {
	if base := slug.Generate(title); base != "" {
		return base
	}
	return fallbackSlug
}

// CategoryLookup resolves category references.
type CategoryLookup interface {
	FindActiveByIDs(ctx context.Context, ids []string) ([]string, error)
}

// UniquenessLookup answers slug and SKU uniqueness questions.
type UniquenessLookup interface {
	SlugExists(ctx context.Context, slug, excludeProductID string) (bool, error)
	FindExistingSKUs(ctx context.Context, skus []string, excludeProductID string) ([]string, error)
}

// ProductValidator checks payloads against the catalog rules. It performs
// read-only lookups and never writes.
type ProductValidator struct {
	products   UniquenessLookup
	categories CategoryLookup
	now        func() time.Time
}

// NewProductValidator creates a validator over the given lookups.
func NewProductValidator(products UniquenessLookup, categories CategoryLookup) *ProductValidator {
	return &ProductValidator{
		products:   products,
		categories: categories,
		now:        time.Now,
	}
}

// ValidatedCreate carries values resolved while validating a create payload.
type ValidatedCreate struct {
	Slug       string
	Categories []string
	Tags       []string
}

// ValidateCreate checks a creation payload and its uploaded files.
func (v *ProductValidator) ValidateCreate(ctx context.Context, in *CreateProductInput, files []storage.File) (*ValidatedCreate, error) {
	if err := checkStruct(in); err != nil {
		return nil, err
	}

	skus := make([]string, len(in.Variants))
	for i, variant := range in.Variants {
		skus[i] = strings.TrimSpace(variant.SKU)
	}
	if dups := duplicates(skus); len(dups) > 0 {
		return nil, apperrors.DuplicateValues("sku", dups)
	}

	if err := ValidateFiles(files); err != nil {
		return nil, err
	}
	if len(in.ImagesMeta) > len(files) {
		return nil, apperrors.InvalidField("imagesMeta",
			fmt.Sprintf("has %d entries for %d uploaded images", len(in.ImagesMeta), len(files)))
	}
	for i, meta := range in.ImagesMeta {
		if meta.VariantSKU != "" && !slices.Contains(skus, strings.TrimSpace(meta.VariantSKU)) {
			return nil, apperrors.InvalidField(fmt.Sprintf("imagesMeta[%d].variantSku", i),
				fmt.Sprintf("references unknown variant sku %s", meta.VariantSKU))
		}
	}

	if in.Status == domain.StatusActive {
		if len(in.Variants) == 0 {
			return nil, apperrors.InvalidStateTransition("cannot activate product without variants")
		}
		if len(files) == 0 {
			return nil, apperrors.InvalidStateTransition("cannot activate product without images")
		}
	}

	categories, err := v.ValidateCategories(ctx, in.Categories)
	if err != nil {
		return nil, err
	}

	if err := v.checkPersistedSKUs(ctx, skus, ""); err != nil {
		return nil, err
	}

	base := in.Slug
	if base == "" {
		base = TitleSlug(in.Title)
	}
	resolved, err := v.ResolveSlug(ctx, base, "")
	if err != nil {
		return nil, err
	}

	return &ValidatedCreate{
		Slug:       resolved,
		Categories: categories,
		Tags:       normalizeList(in.Tags),
	}, nil
}

// ValidateCategories deduplicates ids and requires each to name an active
// category.
func (v *ProductValidator) ValidateCategories(ctx context.Context, ids []string) ([]string, error) {
	ids = normalizeList(ids)
	if len(ids) == 0 {
		return nil, apperrors.InvalidField("categories", "must contain at least 1 item(s)")
	}

	found, err := v.categories.FindActiveByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find active categories: %w", err)
	}

	var missing []string
	for _, id := range ids {
		if !slices.Contains(found, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.InvalidField("categories", "inactive or unknown: "+strings.Join(missing, ", "))
	}
	return ids, nil
}

// ResolveSlug returns base when no other product holds it, otherwise base with
// a millisecond timestamp suffix, bumped until free.
func (v *ProductValidator) ResolveSlug(ctx context.Context, base, excludeProductID string) (string, error) {
	if !slug.Valid(base) {
		return "", apperrors.InvalidField("slug", "must be lowercase letters and digits separated by single hyphens")
	}

	taken, err := v.products.SlugExists(ctx, base, excludeProductID)
	if err != nil {
		return "", fmt.Errorf("check slug: %w", err)
	}
	if !taken {
		return base, nil
	}

	stamp := v.now().UnixMilli()
	for i := range int64(slugAttempts) {
		candidate := slug.WithSuffix(base, stamp+i)
		taken, err := v.products.SlugExists(ctx, candidate, excludeProductID)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", apperrors.AlreadyExists("product", "slug", base)
}

// ValidateSKUs checks the full SKU list of p for internal duplicates and
// for SKUs held by other products.
func (v *ProductValidator) ValidateSKUs(ctx context.Context, p *domain.Product) error {
	skus := p.SKUs()
	if dups := duplicates(skus); len(dups) > 0 {
		return apperrors.DuplicateValues("sku", dups)
	}
	return v.checkPersistedSKUs(ctx, skus, p.ID)
}

func (v *ProductValidator) checkPersistedSKUs(ctx context.Context, skus []string, excludeProductID string) error {
	if len(skus) == 0 {
		return nil
	}
	existing, err := v.products.FindExistingSKUs(ctx, skus, excludeProductID)
	if err != nil {
		return fmt.Errorf("find existing skus: %w", err)
	}
	if len(existing) > 0 {
		return apperrors.DuplicateValues("sku", existing)
	}
	return nil
}

// ValidateFiles enforces the image type allowlist and size limit.
func ValidateFiles(files []storage.File) error {
	for i, f := range files {
		field := fmt.Sprintf("images[%d]", i)
		if !slices.Contains(AllowedImageTypes, strings.ToLower(f.ContentType)) {
			return apperrors.InvalidField(field, fmt.Sprintf("has unsupported type %q", f.ContentType))
		}
		if f.Size > MaxImageSize {
			return apperrors.InvalidField(field, fmt.Sprintf("exceeds %d bytes", MaxImageSize))
		}
	}
	return nil
}

// duplicates returns values occurring more than once, each reported once.
func duplicates(values []string) []string {
	counts := make(map[string]int, len(values))
	var dups []string
	for _, v := range values {
		counts[v]++
		if counts[v] == 2 {
			dups = append(dups, v)
		}
	}
	return dups
}
