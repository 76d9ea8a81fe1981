package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/event"
	"github.com/akshay-ctas/server/internal/storage"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
)

// VariantImageCoordinator applies variant and image mutations to a product
// while keeping scope positions dense and exactly one primary per non-empty
// scope. An empty variantID addresses the product-level scope.
type VariantImageCoordinator struct {
	*aggregates
	validator *ProductValidator
}

// NewVariantImageCoordinator creates a coordinator.
func NewVariantImageCoordinator(deps Deps, validator *ProductValidator) *VariantImageCoordinator {
	return &VariantImageCoordinator{
		aggregates: newAggregates(deps),
		validator:  validator,
	}
}

// AddImages uploads files and appends them to the scope. meta[i] annotates
// files[i]; missing entries mean no alt text and no primary request.
func (c *VariantImageCoordinator) AddImages(ctx context.Context, productID, variantID string, files []storage.File, meta []ImageMeta) (*domain.Product, error) {
	if len(files) == 0 {
		return nil, apperrors.InvalidField("images", "at least one image is required")
	}
	if err := ValidateFiles(files); err != nil {
		return nil, err
	}
	if len(meta) > len(files) {
		return nil, apperrors.InvalidField("meta",
			fmt.Sprintf("has %d entries for %d uploaded images", len(meta), len(files)))
	}
	for i := range meta {
		if err := checkStruct(&meta[i]); err != nil {
			return nil, err
		}
		// The scope comes from the route here.
		if meta[i].VariantSKU != "" {
			return nil, apperrors.InvalidField(fmt.Sprintf("meta[%d].variantSku", i),
				"is not accepted here; upload to the variant's images route instead")
		}
	}

	// Fail on a missing product or variant before anything is uploaded.
	current, err := c.Products.FindByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if variantID != "" && current.FindVariant(variantID) == nil {
		return nil, apperrors.NotFound("variant", variantID)
	}

	urls, err := c.uploadAll(ctx, files)
	if err != nil {
		return nil, err
	}

	images := make([]domain.NewImage, len(urls))
	for i, url := range urls {
		images[i] = domain.NewImage{ID: uuid.NewString(), URL: url, VariantID: variantID}
		if i < len(meta) {
			images[i].AltText = trimPtr(meta[i].AltText)
			images[i].Primary = meta[i].IsPrimary
		}
	}

	product, err := c.mutate(ctx, productID, event.ChangeImagesAdded, func(_ context.Context, p *domain.Product) error {
		_, err := p.AddImages(variantID, images)
		return err
	})
	if err != nil {
		c.discardBlobs(context.WithoutCancel(ctx), productID, urls)
		return nil, fmt.Errorf("add images: %w", err)
	}

	c.Logger.InfoContext(ctx, "images added",
		slog.String("product_id", productID),
		slog.String("variant_id", variantID),
		slog.Int("count", len(urls)),
	)
	return product, nil
}

// DeleteImage removes an image from the scope, then deletes its blob. A blob
// delete failure leaves an orphan and does not fail the call.
func (c *VariantImageCoordinator) DeleteImage(ctx context.Context, productID, variantID, imageID string) (*domain.Product, error) {
	var removed domain.Image
	product, err := c.mutate(ctx, productID, event.ChangeImageRemoved, func(_ context.Context, p *domain.Product) error {
		var err error
		removed, err = p.RemoveImage(variantID, imageID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete image: %w", err)
	}

	c.discardBlobs(ctx, productID, []string{removed.URL})
	return product, nil
}

// SetPrimaryImage makes imageID the only primary image of its scope. Calling
// it for the current primary changes nothing.
func (c *VariantImageCoordinator) SetPrimaryImage(ctx context.Context, productID, variantID, imageID string) (*domain.Product, error) {
	product, err := c.mutate(ctx, productID, event.ChangePrimaryImage, func(_ context.Context, p *domain.Product) error {
		if img := p.FindImage(variantID, imageID); img != nil && img.IsPrimary && primaryCount(p, variantID) == 1 {
			return errUnchanged
		}
		return p.SetPrimaryImage(variantID, imageID)
	})
	if err != nil {
		return nil, fmt.Errorf("set primary image: %w", err)
	}
	return product, nil
}

// DeleteVariant removes the variant and every image scoped to it in one save,
// then deletes the removed blobs.
func (c *VariantImageCoordinator) DeleteVariant(ctx context.Context, productID, variantID string) (*domain.Product, error) {
	var removed []domain.Image
	product, err := c.mutate(ctx, productID, event.ChangeVariantRemove, func(_ context.Context, p *domain.Product) error {
		var err error
		removed, err = p.RemoveVariant(variantID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete variant: %w", err)
	}

	urls := make([]string, len(removed))
	for i, img := range removed {
		urls[i] = img.URL
	}
	c.discardBlobs(ctx, productID, urls)

	c.Logger.InfoContext(ctx, "variant deleted",
		slog.String("product_id", productID),
		slog.String("variant_id", variantID),
		slog.Int("images", len(removed)),
	)
	return product, nil
}

// EditVariant applies a partial update to one variant. A new SKU must be
// unique across the catalog.
func (c *VariantImageCoordinator) EditVariant(ctx context.Context, productID, variantID string, in *EditVariantInput) (*domain.Product, error) {
	if err := checkStruct(in); err != nil {
		return nil, err
	}

	product, err := c.mutate(ctx, productID, event.ChangeVariantEdited, func(ctx context.Context, p *domain.Product) error {
		v := p.FindVariant(variantID)
		if v == nil {
			return apperrors.NotFound("variant", variantID)
		}
		previousSKU := v.SKU
		in.apply(v)
		if v.SKU != previousSKU {
			return c.validator.ValidateSKUs(ctx, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("edit variant: %w", err)
	}
	return product, nil
}

// AddVariant appends a new variant with a catalog-unique SKU.
func (c *VariantImageCoordinator) AddVariant(ctx context.Context, productID string, in *VariantInput) (*domain.Product, *domain.Variant, error) {
	if err := checkStruct(in); err != nil {
		return nil, nil, err
	}

	variant := in.toVariant(uuid.NewString())
	product, err := c.mutate(ctx, productID, event.ChangeVariantAdded, func(ctx context.Context, p *domain.Product) error {
		p.Variants = append(p.Variants, variant)
		return c.validator.ValidateSKUs(ctx, p)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("add variant: %w", err)
	}

	c.Logger.InfoContext(ctx, "variant added",
		slog.String("product_id", productID),
		slog.String("sku", strings.TrimSpace(in.SKU)),
	)
	return product, product.FindVariant(variant.ID), nil
}

func primaryCount(p *domain.Product, scope string) int {
	n := 0
	for _, img := range p.Images {
		if img.Scope() == scope && img.IsPrimary {
			n++
		}
	}
	return n
}
