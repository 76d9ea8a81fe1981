package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/event"
	"github.com/akshay-ctas/server/internal/repository"
	"github.com/akshay-ctas/server/internal/storage"
)

// ProductService implements the product lifecycle: create, read, edit
// metadata and delete.
type ProductService struct {
	*aggregates
	validator *ProductValidator
}

// NewProductService creates a new product service.
func NewProductService(deps Deps, validator *ProductValidator) *ProductService {
	return &ProductService{
		aggregates: newAggregates(deps),
		validator:  validator,
	}
}

// Create validates the payload, uploads the images and persists the new
// aggregate. Uploaded blobs are removed again when the save fails.
func (s *ProductService) Create(ctx context.Context, in *CreateProductInput, files []storage.File) (*domain.Product, error) {
	resolved, err := s.validator.ValidateCreate(ctx, in, files)
	if err != nil {
		return nil, err
	}

	urls, err := s.uploadAll(ctx, files)
	if err != nil {
		return nil, err
	}

	product, err := s.build(in, resolved, urls)
	if err == nil {
		err = s.Products.Save(ctx, product)
	}
	if err != nil {
		s.discardBlobs(context.WithoutCancel(ctx), "", urls)
		return nil, fmt.Errorf("create product: %w", err)
	}

	if s.Events != nil {
		if err := s.Events.PublishProductCreated(ctx, product); err != nil {
			s.Logger.ErrorContext(ctx, "failed to publish product.created event",
				slog.String("product_id", product.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.Logger.InfoContext(ctx, "product created",
		slog.String("product_id", product.ID),
		slog.String("slug", product.Slug),
		slog.Int("variants", len(product.Variants)),
		slog.Int("images", len(product.Images)),
	)

	return product, nil
}

func (s *ProductService) build(in *CreateProductInput, resolved *ValidatedCreate, urls []string) (*domain.Product, error) {
	now := s.now()
	status := in.Status
	if status == "" {
		status = domain.StatusDraft
	}

	p := &domain.Product{
		ID:              uuid.NewString(),
		Title:           strings.TrimSpace(in.Title),
		Slug:            resolved.Slug,
		Description:     in.Description,
		Price:           in.Price,
		CompareAtPrice:  in.CompareAtPrice,
		Status:          domain.StatusDraft,
		Tags:            resolved.Tags,
		SortOrder:       in.SortOrder,
		Categories:      resolved.Categories,
		MetaTitle:       in.MetaTitle,
		MetaDescription: in.MetaDescription,
		Variants:        make([]domain.Variant, len(in.Variants)),
		Images:          []domain.Image{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, v := range in.Variants {
		p.Variants[i] = v.toVariant(uuid.NewString())
	}

	images := make([]domain.NewImage, len(urls))
	for i, url := range urls {
		img := domain.NewImage{ID: uuid.NewString(), URL: url}
		if i < len(in.ImagesMeta) {
			meta := in.ImagesMeta[i]
			img.AltText = trimPtr(meta.AltText)
			img.Primary = meta.IsPrimary
			if meta.VariantSKU != "" {
				if v := p.FindVariantBySKU(strings.TrimSpace(meta.VariantSKU)); v != nil {
					img.VariantID = v.ID
				}
			}
		}
		images[i] = img
	}
	if err := p.SeedImages(images); err != nil {
		return nil, err
	}

	if status == domain.StatusActive && in.PublishedAt != nil {
		t := in.PublishedAt.UTC()
		p.PublishedAt = &t
	}
	if err := p.SetStatus(status, now); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a live product by id or slug, serving from the cache when one
// is configured.
func (s *ProductService) Get(ctx context.Context, idOrSlug string) (*domain.Product, error) {
	byID := uuid.Validate(idOrSlug) == nil

	if s.Cache != nil {
		var (
			cached *domain.Product
			err    error
		)
		if byID {
			cached, err = s.Cache.GetByID(ctx, idOrSlug)
		} else {
			cached, err = s.Cache.GetBySlug(ctx, idOrSlug)
		}
		if err != nil {
			s.Logger.WarnContext(ctx, "product cache read failed",
				slog.String("key", idOrSlug),
				slog.String("error", err.Error()),
			)
		} else if cached != nil {
			return cached, nil
		}
	}

	var (
		product *domain.Product
		err     error
	)
	if byID {
		product, err = s.Products.FindByID(ctx, idOrSlug)
	} else {
		product, err = s.Products.FindBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	if s.Cache != nil {
		if err := s.Cache.Set(ctx, product); err != nil {
			s.Logger.WarnContext(ctx, "product cache write failed",
				slog.String("product_id", product.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return product, nil
}

// List returns one page of live products.
func (s *ProductService) List(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int, error) {
	products, total, err := s.Products.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return products, total, nil
}

// UpdateDetails edits product metadata. A title change re-derives the slug
// unless an explicit slug is given.
func (s *ProductService) UpdateDetails(ctx context.Context, id string, in *UpdateProductInput) (*domain.Product, error) {
	if err := checkStruct(in); err != nil {
		return nil, err
	}

	var categories []string
	if in.Categories != nil {
		var err error
		if categories, err = s.validator.ValidateCategories(ctx, in.Categories); err != nil {
			return nil, err
		}
	}

	product, err := s.mutate(ctx, id, event.ChangeDetails, func(ctx context.Context, p *domain.Product) error {
		if in.Title != nil {
			p.Title = strings.TrimSpace(*in.Title)
		}

		wantSlug := p.Slug
		switch {
		case in.Slug != nil:
			wantSlug = *in.Slug
		case in.Title != nil:
			wantSlug = TitleSlug(p.Title)
		}
		if wantSlug != p.Slug {
			resolved, err := s.validator.ResolveSlug(ctx, wantSlug, p.ID)
			if err != nil {
				return err
			}
			p.Slug = resolved
		}

		if in.Description != nil {
			p.Description = *in.Description
		}
		if in.Price != nil {
			p.Price = *in.Price
		}
		if in.CompareAtPrice != nil {
			p.CompareAtPrice = in.CompareAtPrice
		}
		if in.Tags != nil {
			p.Tags = normalizeList(in.Tags)
		}
		if in.SortOrder != nil {
			p.SortOrder = *in.SortOrder
		}
		if categories != nil {
			p.Categories = categories
		}
		if in.MetaTitle != nil {
			p.MetaTitle = *in.MetaTitle
		}
		if in.MetaDescription != nil {
			p.MetaDescription = *in.MetaDescription
		}
		if in.Status != nil {
			return p.SetStatus(*in.Status, s.now())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	s.Logger.InfoContext(ctx, "product updated", slog.String("product_id", id))
	return product, nil
}

// Delete removes the aggregate, then the blobs of all its images.
func (s *ProductService) Delete(ctx context.Context, id string) error {
	product, err := s.Products.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get product: %w", err)
	}

	if err := s.Products.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	s.invalidate(ctx, id, product.Slug)
	s.discardBlobs(ctx, id, product.ImageURLs())

	if s.Events != nil {
		if err := s.Events.PublishProductDeleted(ctx, product); err != nil {
			s.Logger.ErrorContext(ctx, "failed to publish product.deleted event",
				slog.String("product_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s.Logger.InfoContext(ctx, "product deleted",
		slog.String("product_id", id),
		slog.Int("images", len(product.Images)),
	)
	return nil
}
