package service

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akshay-ctas/server/internal/domain"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
	"github.com/akshay-ctas/server/pkg/validator"
)

// VariantInput describes one variant in a create payload or an add-variant call.
type VariantInput struct {
	SKU            string           `json:"sku" validate:"notblank,max=64"`
	Color          *string          `json:"color,omitempty" validate:"omitempty,max=64"`
	MetalType      *string          `json:"metalType,omitempty" validate:"omitempty,max=64"`
	StoneType      *string          `json:"stoneType,omitempty" validate:"omitempty,max=64"`
	Size           *string          `json:"size,omitempty" validate:"omitempty,max=32"`
	Price          decimal.Decimal  `json:"price" validate:"gt=0"`
	CompareAtPrice *decimal.Decimal `json:"compareAtPrice,omitempty" validate:"omitempty,gt=0"`
	Stock          int              `json:"stock" validate:"gte=0"`
	IsAvailable    *bool            `json:"isAvailable,omitempty"`
	Weight         *decimal.Decimal `json:"weight,omitempty" validate:"omitempty,gt=0"`
}

// ImageMeta annotates the uploaded file at the same index.
type ImageMeta struct {
	VariantSKU string  `json:"variantSku,omitempty"`
	AltText    *string `json:"altText,omitempty" validate:"omitempty,max=255"`
	IsPrimary  bool    `json:"isPrimary,omitempty"`
}

// CreateProductInput is the full creation payload.
type CreateProductInput struct {
	Title           string               `json:"title" validate:"notblank,max=255"`
	Slug            string               `json:"slug,omitempty" validate:"omitempty,slug,max=255"`
	Description     string               `json:"description,omitempty"`
	Price           decimal.Decimal      `json:"price" validate:"gt=0"`
	CompareAtPrice  *decimal.Decimal     `json:"compareAtPrice,omitempty" validate:"omitempty,gt=0"`
	Status          domain.ProductStatus `json:"status,omitempty" validate:"omitempty,oneof=DRAFT ACTIVE ARCHIVED"`
	Tags            []string             `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
	SortOrder       int                  `json:"sortOrder" validate:"gte=0"`
	Categories      []string             `json:"categories" validate:"required,min=1,dive,notblank"`
	MetaTitle       string               `json:"metaTitle,omitempty" validate:"max=255"`
	MetaDescription string               `json:"metaDescription,omitempty" validate:"max=500"`
	PublishedAt     *time.Time           `json:"publishedAt,omitempty"`
	Variants        []VariantInput       `json:"variants,omitempty" validate:"dive"`
	ImagesMeta      []ImageMeta          `json:"imagesMeta,omitempty" validate:"dive"`
}

// UpdateProductInput edits product metadata. Nil fields are left unchanged.
// Images are managed through the image operations only.
type UpdateProductInput struct {
	Title           *string               `json:"title,omitempty" validate:"omitempty,notblank,max=255"`
	Slug            *string               `json:"slug,omitempty" validate:"omitempty,slug,max=255"`
	Description     *string               `json:"description,omitempty"`
	Price           *decimal.Decimal      `json:"price,omitempty" validate:"omitempty,gt=0"`
	CompareAtPrice  *decimal.Decimal      `json:"compareAtPrice,omitempty" validate:"omitempty,gt=0"`
	Status          *domain.ProductStatus `json:"status,omitempty" validate:"omitempty,oneof=DRAFT ACTIVE ARCHIVED"`
	Tags            []string              `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
	SortOrder       *int                  `json:"sortOrder,omitempty" validate:"omitempty,gte=0"`
	Categories      []string              `json:"categories,omitempty" validate:"omitempty,min=1,dive,notblank"`
	MetaTitle       *string               `json:"metaTitle,omitempty" validate:"omitempty,max=255"`
	MetaDescription *string               `json:"metaDescription,omitempty" validate:"omitempty,max=500"`
}

// EditVariantInput is a partial update of one variant.
type EditVariantInput struct {
	SKU            *string          `json:"sku,omitempty" validate:"omitempty,notblank,max=64"`
	Color          *string          `json:"color,omitempty" validate:"omitempty,max=64"`
	MetalType      *string          `json:"metalType,omitempty" validate:"omitempty,max=64"`
	StoneType      *string          `json:"stoneType,omitempty" validate:"omitempty,max=64"`
	Size           *string          `json:"size,omitempty" validate:"omitempty,max=32"`
	Price          *decimal.Decimal `json:"price,omitempty" validate:"omitempty,gt=0"`
	CompareAtPrice *decimal.Decimal `json:"compareAtPrice,omitempty" validate:"omitempty,gt=0"`
	Stock          *int             `json:"stock,omitempty" validate:"omitempty,gte=0"`
	IsAvailable    *bool            `json:"isAvailable,omitempty"`
	Weight         *decimal.Decimal `json:"weight,omitempty" validate:"omitempty,gt=0"`
}

// checkStruct runs tag validation and reports failures as an invalid-input
// error carrying per-field messages.
func checkStruct(in any) error {
	err := validator.Validate(in)
	if err == nil {
		return nil
	}
	var ve *validator.ValidationError
	if errors.As(err, &ve) {
		appErr := apperrors.InvalidInput("request validation failed")
		for field, msg := range ve.Fields() {
			appErr.WithField(field, msg)
		}
		return appErr
	}
	return apperrors.InvalidInput(err.Error())
}

// normalizeList trims entries, drops blanks and keeps the first occurrence
// of each value.
func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (in VariantInput) toVariant(id string) domain.Variant {
	available := true
	if in.IsAvailable != nil {
		available = *in.IsAvailable
	}
	return domain.Variant{
		ID:             id,
		SKU:            strings.TrimSpace(in.SKU),
		Color:          trimPtr(in.Color),
		MetalType:      trimPtr(in.MetalType),
		StoneType:      trimPtr(in.StoneType),
		Size:           trimPtr(in.Size),
		Price:          in.Price,
		CompareAtPrice: in.CompareAtPrice,
		Stock:          in.Stock,
		IsAvailable:    available,
		Weight:         in.Weight,
	}
}

func (in EditVariantInput) apply(v *domain.Variant) {
	if in.SKU != nil {
		v.SKU = strings.TrimSpace(*in.SKU)
	}
	if in.Color != nil {
		v.Color = trimPtr(in.Color)
	}
	if in.MetalType != nil {
		v.MetalType = trimPtr(in.MetalType)
	}
	if in.StoneType != nil {
		v.StoneType = trimPtr(in.StoneType)
	}
	if in.Size != nil {
		v.Size = trimPtr(in.Size)
	}
	if in.Price != nil {
		v.Price = *in.Price
	}
	if in.CompareAtPrice != nil {
		v.CompareAtPrice = in.CompareAtPrice
	}
	if in.Stock != nil {
		v.Stock = *in.Stock
	}
	if in.IsAvailable != nil {
		v.IsAvailable = *in.IsAvailable
	}
	if in.Weight != nil {
		v.Weight = in.Weight
	}
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
