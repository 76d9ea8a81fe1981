package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the lifecycle state of a product.
type ProductStatus string

const (
	StatusDraft    ProductStatus = "DRAFT"
	StatusActive   ProductStatus = "ACTIVE"
	StatusArchived ProductStatus = "ARCHIVED"
)

// Valid reports whether s is a known status.
func (s ProductStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusArchived:
		return true
	}
	return false
}

// Product is the catalog aggregate root. It exclusively owns its variants and
// images; every change to them is persisted as one write of the whole
// aggregate, guarded by Version.
type Product struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Slug            string           `json:"slug"`
	Description     string           `json:"description,omitempty"`
	Price           decimal.Decimal  `json:"price"`
	CompareAtPrice  *decimal.Decimal `json:"compareAtPrice,omitempty"`
	Status          ProductStatus    `json:"status"`
	Tags            []string         `json:"tags"`
	SortOrder       int              `json:"sortOrder"`
	Categories      []string         `json:"categories"`
	MetaTitle       string           `json:"metaTitle,omitempty"`
	MetaDescription string           `json:"metaDescription,omitempty"`
	Variants        []Variant        `json:"variants"`
	Images          []Image          `json:"images"`
	PublishedAt     *time.Time       `json:"publishedAt,omitempty"`
	DeletedAt       *time.Time       `json:"deletedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`

	// Version is 0 until first saved and incremented by every save.
	Version int64 `json:"version"`
}

// Variant is one purchasable SKU of a product.
type Variant struct {
	ID             string           `json:"id"`
	SKU            string           `json:"sku"`
	Color          *string          `json:"color,omitempty"`
	MetalType      *string          `json:"metalType,omitempty"`
	StoneType      *string          `json:"stoneType,omitempty"`
	Size           *string          `json:"size,omitempty"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compareAtPrice,omitempty"`
	Stock          int              `json:"stock"`
	IsAvailable    bool             `json:"isAvailable"`
	Weight         *decimal.Decimal `json:"weight,omitempty"`
}

// Image is a product picture. VariantID nil means a product-level image.
type Image struct {
	ID        string  `json:"id"`
	VariantID *string `json:"variantId,omitempty"`
	URL       string  `json:"url"`
	AltText   *string `json:"altText,omitempty"`
	Position  int     `json:"position"`
	IsPrimary bool    `json:"isPrimary"`
}

// Scope returns the id of the variant the image belongs to, or "" for
// product-level images.
func (i Image) Scope() string {
	if i.VariantID == nil {
		return ""
	}
	return *i.VariantID
}
