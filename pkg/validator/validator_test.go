package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type variantInput struct {
	SKU   string          `json:"sku" validate:"notblank"`
	Price decimal.Decimal `json:"price" validate:"gt=0"`
	Stock int             `json:"stock" validate:"gte=0"`
}

type productInput struct {
	Title      string           `json:"title" validate:"required,max=200"`
	Slug       string           `json:"slug" validate:"omitempty,slug"`
	Price      decimal.Decimal  `json:"price" validate:"gt=0"`
	Compare    *decimal.Decimal `json:"compareAtPrice" validate:"omitempty,gt=0"`
	Categories []string         `json:"categories" validate:"min=1,dive,required"`
	Status     string           `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE ARCHIVED"`
	Variants   []variantInput   `json:"variants" validate:"dive"`
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	return ve.Fields()
}

func validInput() productInput {
	return productInput{
		Title:      "Gold Ring",
		Price:      decimal.NewFromInt(100),
		Categories: []string{"c1"},
		Variants:   []variantInput{{SKU: "GR-001", Price: decimal.NewFromInt(100)}},
	}
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(validInput()))
}

func TestValidate_DecimalComparisons(t *testing.T) {
	in := validInput()
	in.Price = decimal.Zero
	neg := decimal.NewFromFloat(-1.5)
	in.Compare = &neg

	fields := fieldsOf(t, Validate(in))
	assert.Equal(t, "must be greater than 0", fields["price"])
	assert.Contains(t, fields, "compareAtPrice")
}

func TestValidate_SlugTag(t *testing.T) {
	in := validInput()
	in.Slug = "Gold Ring"
	assert.Contains(t, fieldsOf(t, Validate(in)), "slug")

	in.Slug = "gold-ring"
	assert.NoError(t, Validate(in))
}

func TestValidate_NestedFieldPaths(t *testing.T) {
	in := validInput()
	in.Variants = append(in.Variants, variantInput{SKU: "  ", Price: decimal.NewFromInt(1), Stock: -1})

	fields := fieldsOf(t, Validate(in))
	assert.Equal(t, "is required", fields["variants[1].sku"])
	assert.Contains(t, fields, "variants[1].stock")
}

func TestValidate_EmptyCategories(t *testing.T) {
	in := validInput()
	in.Categories = nil
	assert.Equal(t, "must contain at least 1 item(s)", fieldsOf(t, Validate(in))["categories"])
}

func TestValidate_OneOf(t *testing.T) {
	in := validInput()
	in.Status = "PUBLISHED"
	assert.Contains(t, fieldsOf(t, Validate(in))["status"], "DRAFT ACTIVE ARCHIVED")
}

func TestValidationError_ErrorString(t *testing.T) {
	in := validInput()
	in.Title = ""
	err := Validate(in)
	require.Error(t, err)
	assert.Equal(t, "title is required", err.Error())
}

func TestDecodeAndValidate(t *testing.T) {
	body := `{"title":"Gold Ring","price":"100.50","categories":["c1"]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var in productInput
	require.NoError(t, DecodeAndValidate(req, &in))
	assert.True(t, in.Price.Equal(decimal.RequireFromString("100.50")))
}

func TestDecodeAndValidate_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","bogus":1}`))
	var in productInput
	err := DecodeAndValidate(req, &in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}
