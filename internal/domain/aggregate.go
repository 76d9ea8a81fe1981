package domain

import (
	"slices"
	"time"

	apperrors "github.com/akshay-ctas/server/pkg/errors"
)

// NewImage describes an uploaded image about to be attached to a product.
type NewImage struct {
	ID        string
	URL       string
	AltText   *string
	VariantID string
	Primary   bool
}

// Touch stamps the aggregate as modified at now.
func (p *Product) Touch(now time.Time) {
	p.UpdatedAt = now
}

// FindVariant returns a pointer into p.Variants, or nil.
func (p *Product) FindVariant(id string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i]
		}
	}
	return nil
}

// FindVariantBySKU returns a pointer into p.Variants, or nil.
func (p *Product) FindVariantBySKU(sku string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].SKU == sku {
			return &p.Variants[i]
		}
	}
	return nil
}

// FindImage returns the image with id inside scope, or nil.
func (p *Product) FindImage(scope, id string) *Image {
	for i := range p.Images {
		if p.Images[i].ID == id && p.Images[i].Scope() == scope {
			return &p.Images[i]
		}
	}
	return nil
}

// SKUs returns every variant SKU in list order.
func (p *Product) SKUs() []string {
	skus := make([]string, len(p.Variants))
	for i, v := range p.Variants {
		skus[i] = v.SKU
	}
	return skus
}

// ImageURLs returns the URLs of all images, optionally limited to one scope.
func (p *Product) ImageURLs(scope ...string) []string {
	var urls []string
	for _, img := range p.Images {
		if len(scope) > 0 && img.Scope() != scope[0] {
			continue
		}
		urls = append(urls, img.URL)
	}
	return urls
}

// ScopeImages returns copies of the images in scope ordered by position.
func (p *Product) ScopeImages(scope string) []Image {
	var out []Image
	for _, img := range p.Images {
		if img.Scope() == scope {
			out = append(out, img)
		}
	}
	slices.SortStableFunc(out, func(a, b Image) int { return a.Position - b.Position })
	return out
}

// scopeIndexes returns indexes into p.Images for scope, ordered by position
// with ties kept in slice order.
func (p *Product) scopeIndexes(scope string) []int {
	var idx []int
	for i, img := range p.Images {
		if img.Scope() == scope {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int { return p.Images[a].Position - p.Images[b].Position })
	return idx
}

// NormalizeScope renumbers positions in scope to 0..n-1 and leaves exactly one
// primary: the first primary by position, or position 0 when none is flagged.
func (p *Product) NormalizeScope(scope string) {
	idx := p.scopeIndexes(scope)
	primary := -1
	for pos, i := range idx {
		p.Images[i].Position = pos
		if p.Images[i].IsPrimary && primary < 0 {
			primary = i
		}
		p.Images[i].IsPrimary = false
	}
	if len(idx) == 0 {
		return
	}
	if primary < 0 {
		primary = idx[0]
	}
	p.Images[primary].IsPrimary = true
}

func (p *Product) requireScope(scope string) error {
	if scope != "" && p.FindVariant(scope) == nil {
		return apperrors.NotFound("variant", scope)
	}
	return nil
}

func newImage(n NewImage, scope string, position int) Image {
	img := Image{ID: n.ID, URL: n.URL, AltText: n.AltText, Position: position}
	if scope != "" {
		v := scope
		img.VariantID = &v
	}
	return img
}

// AddImages appends images to scope after its current last position.
// When the scope is empty the first new image becomes primary whatever the
// requests say. Otherwise the first image requesting primary takes over from
// the current primary; any further requests are ignored.
func (p *Product) AddImages(scope string, images []NewImage) ([]Image, error) {
	if err := p.requireScope(scope); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}

	p.NormalizeScope(scope)
	existing := p.scopeIndexes(scope)
	next := len(existing)

	promote := -1
	if len(existing) == 0 {
		promote = 0
	} else {
		for i, n := range images {
			if n.Primary {
				promote = i
				break
			}
		}
		if promote >= 0 {
			for _, i := range existing {
				p.Images[i].IsPrimary = false
			}
		}
	}

	added := make([]Image, len(images))
	for i, n := range images {
		img := newImage(n, scope, next+i)
		img.IsPrimary = i == promote
		added[i] = img
	}
	p.Images = append(p.Images, added...)
	return added, nil
}

// SeedImages lays out the images of a product being created. Images are
// grouped by scope in input order with positions from 0; in each scope the
// first image requesting primary wins, else the first image is primary.
func (p *Product) SeedImages(images []NewImage) error {
	var scopes []string
	for _, n := range images {
		if err := p.requireScope(n.VariantID); err != nil {
			return err
		}
		if !slices.Contains(scopes, n.VariantID) {
			scopes = append(scopes, n.VariantID)
		}
	}

	for _, scope := range scopes {
		pos := len(p.scopeIndexes(scope))
		requested := false
		for _, n := range images {
			if n.VariantID != scope {
				continue
			}
			img := newImage(n, scope, pos)
			if n.Primary && !requested {
				img.IsPrimary = true
				requested = true
			}
			p.Images = append(p.Images, img)
			pos++
		}
		p.NormalizeScope(scope)
	}
	return nil
}

// RemoveImage deletes an image from scope, promotes the lowest remaining
// position when the primary was removed, and closes the position gap.
func (p *Product) RemoveImage(scope, imageID string) (Image, error) {
	if err := p.requireScope(scope); err != nil {
		return Image{}, err
	}
	for i, img := range p.Images {
		if img.ID == imageID && img.Scope() == scope {
			p.Images = slices.Delete(p.Images, i, i+1)
			p.NormalizeScope(scope)
			return img, nil
		}
	}
	return Image{}, apperrors.NotFound("image", imageID)
}

// SetPrimaryImage makes imageID the only primary in scope. Repeated calls
// leave the aggregate unchanged.
func (p *Product) SetPrimaryImage(scope, imageID string) error {
	if err := p.requireScope(scope); err != nil {
		return err
	}
	if p.FindImage(scope, imageID) == nil {
		return apperrors.NotFound("image", imageID)
	}
	for i := range p.Images {
		if p.Images[i].Scope() == scope {
			p.Images[i].IsPrimary = p.Images[i].ID == imageID
		}
	}
	return nil
}

// RemoveVariant drops the variant and every image scoped to it, returning the
// removed images so their blobs can be deleted.
func (p *Product) RemoveVariant(variantID string) ([]Image, error) {
	idx := slices.IndexFunc(p.Variants, func(v Variant) bool { return v.ID == variantID })
	if idx < 0 {
		return nil, apperrors.NotFound("variant", variantID)
	}

	var removed []Image
	p.Images = slices.DeleteFunc(p.Images, func(img Image) bool {
		if img.Scope() == variantID {
			removed = append(removed, img)
			return true
		}
		return false
	})
	p.Variants = slices.Delete(p.Variants, idx, idx+1)
	return removed, nil
}

// CanActivate checks that the product has something to sell and show.
func (p *Product) CanActivate() error {
	if len(p.Variants) == 0 {
		return apperrors.InvalidStateTransition("cannot activate product without variants")
	}
	if len(p.Images) == 0 {
		return apperrors.InvalidStateTransition("cannot activate product without images")
	}
	return nil
}

// SetStatus moves the product to status. Activation requires CanActivate and
// stamps PublishedAt on first publication.
func (p *Product) SetStatus(status ProductStatus, now time.Time) error {
	if !status.Valid() {
		return apperrors.InvalidField("status", "must be one of: DRAFT ACTIVE ARCHIVED")
	}
	if status == StatusActive {
		if err := p.CanActivate(); err != nil {
			return err
		}
		if p.PublishedAt == nil {
			t := now
			p.PublishedAt = &t
		}
	}
	p.Status = status
	return nil
}
