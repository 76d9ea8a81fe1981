// Package catalogclient is a typed client for the catalog HTTP API. The seed
// tool and the end-to-end flow tests drive a running service through it.
package catalogclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/service"
	"github.com/akshay-ctas/server/pkg/httpclient"
	"github.com/akshay-ctas/server/pkg/pagination"
)

const serviceName = "catalog"

// Upload is one image file sent in a multipart request.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Client calls the catalog API. Mutations need an admin token.
type Client struct {
	http    *httpclient.Client
	baseURL string
	token   string
}

// New creates a client for the service at baseURL.
func New(baseURL, token string, cfg httpclient.Config) *Client {
	return &Client{
		http:    httpclient.New(cfg),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Live reports whether the service answers its liveness probe.
func (c *Client) Live(ctx context.Context) error {
	resp, err := c.http.Get(ctx, c.baseURL+"/health/live")
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("liveness probe returned %d", resp.StatusCode)
	}
	return nil
}

// CreateCategory creates an active category; the slug is derived from name.
func (c *Client) CreateCategory(ctx context.Context, name string, sortOrder int) (*domain.Category, error) {
	var out domain.Category
	body := map[string]any{"name": name, "sortOrder": sortOrder}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/categories", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCategories returns all categories, or only active ones.
func (c *Client) ListCategories(ctx context.Context, activeOnly bool) ([]domain.Category, error) {
	path := "/api/v1/categories"
	if activeOnly {
		path += "?active=true"
	}
	var out []domain.Category
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProduct creates a product with its variants and images in one call.
// files pair by index with in.ImagesMeta.
func (c *Client) CreateProduct(ctx context.Context, in *service.CreateProductInput, files []Upload) (*domain.Product, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var out domain.Product
	if err := c.doMultipart(ctx, "/api/v1/products", map[string][]byte{"payload": payload}, files, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProduct fetches a product by id or slug.
func (c *Client) GetProduct(ctx context.Context, idOrSlug string) (*domain.Product, error) {
	var out domain.Product
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(idOrSlug), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProducts returns one page of products matching query.
func (c *Client) ListProducts(ctx context.Context, query url.Values) (*pagination.Result[domain.Product], error) {
	path := "/api/v1/products"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var out pagination.Result[domain.Product]
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProduct applies a partial update of product details.
func (c *Client) UpdateProduct(ctx context.Context, id string, in *service.UpdateProductInput) (*domain.Product, error) {
	var out domain.Product
	if err := c.doJSON(ctx, http.MethodPatch, "/api/v1/products/"+id, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProduct removes a product and its images.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/products/"+id, nil, nil)
}

// AddVariant appends a variant and returns it with the updated product.
func (c *Client) AddVariant(ctx context.Context, productID string, in *service.VariantInput) (*domain.Product, *domain.Variant, error) {
	var out struct {
		Variant *domain.Variant `json:"variant"`
		Product *domain.Product `json:"product"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/products/"+productID+"/variants", in, &out); err != nil {
		return nil, nil, err
	}
	return out.Product, out.Variant, nil
}

// DeleteVariant removes a variant together with its images.
func (c *Client) DeleteVariant(ctx context.Context, productID, variantID string) (*domain.Product, error) {
	var out domain.Product
	if err := c.doJSON(ctx, http.MethodDelete, variantPath(productID, variantID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddImages uploads images into the product scope, or into a variant's scope
// when variantID is set. meta pairs by index with files and may be shorter.
func (c *Client) AddImages(ctx context.Context, productID, variantID string, files []Upload, meta []service.ImageMeta) (*domain.Product, error) {
	fields := map[string][]byte{}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal meta: %w", err)
		}
		fields["meta"] = raw
	}
	var out domain.Product
	if err := c.doMultipart(ctx, scopePath(productID, variantID)+"/images", fields, files, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteImage removes one image from a scope.
func (c *Client) DeleteImage(ctx context.Context, productID, variantID, imageID string) (*domain.Product, error) {
	var out domain.Product
	path := scopePath(productID, variantID) + "/images/" + imageID
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPrimaryImage makes imageID the primary image of its scope.
func (c *Client) SetPrimaryImage(ctx context.Context, productID, variantID, imageID string) (*domain.Product, error) {
	var out domain.Product
	path := scopePath(productID, variantID) + "/images/" + imageID + "/primary"
	if err := c.doJSON(ctx, http.MethodPut, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func variantPath(productID, variantID string) string {
	return "/api/v1/products/" + productID + "/variants/" + variantID
}

func scopePath(productID, variantID string) string {
	if variantID == "" {
		return "/api/v1/products/" + productID
	}
	return variantPath(productID, variantID)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body, contentType = raw, "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out, true)
}

func (c *Client) doMultipart(ctx context.Context, path string, fields map[string][]byte, files []Upload, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, string(value)); err != nil {
			return fmt.Errorf("write field %s: %w", name, err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, f.Name))
		h.Set("Content-Type", f.ContentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			return fmt.Errorf("write part %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, buf.Bytes(), mw.FormDataContentType(), out, true)
}

// do sends the request and decodes a 2xx body into out. Most endpoints wrap
// their result in the {"data": ...} envelope; paged lists do not.
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any, enveloped bool) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if !enveloped {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
		return nil
	}

	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
