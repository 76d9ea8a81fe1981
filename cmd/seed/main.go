// Command seed populates a running catalog service with categories and
// jewelry products, each with variants and generated placeholder images.
// Everything goes through the public API so every write exercises the same
// validation, storage and event paths as real traffic.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/akshay-ctas/server/internal/catalogclient"
	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/service"
	pkgconfig "github.com/akshay-ctas/server/pkg/config"
	apperrors "github.com/akshay-ctas/server/pkg/errors"
	"github.com/akshay-ctas/server/pkg/httpclient"
	"github.com/akshay-ctas/server/pkg/logger"
	"github.com/akshay-ctas/server/pkg/middleware"
)

type seedConfig struct {
	CatalogURL  string        `env:"CATALOG_URL" envDefault:"http://localhost:8001"`
	JWTSecret   string        `env:"JWT_SECRET,required"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	Concurrency int           `env:"SEED_CONCURRENCY" envDefault:"4"`
	Timeout     time.Duration `env:"SEED_TIMEOUT" envDefault:"2m"`
}

type categoryDef struct {
	name  string
	color color.RGBA
}

type productDef struct {
	title       string
	description string
	category    string
	price       string
	metal       string
	stone       string
	sizes       []string
}

var categories = []categoryDef{
	{name: "Rings", color: color.RGBA{R: 212, G: 175, B: 55, A: 255}},
	{name: "Necklaces", color: color.RGBA{R: 192, G: 192, B: 192, A: 255}},
	{name: "Earrings", color: color.RGBA{R: 183, G: 110, B: 121, A: 255}},
	{name: "Bracelets", color: color.RGBA{R: 229, G: 228, B: 226, A: 255}},
}

var products = []productDef{
	{"Classic Solitaire Ring", "A single brilliant-cut diamond on a slim band.", "Rings", "1299.00", "Gold", "Diamond", []string{"5", "6", "7"}},
	{"Eternity Band", "Channel-set stones all the way around.", "Rings", "899.00", "Platinum", "Sapphire", []string{"6", "7", "8"}},
	{"Signet Ring", "Polished oval face ready for engraving.", "Rings", "349.00", "Silver", "", []string{"8", "9", "10"}},
	{"Pearl Pendant", "Freshwater pearl on a fine cable chain.", "Necklaces", "189.00", "Gold", "Pearl", []string{"16in", "18in"}},
	{"Tennis Necklace", "Graduated line of round stones.", "Necklaces", "2450.00", "White Gold", "Diamond", []string{"16in"}},
	{"Bar Necklace", "Minimal horizontal bar, layers well.", "Necklaces", "79.00", "Silver", "", []string{"18in", "20in"}},
	{"Diamond Studs", "Four-prong studs with screw backs.", "Earrings", "599.00", "White Gold", "Diamond", []string{"0.25ct", "0.5ct"}},
	{"Hoop Earrings", "Lightweight hinged hoops.", "Earrings", "129.00", "Gold", "", []string{"20mm", "30mm"}},
	{"Emerald Drops", "Pear-shaped emeralds on short drops.", "Earrings", "749.00", "Gold", "Emerald", []string{"One Size"}},
	{"Cuban Link Bracelet", "Heavy curb links with box clasp.", "Bracelets", "459.00", "Gold", "", []string{"7in", "8in"}},
	{"Charm Bracelet", "Rolo chain ready for charms.", "Bracelets", "99.00", "Silver", "", []string{"6.5in", "7.5in"}},
	{"Bangle Set", "Three stacking bangles.", "Bracelets", "219.00", "Rose Gold", "", []string{"S", "M", "L"}},
}

func main() {
	var cfg seedConfig
	if err := pkgconfig.Load(&cfg); err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("catalog-seed", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, cfg.Timeout)
	defer cancelTimeout()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg seedConfig, log *slog.Logger) error {
	token, err := middleware.SignHS256(cfg.JWTSecret, middleware.Claims{
		UserID: "seed",
		Role:   middleware.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "seed",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(cfg.Timeout)),
		},
	})
	if err != nil {
		return fmt.Errorf("sign admin token: %w", err)
	}

	client := catalogclient.New(cfg.CatalogURL, token, httpclient.DefaultConfig())
	if err := client.Live(ctx); err != nil {
		return fmt.Errorf("catalog at %s is not reachable: %w", cfg.CatalogURL, err)
	}

	categoryIDs, err := seedCategories(ctx, client, log)
	if err != nil {
		return err
	}

	var created, skipped int
	results := make([]bool, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Concurrency, 1))
	for i, def := range products {
		g.Go(func() error {
			ok, err := seedProduct(gctx, client, def, categoryIDs[def.category], log)
			if err != nil {
				return fmt.Errorf("product %q: %w", def.title, err)
			}
			results[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, ok := range results {
		if ok {
			created++
		} else {
			skipped++
		}
	}
	log.Info("seed complete",
		slog.Int("categories", len(categoryIDs)),
		slog.Int("products_created", created),
		slog.Int("products_skipped", skipped),
	)
	return nil
}

// seedCategories creates the categories that are missing and returns the id
// of every category by name.
func seedCategories(ctx context.Context, client *catalogclient.Client, log *slog.Logger) (map[string]string, error) {
	existing, err := client.ListCategories(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	ids := make(map[string]string, len(categories))
	for _, c := range existing {
		ids[c.Name] = c.ID
	}

	for i, def := range categories {
		if _, ok := ids[def.name]; ok {
			continue
		}
		c, err := client.CreateCategory(ctx, def.name, i+1)
		if err != nil {
			return nil, fmt.Errorf("create category %q: %w", def.name, err)
		}
		ids[c.Name] = c.ID
		log.Info("category created", slog.String("name", c.Name), slog.String("id", c.ID))
	}
	return ids, nil
}

// seedProduct creates one ACTIVE product with a variant per size, a primary
// product image and one image per variant. It reports false when a product
// with the same SKUs already exists.
func seedProduct(ctx context.Context, client *catalogclient.Client, def productDef, categoryID string, log *slog.Logger) (bool, error) {
	tint := categoryColor(def.category)
	price := decimal.RequireFromString(def.price)
	skuBase := skuPrefix(def.title)

	in := &service.CreateProductInput{
		Title:       def.title,
		Description: def.description,
		Price:       price,
		Status:      domain.StatusActive,
		Tags:        nonEmpty(strings.ToLower(def.metal), strings.ToLower(def.stone)),
		Categories:  []string{categoryID},
	}

	var files []catalogclient.Upload
	front, err := placeholder(tint, 0)
	if err != nil {
		return false, err
	}
	files = append(files, catalogclient.Upload{Name: "front.png", ContentType: "image/png", Data: front})
	in.ImagesMeta = append(in.ImagesMeta, service.ImageMeta{AltText: strPtr(def.title), IsPrimary: true})

	for i, size := range def.sizes {
		sku := fmt.Sprintf("%s-%s", skuBase, strings.ToUpper(strings.ReplaceAll(size, ".", "")))
		in.Variants = append(in.Variants, service.VariantInput{
			SKU:       sku,
			MetalType: optional(def.metal),
			StoneType: optional(def.stone),
			Size:      strPtr(size),
			Price:     price.Add(decimal.NewFromInt(int64(i * 25))),
			Stock:     10 + i*5,
		})

		data, err := placeholder(tint, i+1)
		if err != nil {
			return false, err
		}
		files = append(files, catalogclient.Upload{Name: sku + ".png", ContentType: "image/png", Data: data})
		in.ImagesMeta = append(in.ImagesMeta, service.ImageMeta{VariantSKU: sku, AltText: strPtr(def.title + " " + size)})
	}

	p, err := client.CreateProduct(ctx, in, files)
	if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrAlreadyExists) {
		log.Info("product already seeded", slog.String("title", def.title))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log.Info("product created",
		slog.String("id", p.ID),
		slog.String("slug", p.Slug),
		slog.Int("variants", len(p.Variants)),
		slog.Int("images", len(p.Images)),
	)
	return true, nil
}

func categoryColor(name string) color.RGBA {
	for _, c := range categories {
		if c.name == name {
			return c.color
		}
	}
	return color.RGBA{R: 128, G: 128, B: 128, A: 255}
}

// placeholder renders a small PNG whose shade varies with n.
func placeholder(tint color.RGBA, n int) ([]byte, error) {
	const size = 64
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	shade := uint8(n * 24)
	for y := range size {
		for x := range size {
			c := tint
			if (x/8+y/8)%2 == 0 {
				c.R, c.G, c.B = c.R-min(c.R, shade), c.G-min(c.G, shade), c.B-min(c.B, shade)
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

// skuPrefix builds a stable prefix from the title initials plus a short hash
// so reruns hit the SKU uniqueness check instead of creating duplicates.
func skuPrefix(title string) string {
	var initials strings.Builder
	for _, w := range strings.Fields(title) {
		initials.WriteByte(strings.ToUpper(w)[0])
	}
	hash := uuid.NewSHA1(uuid.NameSpaceOID, []byte(title)).String()[:6]
	return initials.String() + "-" + strings.ToUpper(hash)
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strPtr(s string) *string { return &s }
