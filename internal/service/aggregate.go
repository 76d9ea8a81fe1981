package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/akshay-ctas/server/internal/domain"
	"github.com/akshay-ctas/server/internal/event"
	"github.com/akshay-ctas/server/internal/repository"
	"github.com/akshay-ctas/server/internal/storage"
)

// maxSaveAttempts bounds load-mutate-save retries on version conflicts.
const maxSaveAttempts = 3

// errUnchanged lets a mutation report that the aggregate needs no write.
var errUnchanged = errors.New("aggregate unchanged")

var (
	saveConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_product_save_conflicts_total",
		Help: "Product saves rejected because the stored version had moved on",
	})

	orphanedBlobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_orphaned_blobs_total",
		Help: "Blobs possibly left in storage by a failed delete",
	})
)

// EventPublisher emits product domain events.
type EventPublisher interface {
	PublishProductCreated(ctx context.Context, p *domain.Product) error
	PublishProductUpdated(ctx context.Context, p *domain.Product, change event.Change) error
	PublishProductDeleted(ctx context.Context, p *domain.Product) error
}

// Deps bundles the collaborators shared by ProductService and
// VariantImageCoordinator. Cache and Events may be nil.
type Deps struct {
	Products   repository.ProductRepository
	Categories repository.CategoryRepository
	Cache      repository.ProductCache
	Blobs      storage.Blob
	Events     EventPublisher
	Logger     *slog.Logger
}

// aggregates performs whole-aggregate writes with optimistic retries and the
// side effects that follow every successful write.
type aggregates struct {
	Deps
	now func() time.Time
}

func newAggregates(d Deps) *aggregates {
	return &aggregates{Deps: d, now: func() time.Time { return time.Now().UTC() }}
}

// mutate loads product id, applies fn and saves the result, starting over
// from a fresh load when another writer saved first. fn must be safe to run
// more than once.
func (a *aggregates) mutate(ctx context.Context, id string, change event.Change, fn func(ctx context.Context, p *domain.Product) error) (*domain.Product, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		p, err := a.Products.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load product: %w", err)
		}
		previousSlug := p.Slug

		if err := fn(ctx, p); err != nil {
			if errors.Is(err, errUnchanged) {
				return p, nil
			}
			return nil, err
		}
		p.Touch(a.now())

		err = a.Products.Save(ctx, p)
		if err == nil {
			a.afterWrite(ctx, p, change, previousSlug)
			return p, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("save product: %w", err)
		}

		saveConflicts.Inc()
		lastErr = err
		a.Logger.WarnContext(ctx, "product version conflict, retrying",
			slog.String("product_id", id),
			slog.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("save product after %d attempts: %w", maxSaveAttempts, lastErr)
}

func (a *aggregates) afterWrite(ctx context.Context, p *domain.Product, change event.Change, previousSlug string) {
	a.invalidate(ctx, p.ID, previousSlug, p.Slug)

	if a.Events == nil {
		return
	}
	if err := a.Events.PublishProductUpdated(ctx, p, change); err != nil {
		a.Logger.ErrorContext(ctx, "failed to publish product.updated event",
			slog.String("product_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (a *aggregates) invalidate(ctx context.Context, id string, slugs ...string) {
	if a.Cache == nil {
		return
	}
	if err := a.Cache.Invalidate(ctx, id, slugs...); err != nil {
		a.Logger.WarnContext(ctx, "failed to invalidate product cache",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// discardBlobs deletes urls after the aggregate no longer references them.
// Failures leave orphans, which are logged and counted.
func (a *aggregates) discardBlobs(ctx context.Context, productID string, urls []string) {
	if len(urls) == 0 {
		return
	}
	if err := a.Blobs.DeleteMany(ctx, urls); err != nil {
		orphanedBlobs.Add(float64(len(urls)))
		a.Logger.WarnContext(ctx, "orphaned blobs after delete failure",
			slog.String("product_id", productID),
			slog.Any("urls", urls),
			slog.String("error", err.Error()),
		)
	}
}

// uploadAll uploads files and returns their URLs in order.
func (a *aggregates) uploadAll(ctx context.Context, files []storage.File) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	urls, err := a.Blobs.UploadMany(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("upload images: %w", err)
	}
	return urls, nil
}
