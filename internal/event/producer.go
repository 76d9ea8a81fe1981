package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akshay-ctas/server/internal/domain"
	pkgkafka "github.com/akshay-ctas/server/pkg/kafka"
	"github.com/akshay-ctas/server/pkg/logger"
)

// Aggregate type and source identifiers.
const (
	AggregateTypeProduct = "product"
	SourceCatalog        = "catalog-service"
)

// Kafka topics for product events.
var (
	TopicProductCreated = pkgkafka.Topic(AggregateTypeProduct, "created")
	TopicProductUpdated = pkgkafka.Topic(AggregateTypeProduct, "updated")
	TopicProductDeleted = pkgkafka.Topic(AggregateTypeProduct, "deleted")
)

// Change names what an update touched.
type Change string

const (
	ChangeDetails       Change = "details"
	ChangeVariantAdded  Change = "variant.added"
	ChangeVariantEdited Change = "variant.edited"
	ChangeVariantRemove Change = "variant.removed"
	ChangeImagesAdded   Change = "images.added"
	ChangeImageRemoved  Change = "image.removed"
	ChangePrimaryImage  Change = "image.primary"
)

// ProductData is the payload of product.created and product.updated.
type ProductData struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Slug        string   `json:"slug"`
	Status      string   `json:"status"`
	Price       string   `json:"price"`
	Categories  []string `json:"categories"`
	SKUs        []string `json:"skus"`
	ImageCount  int      `json:"image_count"`
	Change      Change   `json:"change,omitempty"`
	PublishedAt *string  `json:"published_at,omitempty"`
}

// ProductDeletedData is the payload of product.deleted.
type ProductDeletedData struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// Producer publishes product domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the catalog.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func productData(p *domain.Product, change Change) ProductData {
	d := ProductData{
		ID:         p.ID,
		Title:      p.Title,
		Slug:       p.Slug,
		Status:     string(p.Status),
		Price:      p.Price.String(),
		Categories: p.Categories,
		SKUs:       p.SKUs(),
		ImageCount: len(p.Images),
		Change:     change,
	}
	if p.PublishedAt != nil {
		s := p.PublishedAt.UTC().Format(time.RFC3339)
		d.PublishedAt = &s
	}
	return d
}

// PublishProductCreated publishes a product.created event.
func (p *Producer) PublishProductCreated(ctx context.Context, product *domain.Product) error {
	return p.publish(ctx, TopicProductCreated, product.ID, product.Version, productData(product, ""))
}

// PublishProductUpdated publishes a product.updated event naming the change.
func (p *Producer) PublishProductUpdated(ctx context.Context, product *domain.Product, change Change) error {
	return p.publish(ctx, TopicProductUpdated, product.ID, product.Version, productData(product, change))
}

// PublishProductDeleted publishes a product.deleted event.
func (p *Producer) PublishProductDeleted(ctx context.Context, product *domain.Product) error {
	data := ProductDeletedData{ID: product.ID, Slug: product.Slug}
	return p.publish(ctx, TopicProductDeleted, product.ID, product.Version, data)
}

func (p *Producer) publish(ctx context.Context, topic, id string, version int64, data any) error {
	event, err := pkgkafka.NewEvent(topic, id, AggregateTypeProduct, SourceCatalog, version, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		event.WithCorrelationID(cid)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published product event",
		slog.String("topic", topic),
		slog.String("product_id", id),
		slog.Int64("version", version),
	)

	return nil
}
