package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akshay-ctas/server/internal/domain"
	pkgkafka "github.com/akshay-ctas/server/pkg/kafka"
	"github.com/akshay-ctas/server/pkg/logger"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func newTestProducer(w *recordingWriter) *Producer {
	log := slog.New(slog.DiscardHandler)
	return NewProducer(pkgkafka.NewProducerWithWriter(w, []string{"localhost:9092"}, log), log)
}

func sampleProduct() *domain.Product {
	published := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Product{
		ID:          "p-1",
		Title:       "Gold Ring",
		Slug:        "gold-ring",
		Price:       decimal.RequireFromString("99.50"),
		Status:      domain.StatusActive,
		Categories:  []string{"c1"},
		Variants:    []domain.Variant{{ID: "v1", SKU: "RING-1"}},
		Images:      []domain.Image{{ID: "i1"}, {ID: "i2"}},
		PublishedAt: &published,
		Version:     3,
	}
}

func decode(t *testing.T, msg kafka.Message) (*pkgkafka.Event, ProductData) {
	t.Helper()
	var ev pkgkafka.Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	var data ProductData
	require.NoError(t, ev.UnmarshalData(&data))
	return &ev, data
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "catalog.product.created", TopicProductCreated)
	assert.Equal(t, "catalog.product.updated", TopicProductUpdated)
	assert.Equal(t, "catalog.product.deleted", TopicProductDeleted)
}

func TestPublishProductCreated(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProducer(w)

	ctx := logger.WithCorrelationID(context.Background(), "req-42")
	require.NoError(t, p.PublishProductCreated(ctx, sampleProduct()))
	require.Len(t, w.msgs, 1)

	assert.Equal(t, TopicProductCreated, w.msgs[0].Topic)
	assert.Equal(t, "p-1", string(w.msgs[0].Key))

	ev, data := decode(t, w.msgs[0])
	assert.Equal(t, int64(3), ev.Version)
	assert.Equal(t, "req-42", ev.CorrelationID)
	assert.Equal(t, SourceCatalog, ev.Source)
	assert.Equal(t, "99.5", data.Price)
	assert.Equal(t, []string{"RING-1"}, data.SKUs)
	assert.Equal(t, 2, data.ImageCount)
	require.NotNil(t, data.PublishedAt)
	assert.Equal(t, "2025-03-01T10:00:00Z", *data.PublishedAt)
}

func TestPublishProductUpdated_CarriesChange(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.PublishProductUpdated(context.Background(), sampleProduct(), ChangeImagesAdded))
	require.Len(t, w.msgs, 1)

	_, data := decode(t, w.msgs[0])
	assert.Equal(t, ChangeImagesAdded, data.Change)
}

func TestPublishProductDeleted(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.PublishProductDeleted(context.Background(), sampleProduct()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, TopicProductDeleted, w.msgs[0].Topic)

	var ev pkgkafka.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	var data ProductDeletedData
	require.NoError(t, ev.UnmarshalData(&data))
	assert.Equal(t, "gold-ring", data.Slug)
}

func TestPublish_WriterError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := newTestProducer(w)

	err := p.PublishProductCreated(context.Background(), sampleProduct())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog.product.created")
}
