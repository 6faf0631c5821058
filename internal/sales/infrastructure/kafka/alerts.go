package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/lumina-commerce/internal/sales/domain"
	"github.com/dmehra2102/lumina-commerce/pkg/outbox"
	"github.com/dmehra2102/lumina-commerce/pkg/tracing"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Deduper is satisfied by idempotency.Store. A key is marked only after the
// alert it guards has been delivered.
type Deduper interface {
	Key(topic string, partition int, offset int64) string
	Processed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}

// Notifier delivers a reconciliation alert to whoever fixes stock by hand.
type Notifier interface {
	Notify(ctx context.Context, alert domain.StockReconciliationFailed) error
}

// AlertConsumer watches the sales event stream for sales whose stock
// decrement did not fully land and raises an operator alert for each.
type AlertConsumer struct {
	log      *slog.Logger
	reader   MessageReader
	dedupe   Deduper
	notifier Notifier
	tracer   trace.Tracer

	retryDelay time.Duration
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

func NewAlertConsumer(log *slog.Logger, reader MessageReader, dedupe Deduper, notifier Notifier) *AlertConsumer {
	return &AlertConsumer{
		log:      log,
		reader:   reader,
		dedupe:   dedupe,
		notifier: notifier,
		tracer:   otel.Tracer("alert-consumer"),

		retryDelay: time.Second,
	}
}

// Run consumes until ctx ends. Offsets are committed in order: an alert that
// cannot be delivered is retried in place and nothing after it is fetched.
func (c *AlertConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.process(ctx, msg); err != nil {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

// process retries handle until it succeeds or ctx ends.
func (c *AlertConsumer) process(ctx context.Context, msg kafka.Message) error {
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return nil
		}
		c.log.Error("alert not delivered, retrying", "offset", msg.Offset, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

// handle delivers one message. A nil error means its offset may be committed.
func (c *AlertConsumer) handle(ctx context.Context, msg kafka.Message) error {
	if headerValue(msg.Headers, outbox.HeaderEventType) != domain.EventStockReconciliationFailed {
		return nil
	}

	key := c.dedupe.Key(msg.Topic, msg.Partition, msg.Offset)
	done, err := c.dedupe.Processed(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if done {
		c.log.Info("duplicate message skipped", "key", key)
		return nil
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeStockReconciliationFailed")
	defer span.End()

	var ev domain.StockReconciliationFailed
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal failed, message dropped", "offset", msg.Offset, "err", err)
		return nil
	}
	if err := c.notifier.Notify(msgCtx, ev); err != nil {
		span.RecordError(err)
		return fmt.Errorf("notify sale %s: %w", ev.SaleID, err)
	}
	if err := c.dedupe.MarkProcessed(ctx, key); err != nil {
		c.log.Warn("alert delivered but not marked", "key", key, "err", err)
	}
	return nil
}

// LogNotifier writes alerts to the operator log.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, alert domain.StockReconciliationFailed) error {
	for _, l := range alert.Lines {
		n.Log.Error("stock needs manual reconciliation",
			"sale_id", alert.SaleID,
			"product_id", l.ProductID,
			"requested", l.Requested,
			"applied", l.Applied,
			"reason", l.Reason,
		)
	}
	return nil
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
