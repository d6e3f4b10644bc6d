package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samims/pricewatch/internal/model"
	"github.com/samims/pricewatch/pkg/tracing"
)

// NewSaramaConfig returns the producer settings used for price drop events.
func NewSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.ClientID = clientID
	return cfg
}

// KafkaNotifier publishes one PriceDropEvent per recipient for a downstream
// delivery worker. A nil Notify error means the event was queued.
type KafkaNotifier struct {
	asyncProducer sarama.AsyncProducer
	topic         string
	log           *slog.Logger
	tracer        *tracing.Tracer
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

func NewKafkaNotifier(asyncProducer sarama.AsyncProducer, topic string, log *slog.Logger) (*KafkaNotifier, error) {
	if asyncProducer == nil || log == nil {
		return nil, fmt.Errorf("kafka notifier: nil dependencies provided")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka notifier: topic must not be empty")
	}

	k := &KafkaNotifier{
		asyncProducer: asyncProducer,
		topic:         topic,
		log:           log.With("layer", "notifier", "component", "kafka"),
		tracer:        tracing.NewTracer("pricewatch-kafka"),
	}
	k.wg.Add(2)
	go k.handleSuccess()
	go k.handleErrors()
	return k, nil
}

// handleSuccess logs successful deliveries until the producer is closed
func (k *KafkaNotifier) handleSuccess() {
	defer k.wg.Done()
	for msg := range k.asyncProducer.Successes() {
		key, _ := msg.Key.Encode()
		k.log.Debug("Message delivered",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("key", string(key)))
	}
}

// handleErrors logs failed deliveries until the producer is closed
func (k *KafkaNotifier) handleErrors() {
	defer k.wg.Done()
	for err := range k.asyncProducer.Errors() {
		k.log.Error("Message delivery failed",
			slog.String("topic", err.Msg.Topic),
			slog.Any("error", err.Err))
	}
}

func (k *KafkaNotifier) Notify(ctx context.Context, subscriberID, message string) error {
	ctx, span := k.tracer.StartClientSpan(ctx, "KafkaPublish")
	defer span.End()

	event := model.PriceDropEvent{
		EventID:      uuid.NewString(),
		SubscriberID: subscriberID,
		Message:      message,
		ParseMode:    ParseModeHTML,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		k.tracer.RecordError(span, err)
		return fmt.Errorf("failed to marshal price drop event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     k.topic,
		Key:       sarama.StringEncoder(subscriberID),
		Value:     sarama.ByteEncoder(data),
		Timestamp: event.CreatedAt,
		Headers:   tracing.InjectTraceContext(ctx, nil),
	}

	select {
	case k.asyncProducer.Input() <- msg:
		k.tracer.AddPublishAttributes(span, k.topic)
		span.SetAttributes(
			attribute.String(tracing.AttrSubscriberID, subscriberID),
			attribute.String("event.id", event.EventID),
		)
		k.log.Debug("Price drop event queued",
			slog.String("event_id", event.EventID),
			slog.String("subscriber_id", subscriberID))
		return nil
	case <-ctx.Done():
		k.tracer.RecordError(span, ctx.Err())
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	}
}

// Close flushes buffered messages and waits for the drain goroutines.
func (k *KafkaNotifier) Close() error {
	k.closeOnce.Do(func() {
		k.log.Info("Closing Kafka producer...")
		k.asyncProducer.AsyncClose()
		k.wg.Wait()
		k.log.Info("Kafka producer closed")
	})
	return nil
}
