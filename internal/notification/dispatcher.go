package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/core/events"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(cfg internal.NotificationConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// KafkaDispatcher forwards order events to the notification topic, keyed by order id so all
// messages of one order land on the same partition.
type KafkaDispatcher struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaDispatcher(writer MessageWriter, logger *slog.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: writer,
		logger: logger,
	}
}

func (d *KafkaDispatcher) HandleOrderCreated(ctx context.Context, event events.Event) error {
	orderEvent, ok := event.(*events.OrderCreatedEvent)
	if !ok {
		return fmt.Errorf("expected OrderCreatedEvent, got %T", event)
	}

	value, err := json.Marshal(orderEvent)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(orderEvent.OrderID),
		Value: value,
		Time:  orderEvent.OccurredAt(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(orderEvent.EventType())},
			{Key: "event_id", Value: []byte(orderEvent.EventID())},
		},
	}

	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		d.logger.Error("failed to dispatch order notification",
			"error", err,
			"order_id", orderEvent.OrderID,
			"event_id", orderEvent.EventID())
		return fmt.Errorf("write order notification: %w", err)
	}

	d.logger.Info("order notification dispatched",
		"order_id", orderEvent.OrderID,
		"reference", orderEvent.Reference,
		"event_id", orderEvent.EventID())
	return nil
}

func (d *KafkaDispatcher) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeOrderCreated, d.HandleOrderCreated)

	d.logger.Info("notification event handlers registered",
		"handlers", []string{events.EventTypeOrderCreated})
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

// BrokerProbe dials the first reachable broker; used as a health check.
func BrokerProbe(brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var lastErr error
		for _, broker := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", broker)
			if err != nil {
				lastErr = err
				continue
			}
			return conn.Close()
		}
		if lastErr == nil {
			lastErr = errors.New("no kafka broker configured")
		}
		return lastErr
	}
}
