package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-payments/internal/config"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
)

// Producer publishes payment lifecycle events and dead letters. One writer
// is shared across topics; the topic is set per message.
type Producer struct {
	writer *kafka.Writer
	topics config.TopicConfig
	log    *logger.Logger
}

func NewProducer(cfg config.KafkaConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{writer: writer, topics: cfg.Topics, log: log}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.log.Info("KAFKA", fmt.Sprintf("Published to %s key=%s", topic, key))
	return nil
}

// PublishPaymentEvent streams a terminal payment state change. Best effort;
// callers log and continue on failure.
func (p *Producer) PublishPaymentEvent(ctx context.Context, payment *models.Payment) error {
	topic := p.topics.PaymentFailed
	eventType := "payment.failed"
	if payment.Status == models.StatusCompleted {
		topic = p.topics.PaymentCompleted
		eventType = "payment.completed"
	}

	event := models.PaymentEvent{
		Type:      eventType,
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Payment:   payment,
		Timestamp: time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, payment.ID, value)
}

// PublishDeadLetter parks an authenticated webhook event that could not be
// processed, so the replay consumer can retry it instead of dropping it.
func (p *Producer) PublishDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	dl.Timestamp = time.Now().UTC()
	value, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	key := dl.EventID
	if key == "" {
		key = string(dl.Gateway)
	}
	return p.Publish(ctx, p.topics.DeadLetter, key, value)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
