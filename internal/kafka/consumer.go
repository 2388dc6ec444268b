package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-payments/internal/config"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
)

// DeadLetterConsumer replays parked webhook events through the given
// handler. Events that fail again are re-published to the tail of the topic
// rather than blocking the partition.
type DeadLetterConsumer struct {
	reader   *kafka.Reader
	producer *Producer
	log      *logger.Logger
}

func NewDeadLetterConsumer(cfg config.KafkaConfig, producer *Producer, log *logger.Logger) *DeadLetterConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topics.DeadLetter,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &DeadLetterConsumer{reader: reader, producer: producer, log: log}
}

// Start consumes until the context is cancelled.
func (c *DeadLetterConsumer) Start(ctx context.Context, handler func(ctx context.Context, dl models.DeadLetter) error) {
	c.log.Info("KAFKA", "Dead-letter replay consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.log.Error("KAFKA", fmt.Sprintf("Error reading dead-letter message: %v", err))
			continue
		}

		var dl models.DeadLetter
		if err := json.Unmarshal(msg.Value, &dl); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Failed to unmarshal dead letter: %v", err))
			continue
		}

		if err := handler(ctx, dl); err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("Dead letter replay failed for event %s: %v", dl.EventID, err))
			dl.Reason = err.Error()
			if perr := c.producer.PublishDeadLetter(ctx, dl); perr != nil {
				c.log.Error("KAFKA", fmt.Sprintf("Failed to re-park dead letter %s: %v", dl.EventID, perr))
			}
			continue
		}
		c.log.Info("KAFKA", fmt.Sprintf("Dead letter replayed for event %s", dl.EventID))
	}
}

func (c *DeadLetterConsumer) Close() error {
	return c.reader.Close()
}
