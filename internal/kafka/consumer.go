package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/models"
)

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log}
}

// Start consumes group events until the context ends. Malformed messages
// are logged and skipped.
func (c *Consumer) Start(ctx context.Context, handler func(context.Context, models.GroupEvent)) {
	c.logger.LogKafka("START", c.reader.Config().Topic, "consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("error reading message: %v", err))
			continue
		}

		var event models.GroupEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("failed to unmarshal group event: %v", err))
			continue
		}

		c.logger.LogKafka("RECEIVE", c.reader.Config().Topic,
			fmt.Sprintf("%s for group %s", event.Type, event.GroupID))
		handler(ctx, event)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
