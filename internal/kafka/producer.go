package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-groupbuy/internal/models"
)

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer}
}

func (p *Producer) publish(event models.GroupEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(event.GroupID),
			Value: msgBytes,
		},
	)
}

func (p *Producer) PublishParticipantJoined(group models.GroupPurchase, userID string) error {
	return p.publish(models.GroupEvent{
		Type:         models.GroupEventJoined,
		GroupID:      group.GroupID,
		ProductID:    group.ProductID,
		ActorID:      userID,
		Participants: group.CurrentParticipants,
		Target:       group.TargetParticipants,
		OccurredAt:   time.Now(),
	})
}

func (p *Producer) PublishParticipantLeft(group models.GroupPurchase, userID string) error {
	return p.publish(models.GroupEvent{
		Type:         models.GroupEventLeft,
		GroupID:      group.GroupID,
		ProductID:    group.ProductID,
		ActorID:      userID,
		Participants: group.CurrentParticipants,
		Target:       group.TargetParticipants,
		OccurredAt:   time.Now(),
	})
}

func (p *Producer) PublishGroupCompleted(group models.GroupPurchase) error {
	return p.publish(models.GroupEvent{
		Type:         models.GroupEventCompleted,
		GroupID:      group.GroupID,
		ProductID:    group.ProductID,
		Participants: group.CurrentParticipants,
		Target:       group.TargetParticipants,
		OccurredAt:   time.Now(),
	})
}

func (p *Producer) PublishGroupClosed(group models.GroupPurchase) error {
	return p.publish(models.GroupEvent{
		Type:         models.GroupEventClosed,
		GroupID:      group.GroupID,
		ProductID:    group.ProductID,
		Participants: group.CurrentParticipants,
		Target:       group.TargetParticipants,
		OccurredAt:   time.Now(),
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
