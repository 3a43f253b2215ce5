// Package events публикует события о зачислениях в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/gophermart-payments/internal/model"
)

// SettledEvent описывает сообщение о завершённом платеже.
type SettledEvent struct {
	PaymentID   string    `json:"payment_id"`
	UserID      int64     `json:"user_id"`
	Points      int64     `json:"points"`
	Channel     string    `json:"channel"`
	ExternalRef string    `json:"external_ref"`
	SettledAt   time.Time `json:"settled_at"`
}

// NewSettledEvent строит сообщение из результата зачисления.
func NewSettledEvent(s model.Settled) SettledEvent {
	return SettledEvent{
		PaymentID:   s.PaymentID.String(),
		UserID:      s.UserID,
		Points:      s.Points,
		Channel:     string(s.Channel),
		ExternalRef: s.ExternalRef,
		SettledAt:   s.SettledAt.UTC(),
	}
}

// KafkaPublisher пишет события в топик Kafka.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher создаёт писателя в указанный топик.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchSize:              1,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           5 * time.Second,
		},
	}
}

// PublishSettled отправляет событие о зачислении. Ключом сообщения служит идентификатор платежа.
func (p *KafkaPublisher) PublishSettled(ctx context.Context, s model.Settled) error {
	body, err := json.Marshal(NewSettledEvent(s))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(s.PaymentID.String()),
		Value: body,
		Time:  s.SettledAt,
	})
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close закрывает писателя.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
