// Package queue содержит работу с очередью запусков проверки банковской выписки.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ScrapeRequest описывает запрос на разовую проверку выписки по платежу.
type ScrapeRequest struct {
	PaymentID string `json:"payment_id"`
}

// ParseScrapeRequest разбирает тело сообщения и проверяет идентификатор платежа.
func ParseScrapeRequest(body []byte) (uuid.UUID, error) {
	var req ScrapeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return uuid.Nil, fmt.Errorf("decode scrape request: %w", err)
	}
	if req.PaymentID == "" {
		return uuid.Nil, errors.New("invalid scrape request: payment_id field is required")
	}
	id, err := uuid.Parse(req.PaymentID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid scrape request: %w", err)
	}
	return id, nil
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

// Publisher отправляет запросы на проверку в очередь.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewPublisher подключается к RabbitMQ и объявляет очередь.
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// PublishScrape ставит в очередь проверку выписки для платежа.
func (p *Publisher) PublishScrape(ctx context.Context, paymentID uuid.UUID) error {
	body, err := json.Marshal(ScrapeRequest{PaymentID: paymentID.String()})
	if err != nil {
		return fmt.Errorf("marshal scrape request: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    paymentID.String(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish scrape request: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	p.ch.Close()
	return p.conn.Close()
}

// Consumer читает запросы на проверку по одному сообщению за раз.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	Msg  <-chan amqp.Delivery
}

// NewConsumer подключается к RabbitMQ и начинает чтение очереди без автоподтверждения.
func NewConsumer(url, queue string) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	// Браузерные проверки строго последовательны.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	return &Consumer{conn: conn, ch: ch, Msg: msgs}, nil
}

// Close закрывает канал и соединение.
func (c *Consumer) Close() error {
	c.ch.Close()
	return c.conn.Close()
}
