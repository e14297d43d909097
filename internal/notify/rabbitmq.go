package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

const (
	ordersExchange = "restaurant_orders"
	publishTimeout = 5 * time.Second
)

// RabbitSink публикует уведомления в topic-обменник с ключом маршрутизации
// "restaurant.<id>.new_order".
type RabbitSink struct {
	url string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitSink подключается к брокеру и объявляет обменник уведомлений.
func NewRabbitSink(url string) (*RabbitSink, error) {
	s := &RabbitSink{url: url}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RabbitSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		ordersExchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", ordersExchange, err)
	}

	s.conn = conn
	s.channel = ch
	return nil
}

func (s *RabbitSink) Notify(ctx context.Context, restaurantID string, summary model.OrderSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() {
		s.close()
		if err := s.connect(); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = s.channel.PublishWithContext(
		ctx,
		ordersExchange,
		routingKey(restaurantID),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    summary.OrderID,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение с брокером.
func (s *RabbitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}

func (s *RabbitSink) close() error {
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func routingKey(restaurantID string) string {
	return "restaurant." + restaurantID + ".new_order"
}
