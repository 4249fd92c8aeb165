package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Cascade/internal/engine"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeFlowExecute     MessageType = engine.EventNameFlowExecute
	MessageTypeWebhookDispatch MessageType = engine.EventNameWebhookDispatch
	MessageTypeFlowProgress    MessageType = "flow.progress"
)

// Publisher публикует сообщения в RabbitMQ.
//
// Реализует engine.EventBus (Send) и engine.ProgressPublisher
// (PublishProgress).
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// routes — соответствие имени события паре (exchange, routing key).
var routes = map[MessageType]struct {
	exchange   Exchange
	routingKey RoutingKey
}{
	MessageTypeFlowExecute:     {ExchangeFlows, RoutingKeyExecute},
	MessageTypeWebhookDispatch: {ExchangeWebhooks, RoutingKeyDispatch},
}

// Send публикует событие по имени. Имена совпадают с константами
// engine.EventName*; неизвестное имя — ошибка программиста.
func (p *Publisher) Send(ctx context.Context, eventName string, data any) error {
	route, ok := routes[MessageType(eventName)]
	if !ok {
		return fmt.Errorf("unknown event name: %s", eventName)
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageType(eventName),
		Payload:   data,
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, route.exchange, route.routingKey, msg)
}

// PublishProgress публикует промежуточное событие выполнения
// в fanout-обменник прогресса. Доставка best-effort.
func (p *Publisher) PublishProgress(ctx context.Context, event any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeFlowProgress,
		Payload:   event,
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, ExchangeProgress, "", msg)
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}
