package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeFlows    Exchange = "cascade.flows"
	ExchangeWebhooks Exchange = "cascade.webhooks"
	ExchangeProgress Exchange = "cascade.progress"
	ExchangeDLQ      Exchange = "cascade.dlq"
)

// Queues — имена очередей.
const (
	QueueFlowsExecute     Queue = "flows.execute"
	QueueWebhooksDispatch Queue = "webhooks.dispatch"
	QueueDLQEvents        Queue = "dlq.events"
)

// Routing keys.
const (
	RoutingKeyExecute   RoutingKey = "execute"
	RoutingKeyDispatch  RoutingKey = "dispatch"
	RoutingKeyDLQEvents RoutingKey = "events"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeFlows, "direct"},
		{ExchangeWebhooks, "direct"},
		// progress — fanout: подписчики (websocket-шлюзы, мониторинг)
		// заводят собственные временные очереди.
		{ExchangeProgress, "fanout"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQEvents),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// flows.execute — с DLQ (битые команды не должны крутиться вечно)
		{QueueFlowsExecute, dlqArgs},

		// webhooks.dispatch — с DLQ
		{QueueWebhooksDispatch, dlqArgs},

		// dlq.events — сама DLQ очередь
		{QueueDLQEvents, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueFlowsExecute, RoutingKeyExecute, ExchangeFlows},
		{QueueWebhooksDispatch, RoutingKeyDispatch, ExchangeWebhooks},
		{QueueDLQEvents, RoutingKeyDLQEvents, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Cascade RabbitMQ Topology:

    cascade.flows (direct)
    └── flows.execute [routing: execute]
            Consumer: Engine
            DLQ: dlq.events

    cascade.webhooks (direct)
    └── webhooks.dispatch [routing: dispatch]
            Consumer: Dispatcher
            DLQ: dlq.events

    cascade.progress (fanout)
            Transient subscriber queues

    cascade.dlq (direct)
    └── dlq.events [routing: events]
            Manual processing
  `
}
