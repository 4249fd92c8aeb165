// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - flow.execute     — запуск выполнения flow в durable-режиме
//   - webhook.dispatch — запрос на доставку webhook-события
//   - flow.progress    — промежуточные события выполнения
//
// Exchanges:
//   - cascade.flows    — команды движку
//   - cascade.webhooks — команды диспетчеру webhooks
//   - cascade.progress — fanout промежуточных событий
//   - cascade.dlq      — dead letter queue
package mq
