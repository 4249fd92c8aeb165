// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (репозитории, движки, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, recovery, org isolation)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - flow_handler.go      — обработчики для /flows
//   - execution_handler.go — обработчики для /executions
//   - webhook_handler.go   — обработчики для /webhooks
//   - schedule_handler.go  — обработчики для /schedules
//
// Все маршруты требуют заголовок X-Org-ID: данные организаций
// полностью изолированы.
package api
