// Package repo — доступ к PostgreSQL через pgx.
//
// Структура:
//   - flow_repo.go      — flows (определения с шагами в JSONB)
//   - execution_repo.go — execution_logs и step_logs
//   - webhook_repo.go   — webhook-регистрации и журнал доставок
//   - action_repo.go    — каталог actions
//   - token_repo.go     — oauth_tokens
//   - schedule_repo.go  — расписания
//
// Репозитории возвращают доменные типы и сентинельные ошибки из
// errors.go; SQL наружу не протекает.
package repo
