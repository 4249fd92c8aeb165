// Package executor содержит реализации выполнения шагов по типам.
//
// Runner — единая точка входа: по типу шага находит executor в
// реестре и возвращает StepResult. Логические ошибки выполнения
// (HTTP 4xx/5xx, падение sandbox, невалидная конфигурация)
// выражаются через StepResult.Error с кодом из таксономии, а не
// через Go error: движок различает "шаг упал" и "инфраструктура
// сломалась".
//
// Внешние сервисы (каталог actions, OAuth-токены, sandbox) — узкие
// интерфейсы, реализуемые в соседних пакетах.
package executor
