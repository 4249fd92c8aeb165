// Package engine содержит движок выполнения flows.
//
// Включает:
//   - template.go  — подстановка {{...}} плейсхолдеров в конфигурацию шагов
//   - condition.go — executeIf: пропускать шаг или выполнять
//   - parser.go    — парсинг и валидация списка шагов
//   - engine.go    — direct режим: последовательное выполнение в процессе
//   - durable.go   — durable режим: идемпотентные единицы работы поверх
//     внешней очереди с at-least-once доставкой
//
// Движок не знает, какая подсистема его вызывает: все внешние
// зависимости (хранилища, шина событий, evaluator условий) — узкие
// интерфейсы из ports.go. Гарантии повторного вызова обеспечивает
// адаптер подложки, а не логика шагов.
package engine
