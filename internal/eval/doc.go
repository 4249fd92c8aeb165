// Package eval — интерпретатор JavaScript-выражений на goja.
//
// Используется гейтом условий (executeIf) и, опционально, локальным
// fallback'ом transform-шагов. На каждый вызов создаётся свежая VM:
// выражения не видят состояние друг друга.
package eval
