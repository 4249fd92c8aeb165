// Package throttle содержит политику ограничения шагов по типу:
// лимиты конкуррентности, rate limit и план повторных попыток.
// Политику потребляет durable-подсистема; direct режим использует
// только явную retryPolicy шага.
package throttle
