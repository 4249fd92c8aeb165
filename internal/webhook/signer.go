package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Заголовки доставки webhook.
const (
	HeaderEvent     = "x-webhook-event"
	HeaderTimestamp = "x-webhook-timestamp"
	HeaderDelivery  = "x-webhook-delivery"
	HeaderSignature = "x-webhook-signature"
)

// ReplayWindow — максимальный допустимый разбег между временем
// подписи и временем проверки.
const ReplayWindow = 5 * time.Minute

// Ошибки проверки входящей подписи.
var (
	// ErrMissingSignature — запрос без подписи или timestamp.
	ErrMissingSignature = errors.New("signature or timestamp header missing")

	// ErrReplayDetected — timestamp вне допустимого окна.
	ErrReplayDetected = errors.New("timestamp outside replay window")

	// ErrSignatureMismatch — подпись не совпала.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// GenerateDeliveryID возвращает уникальный идентификатор доставки
// в формате whd_<epoch-ms>_<16 hex>.
func GenerateDeliveryID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand на практике не падает; нулевой суффикс
		// оставит идентификатор валидным по формату.
		buf = make([]byte, 8)
	}
	return fmt.Sprintf("whd_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// Sign вычисляет подпись payload'а с меткой времени.
//
// Подписывается canonical JSON объекта {timestamp, ...payload}:
// ключи сериализуются в отсортированном порядке, поэтому подпись
// детерминирована. Формат: "sha256=" + hex(HMAC-SHA256).
func Sign(secret string, timestamp int64, payload map[string]any) (string, error) {
	signed := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		signed[k] = v
	}
	signed["timestamp"] = timestamp

	canonical, err := json.Marshal(signed)
	if err != nil {
		return "", fmt.Errorf("marshal signed payload: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// SignedPayload возвращает ту часть доставленного тела, которая
// покрыта подписью. Dispatcher подписывает только поле data
// конверта, поэтому у пересланного конверта извлекается data;
// любое другое тело проверяется как есть.
func SignedPayload(body map[string]any) map[string]any {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return body
	}
	if _, isEnvelope := body["eventType"]; !isEnvelope {
		return body
	}
	return data
}

// Verify проверяет входящую подпись относительно текущего времени.
func Verify(secret string, payload map[string]any, signature string, timestamp int64) error {
	return VerifyAt(secret, payload, signature, timestamp, time.Now())
}

// VerifyAt проверяет подпись относительно заданного момента времени.
//
// Требует и подпись, и timestamp; отклоняет запросы с timestamp
// старше (или из будущего дальше) ReplayWindow; сравнение подписи
// устойчиво к timing-атакам.
func VerifyAt(secret string, payload map[string]any, signature string, timestamp int64, now time.Time) error {
	if signature == "" || timestamp == 0 {
		return ErrMissingSignature
	}

	drift := now.UnixMilli() - timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > ReplayWindow.Milliseconds() {
		return fmt.Errorf("%w: drift %dms", ErrReplayDetected, drift)
	}

	expected, err := Sign(secret, timestamp, payload)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}
