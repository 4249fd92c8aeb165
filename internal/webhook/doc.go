// Package webhook содержит подсистему доставки событий жизненного
// цикла на зарегистрированные организациями endpoints.
//
// Signer отвечает за HMAC-подпись payload'а, генерацию заголовков
// доставки и проверку входящих подписей с защитой от replay.
// Dispatcher разворачивает один dispatch-запрос в доставки по всем
// подписанным webhook'ам организации и фиксирует терминальный исход
// каждой доставки в append-only журнале.
//
// Падения доставки полностью изолированы от статуса запуска flow.
package webhook
