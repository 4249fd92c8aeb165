// Package oauth — выдача access-токенов для шагов oauth_api_call.
//
// Пакет не выполняет OAuth-авторизацию: токены кладёт в хранилище
// внешний сервис подключений. Здесь только выбор действующего токена
// по инструменту и организации.
package oauth
