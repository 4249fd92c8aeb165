// Package sandbox — HTTP-клиент удалённого сервиса выполнения кода.
//
// Реализует executor.SandboxRuntime: синхронный запуск, запуск
// async-сессии и опрос её результата. Сам сервис живёт отдельным
// процессом; движок общается с ним только по HTTP.
package sandbox
