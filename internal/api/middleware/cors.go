package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// defaultOrigins используются, если ALLOWED_ORIGINS не задан
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:8080",
	"http://127.0.0.1:8080",
	"http://localhost:5173", // Vite dev server
	"http://127.0.0.1:5173",
}

// CORS - middleware для настройки Cross-Origin Resource Sharing
//
// Разрешенные origins берутся из конфигурации (ALLOWED_ORIGINS).
// Для неразрешенных origins заголовки не выставляются - браузер заблокирует ответ.
// Запросы без Origin (curl, CLI) проходят без изменений.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           86400, // 24 часа кеширования preflight
	})
	return c.Handler
}
