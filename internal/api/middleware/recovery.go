package middleware

import (
	"net/http"
	"runtime/debug"

	jsoniter "github.com/json-iterator/go"

	"execgateway/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Логирует панику со stack trace и возвращает 500 в формате ErrorResponse.
// Текст паники клиенту не отдается.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.Error("panic in http handler",
					utils.Any("panic", err),
					utils.Method(r.Method),
					utils.String("path", r.URL.Path),
					utils.RequestID(RequestIDFromContext(r.Context())),
					utils.String("stack", string(debug.Stack())),
				)
				writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// writeJSONError пишет ответ в формате handlers.ErrorResponse
func writeJSONError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  errCode,
	})
}
