package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"execgateway/internal/api/handlers"
	"execgateway/internal/api/middleware"
	"execgateway/internal/service"
	"execgateway/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	OrderService service.OrderServiceInterface
	Hub          *websocket.Hub // nil = без /ws/orders

	// TokenHash - bcrypt хеш API токена; пусто = без аутентификации
	TokenHash      string
	AllowedOrigins []string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (Bearer токен, если задан TokenHash)
//
//	├── /orders
//	│   ├── GET / - список ордеров (?active, ?symbol)
//	│   ├── POST / - разместить ордер
//	│   ├── GET /{id} - ордер по client id или exchange id
//	│   ├── PATCH /{id} - изменить цену/объем
//	│   ├── POST /{id}/cancel - отменить
//	│   └── POST /{id}/refresh - синхронизировать с биржей
//	└── /orderbook/{symbol} - GET стакан
//
// /ws/orders - WebSocket поток изменений ордеров (тот же токен, можно ?token=)
// /metrics - Prometheus
// /health - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. CORS (снаружи роутера, чтобы preflight OPTIONS не упирался в 405)
// 2. Recovery
// 3. Logging
// 4. BearerAuth (только /api/v1 и /ws)
func SetupRoutes(deps *Dependencies) http.Handler {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)

	auth := middleware.BearerAuth(deps.TokenHash)

	orderHandler := handlers.NewOrderHandler(deps.OrderService)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	api.HandleFunc("/orders", orderHandler.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", orderHandler.PlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", orderHandler.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", orderHandler.ModifyOrder).Methods(http.MethodPatch)
	api.HandleFunc("/orders/{id}/cancel", orderHandler.CancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/refresh", orderHandler.RefreshOrder).Methods(http.MethodPost)
	api.HandleFunc("/orderbook/{symbol}", orderHandler.GetOrderBook).Methods(http.MethodGet)

	// WebSocket route
	if deps.Hub != nil {
		router.Handle("/ws/orders", auth(http.HandlerFunc(deps.Hub.ServeWS))).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return middleware.CORS(deps.AllowedOrigins)(router)
}
