package service

import (
	"context"

	"execgateway/internal/exchange"
	"execgateway/internal/models"
	"execgateway/internal/orders"
)

// OrderStore определяет интерфейс хранилища ордеров (orders.Store)
type OrderStore interface {
	Create(req models.OrderRequest) (string, error)
	Update(id string, p orders.UpdateParams) bool
	Get(id string) (models.Order, bool)
	GetByExchangeID(exchangeID string) (models.Order, bool)
	ListActive() []models.Order
	ListAll() []models.Order
	MarkForCancel(id string) bool
}

// OrderServiceInterface определяет интерфейс для OrderService (используется API и CLI)
type OrderServiceInterface interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.Order, exchange.ExecutionResult, error)
	CancelOrder(ctx context.Context, id string) (models.Order, exchange.ExecutionResult, error)
	ModifyOrder(ctx context.Context, id string, p ModifyParams) (models.Order, exchange.ExecutionResult, error)
	RefreshStatus(ctx context.Context, id string) (models.Order, exchange.ExecutionResult, error)
	GetOrderBook(ctx context.Context, symbol string) (models.OrderBook, exchange.ExecutionResult, error)
	GetOrder(id string) (models.Order, error)
	ListOrders(f ListFilter) []models.Order
}

var (
	_ OrderStore            = (*orders.Store)(nil)
	_ exchange.Gateway      = (*exchange.DeribitGateway)(nil)
	_ OrderServiceInterface = (*OrderService)(nil)
)
