package handlers

import (
	"context"
	"sync"

	"execgateway/internal/exchange"
	"execgateway/internal/models"
	"execgateway/internal/orders"
	"execgateway/internal/service"
)

// ============ Mock Gateway ============

type MockGateway struct {
	mu sync.Mutex

	placeResult  exchange.ExecutionResult
	cancelResult exchange.ExecutionResult
	modifyResult exchange.ExecutionResult
	statusResult exchange.ExecutionResult
	statusOrder  models.Order
	bookResult   exchange.ExecutionResult
	book         models.OrderBook

	calls int
}

func NewMockGateway() *MockGateway {
	ok := exchange.ExecutionResult{Success: true, HTTPStatus: 200}
	place := ok
	place.ExchangeOrderID = "EX1"
	return &MockGateway{
		placeResult:  place,
		cancelResult: ok,
		modifyResult: ok,
		statusResult: ok,
		bookResult:   ok,
	}
}

func (m *MockGateway) count() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func (m *MockGateway) Place(context.Context, models.OrderRequest) exchange.ExecutionResult {
	m.count()
	return m.placeResult
}

func (m *MockGateway) Cancel(context.Context, string) exchange.ExecutionResult {
	m.count()
	return m.cancelResult
}

func (m *MockGateway) Modify(context.Context, string, float64, float64) exchange.ExecutionResult {
	m.count()
	return m.modifyResult
}

func (m *MockGateway) GetStatus(context.Context, string) (models.Order, exchange.ExecutionResult) {
	m.count()
	return m.statusOrder, m.statusResult
}

func (m *MockGateway) GetOrderBook(_ context.Context, symbol string) (models.OrderBook, exchange.ExecutionResult) {
	m.count()
	book := m.book
	book.Symbol = symbol
	return book, m.bookResult
}

func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// newTestHandler собирает handler поверх настоящего хранилища и mock шлюза
func newTestHandler() (*OrderHandler, *orders.Store, *MockGateway) {
	store := orders.NewStore(nil, nil)
	gw := NewMockGateway()
	return NewOrderHandler(service.NewOrderService(store, gw, nil)), store, gw
}
