package service

import (
	"context"
	"sync"

	"execgateway/internal/exchange"
	"execgateway/internal/models"
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

	placed    []models.OrderRequest
	canceled  []string
	modified  []modifyCall
	statusFor []string
}

type modifyCall struct {
	ExchangeOrderID string
	Price           float64
	Amount          float64
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		placeResult:  exchange.ExecutionResult{Success: true, HTTPStatus: 200, ExchangeOrderID: "EX1"},
		cancelResult: exchange.ExecutionResult{Success: true, HTTPStatus: 200},
		modifyResult: exchange.ExecutionResult{Success: true, HTTPStatus: 200},
		statusResult: exchange.ExecutionResult{Success: true, HTTPStatus: 200},
		bookResult:   exchange.ExecutionResult{Success: true, HTTPStatus: 200},
	}
}

func (m *MockGateway) Place(_ context.Context, req models.OrderRequest) exchange.ExecutionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, req)
	return m.placeResult
}

func (m *MockGateway) Cancel(_ context.Context, exchangeOrderID string) exchange.ExecutionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, exchangeOrderID)
	return m.cancelResult
}

func (m *MockGateway) Modify(_ context.Context, exchangeOrderID string, price, amount float64) exchange.ExecutionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modified = append(m.modified, modifyCall{exchangeOrderID, price, amount})
	return m.modifyResult
}

func (m *MockGateway) GetStatus(_ context.Context, exchangeOrderID string) (models.Order, exchange.ExecutionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusFor = append(m.statusFor, exchangeOrderID)
	return m.statusOrder, m.statusResult
}

func (m *MockGateway) GetOrderBook(_ context.Context, symbol string) (models.OrderBook, exchange.ExecutionResult) {
	book := m.book
	book.Symbol = symbol
	return book, m.bookResult
}
