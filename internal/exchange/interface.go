package exchange

import (
	"context"
	"fmt"
	"time"

	"execgateway/internal/models"
)

// Gateway - операции исполнения на бирже.
// Ни один метод не возвращает error: результат всегда в ExecutionResult.
type Gateway interface {
	// Place отправляет новый ордер
	Place(ctx context.Context, req models.OrderRequest) ExecutionResult

	// Cancel отменяет ордер по биржевому id
	Cancel(ctx context.Context, exchangeOrderID string) ExecutionResult

	// Modify меняет цену и объем ордера
	Modify(ctx context.Context, exchangeOrderID string, price, amount float64) ExecutionResult

	// GetStatus получает текущее состояние ордера на бирже
	GetStatus(ctx context.Context, exchangeOrderID string) (models.Order, ExecutionResult)

	// GetOrderBook получает стакан фиксированной глубины
	GetOrderBook(ctx context.Context, symbol string) (models.OrderBook, ExecutionResult)
}

// ExecutionResult - единый результат вызова биржи.
// HTTPStatus == 0 означает транспортную ошибку (ответ не получен).
type ExecutionResult struct {
	Success         bool   `json:"success"`
	HTTPStatus      int    `json:"http_status"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ExchangeOrderID string `json:"exchange_order_id,omitempty"`
}

func failure(status int, format string, args ...interface{}) ExecutionResult {
	return ExecutionResult{HTTPStatus: status, ErrorMessage: fmt.Sprintf(format, args...)}
}

// LatencyRecorder принимает замеры латентности вызовов (persistence sink)
type LatencyRecorder interface {
	RecordLatency(operation string, latency time.Duration) bool
}

// ExchangeError представляет ошибку JSON-RPC от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Code + " " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Состояния ордера в ответах Deribit
const (
	VenueStateOpen        = "open"
	VenueStateFilled      = "filled"
	VenueStateRejected    = "rejected"
	VenueStateCancelled   = "cancelled"
	VenueStateUntriggered = "untriggered"
)

// MapVenueState переводит состояние биржи в состояние ордера.
// open с ненулевым исполнением считается PARTIAL.
func MapVenueState(state string, filled float64) (models.OrderState, error) {
	switch state {
	case VenueStateOpen:
		if filled > 0 {
			return models.StatePartial, nil
		}
		return models.StateOpen, nil
	case VenueStateFilled:
		return models.StateFilled, nil
	case VenueStateCancelled:
		return models.StateCanceled, nil
	case VenueStateRejected:
		return models.StateRejected, nil
	case VenueStateUntriggered:
		return models.StatePending, nil
	default:
		return 0, fmt.Errorf("unknown venue order state %q", state)
	}
}
