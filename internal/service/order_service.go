package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"execgateway/internal/exchange"
	"execgateway/internal/models"
	"execgateway/internal/orders"
	"execgateway/internal/telemetry"
	"execgateway/pkg/utils"
)

// Ошибки сервиса ордеров
var (
	ErrOrderNotFound  = orders.ErrOrderNotFound
	ErrDuplicateID    = orders.ErrDuplicateID
	ErrInvalidRequest = models.ErrInvalidRequest
	ErrNoExchangeID   = errors.New("order has no exchange order id")
	ErrNotCancelable  = errors.New("order is not cancelable")
	ErrOrderClosed    = errors.New("order is in a terminal state")
)

const componentName = "OrderService"

// ModifyParams - новые цена и объем; 0 означает "оставить текущее"
type ModifyParams struct {
	Price  float64
	Amount float64
}

// ListFilter - фильтр списка ордеров
type ListFilter struct {
	ActiveOnly bool
	Symbol     string
}

// OrderService связывает хранилище ордеров и шлюз исполнения.
//
// Отвечает за:
// - Создание ордера и отправку на биржу
// - Отмену и изменение по биржевому id
// - Синхронизацию состояния с биржей
//
// Ошибки валидации возвращаются как error; результат обращения к бирже
// возвращается как exchange.ExecutionResult. Неуспешный вызов биржи
// не откатывает ордер: при размещении он переходит в REJECTED,
// при отмене и изменении остается в прежнем состоянии.
type OrderService struct {
	store     OrderStore
	gateway   exchange.Gateway
	telemetry telemetry.Emitter
}

// NewOrderService создает новый экземпляр OrderService.
func NewOrderService(store OrderStore, gateway exchange.Gateway, emitter telemetry.Emitter) *OrderService {
	if emitter == nil {
		emitter = telemetry.Nop{}
	}
	return &OrderService{
		store:     store,
		gateway:   gateway,
		telemetry: emitter,
	}
}

// PlaceOrder создает ордер и отправляет его на биржу.
//
// Возвращает:
//   - models.Order: итоговый снимок (OPEN или REJECTED)
//   - exchange.ExecutionResult: результат вызова биржи
//   - error: ErrInvalidRequest или ErrDuplicateID; ордер в этом случае не создается
func (s *OrderService) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.Order, exchange.ExecutionResult, error) {
	req.Symbol = strings.TrimSpace(req.Symbol)
	req.ClientOrderID = strings.TrimSpace(req.ClientOrderID)
	if err := req.Validate(); err != nil {
		return models.Order{}, exchange.ExecutionResult{}, err
	}

	id, err := s.store.Create(req)
	if err != nil {
		return models.Order{}, exchange.ExecutionResult{}, err
	}
	req.ClientOrderID = id

	res := s.gateway.Place(ctx, req)
	if res.Success {
		s.store.Update(id, orders.UpdateParams{
			State:           models.StateOpen,
			ExchangeOrderID: res.ExchangeOrderID,
		})
		utils.L().WithSymbol(req.Symbol).Info("order placed",
			utils.ClientOrderID(id),
			utils.ExchangeOrderID(res.ExchangeOrderID),
			utils.Side(req.Side.String()),
			utils.Price(req.Price),
			utils.Amount(req.Amount))
	} else {
		s.store.Update(id, orders.UpdateParams{
			State:        models.StateRejected,
			ErrorMessage: res.ErrorMessage,
		})
		utils.Warn("order rejected",
			utils.ClientOrderID(id),
			utils.HTTPStatus(res.HTTPStatus),
			utils.String("error", res.ErrorMessage))
		s.telemetry.Emit(telemetry.LevelError, componentName,
			fmt.Sprintf("Failed to place order %s: %s", id, res.ErrorMessage))
	}

	order, _ := s.store.Get(id)
	return order, res, nil
}

// CancelOrder отменяет ордер.
//
// Ордер без биржевого id отменяется локально, без обращения к бирже.
// Возвращает ErrNotCancelable для ордеров в финальном состоянии.
func (s *OrderService) CancelOrder(ctx context.Context, id string) (models.Order, exchange.ExecutionResult, error) {
	order, err := s.resolve(id)
	if err != nil {
		return models.Order{}, exchange.ExecutionResult{}, err
	}
	if order.IsTerminal() {
		return order, exchange.ExecutionResult{}, fmt.Errorf("%w: %s is %s", ErrNotCancelable, order.ClientOrderID, order.State)
	}

	if order.ExchangeOrderID == "" {
		s.store.Update(order.ClientOrderID, orders.UpdateParams{State: models.StateCanceled})
		s.telemetry.Emit(telemetry.LevelInfo, componentName,
			fmt.Sprintf("Order %s canceled locally (not on exchange)", order.ClientOrderID))
		order, _ = s.store.Get(order.ClientOrderID)
		return order, exchange.ExecutionResult{Success: true}, nil
	}

	if !s.store.MarkForCancel(order.ClientOrderID) && order.State != models.StatePending {
		return order, exchange.ExecutionResult{}, fmt.Errorf("%w: %s", ErrNotCancelable, order.ClientOrderID)
	}

	res := s.gateway.Cancel(ctx, order.ExchangeOrderID)
	if res.Success {
		s.store.Update(order.ClientOrderID, orders.UpdateParams{State: models.StateCanceled})
	} else {
		utils.Warn("cancel failed",
			utils.ClientOrderID(order.ClientOrderID),
			utils.ExchangeOrderID(order.ExchangeOrderID),
			utils.HTTPStatus(res.HTTPStatus),
			utils.String("error", res.ErrorMessage))
		s.telemetry.Emit(telemetry.LevelError, componentName,
			fmt.Sprintf("Failed to cancel order %s: %s", order.ClientOrderID, res.ErrorMessage))
	}

	order, _ = s.store.Get(order.ClientOrderID)
	return order, res, nil
}

// ModifyOrder меняет цену и/или объем ордера на бирже.
// Незаданные значения берутся из текущего ордера.
func (s *OrderService) ModifyOrder(ctx context.Context, id string, p ModifyParams) (models.Order, exchange.ExecutionResult, error) {
	order, err := s.resolve(id)
	if err != nil {
		return models.Order{}, exchange.ExecutionResult{}, err
	}
	if order.IsTerminal() {
		return order, exchange.ExecutionResult{}, fmt.Errorf("%w: %s is %s", ErrOrderClosed, order.ClientOrderID, order.State)
	}
	if order.ExchangeOrderID == "" {
		return order, exchange.ExecutionResult{}, fmt.Errorf("%w: %s", ErrNoExchangeID, order.ClientOrderID)
	}
	if p.Price < 0 || p.Amount < 0 {
		return order, exchange.ExecutionResult{}, fmt.Errorf("%w: price and amount must not be negative", ErrInvalidRequest)
	}

	price, amount := p.Price, p.Amount
	if price == 0 {
		price = order.Price
	}
	if amount == 0 {
		amount = order.Amount
	}

	res := s.gateway.Modify(ctx, order.ExchangeOrderID, price, amount)
	if res.Success {
		// Изменение не трогает состояние; PENDING подтверждается биржей как OPEN
		if cur, ok := s.store.Get(order.ClientOrderID); ok && cur.State == models.StatePending {
			s.store.Update(order.ClientOrderID, orders.UpdateParams{State: models.StateOpen})
		}
		utils.L().WithOrderID(order.ClientOrderID).Info("order modified", utils.Price(price), utils.Amount(amount))
		s.telemetry.Emit(telemetry.LevelInfo, componentName,
			fmt.Sprintf("Order %s modified: price=%v amount=%v", order.ClientOrderID, price, amount))
	} else {
		s.telemetry.Emit(telemetry.LevelError, componentName,
			fmt.Sprintf("Failed to modify order %s: %s", order.ClientOrderID, res.ErrorMessage))
	}

	order, _ = s.store.Get(order.ClientOrderID)
	return order, res, nil
}

// RefreshStatus запрашивает состояние ордера на бирже и применяет его.
// Переход, недопустимый по models.CanTransition, не применяется.
func (s *OrderService) RefreshStatus(ctx context.Context, id string) (models.Order, exchange.ExecutionResult, error) {
	order, err := s.resolve(id)
	if err != nil {
		return models.Order{}, exchange.ExecutionResult{}, err
	}
	if order.ExchangeOrderID == "" {
		return order, exchange.ExecutionResult{}, fmt.Errorf("%w: %s", ErrNoExchangeID, order.ClientOrderID)
	}

	venue, res := s.gateway.GetStatus(ctx, order.ExchangeOrderID)
	if !res.Success {
		return order, res, nil
	}

	if venue.State != order.State && !models.CanTransition(order.State, venue.State) {
		utils.Warn("ignoring venue state",
			utils.ClientOrderID(order.ClientOrderID),
			utils.String("from", order.State.String()),
			utils.String("to", venue.State.String()))
		return order, res, nil
	}

	if venue.State != order.State || venue.FilledAmount > order.FilledAmount {
		s.store.Update(order.ClientOrderID, orders.UpdateParams{
			State:        venue.State,
			FilledAmount: venue.FilledAmount,
		})
	}

	order, _ = s.store.Get(order.ClientOrderID)
	return order, res, nil
}

// GetOrderBook возвращает стакан по символу
func (s *OrderService) GetOrderBook(ctx context.Context, symbol string) (models.OrderBook, exchange.ExecutionResult, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return models.OrderBook{}, exchange.ExecutionResult{}, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	book, res := s.gateway.GetOrderBook(ctx, symbol)
	return book, res, nil
}

// GetOrder возвращает ордер по client id или exchange id
func (s *OrderService) GetOrder(id string) (models.Order, error) {
	return s.resolve(id)
}

// ListOrders возвращает ордера, отсортированные по времени создания.
// Гарантирует пустой срез вместо nil.
func (s *OrderService) ListOrders(f ListFilter) []models.Order {
	var list []models.Order
	if f.ActiveOnly {
		list = s.store.ListActive()
	} else {
		list = s.store.ListAll()
	}

	result := make([]models.Order, 0, len(list))
	for _, o := range list {
		if f.Symbol != "" && !strings.EqualFold(o.Symbol, f.Symbol) {
			continue
		}
		result = append(result, o)
	}
	return result
}

// resolve ищет ордер сначала по client id, затем по exchange id
func (s *OrderService) resolve(id string) (models.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Order{}, fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	if o, ok := s.store.Get(id); ok {
		return o, nil
	}
	if o, ok := s.store.GetByExchangeID(id); ok {
		return o, nil
	}
	return models.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
}
