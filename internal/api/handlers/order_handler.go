package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"execgateway/internal/exchange"
	"execgateway/internal/models"
	"execgateway/internal/service"
	"execgateway/pkg/utils"
)

// OrderHandler отвечает за управление ордерами
//
// Endpoints:
// - GET /api/v1/orders - список ордеров (?active=true&symbol=BTC-PERPETUAL)
// - POST /api/v1/orders - размещение ордера
// - GET /api/v1/orders/{id} - ордер по client id или exchange id
// - PATCH /api/v1/orders/{id} - изменение цены/объема
// - POST /api/v1/orders/{id}/cancel - отмена
// - POST /api/v1/orders/{id}/refresh - синхронизация состояния с биржей
// - GET /api/v1/orderbook/{symbol} - стакан
//
// Ошибки валидации и состояния возвращаются как ErrorResponse (4xx).
// Неуспешный вызов биржи возвращает 502 с итоговым снимком ордера и результатом.
type OrderHandler struct {
	orderService service.OrderServiceInterface
}

// NewOrderHandler создает новый OrderHandler с внедрением зависимости
func NewOrderHandler(orderService service.OrderServiceInterface) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// PlaceOrderRequest - тело POST /api/v1/orders
type PlaceOrderRequest struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type,omitempty"` // по умолчанию limit
	Price         float64 `json:"price"`
	Amount        float64 `json:"amount"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

// toModel разбирает направление и тип
func (r PlaceOrderRequest) toModel() (models.OrderRequest, error) {
	side, err := models.ParseSide(r.Side)
	if err != nil {
		return models.OrderRequest{}, err
	}
	orderType := models.OrderTypeLimit
	if r.Type != "" {
		if orderType, err = models.ParseOrderType(r.Type); err != nil {
			return models.OrderRequest{}, err
		}
	}
	return models.OrderRequest{
		Symbol:        r.Symbol,
		Side:          side,
		Type:          orderType,
		Price:         r.Price,
		Amount:        r.Amount,
		ClientOrderID: r.ClientOrderID,
	}, nil
}

// ModifyOrderRequest - тело PATCH /api/v1/orders/{id}; 0 или отсутствие = оставить как есть
type ModifyOrderRequest struct {
	Price  float64 `json:"price,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

// OrderResponse - снимок ордера и результат обращения к бирже (если оно было)
type OrderResponse struct {
	Order  models.Order              `json:"order"`
	Result *exchange.ExecutionResult `json:"result,omitempty"`
}

// ListOrdersResponse представляет ответ списка ордеров
type ListOrdersResponse struct {
	Orders []models.Order `json:"orders"`
	Total  int            `json:"total"`
}

// OrderBookResponse - стакан с производными величинами
type OrderBookResponse struct {
	models.OrderBook
	BestBid  float64 `json:"best_bid"`
	BestAsk  float64 `json:"best_ask"`
	Spread   float64 `json:"spread"`
	MidPrice float64 `json:"mid_price"`
}

// ListOrders возвращает список ордеров
//
// GET /api/v1/orders
//
// Query параметры:
// - active (bool): только OPEN и PARTIAL
// - symbol (string): фильтр по инструменту (без учета регистра)
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := service.ListFilter{Symbol: r.URL.Query().Get("symbol")}

	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "active must be a boolean")
			return
		}
		filter.ActiveOnly = active
	}

	list := h.orderService.ListOrders(filter)
	respondWithJSON(w, http.StatusOK, ListOrdersResponse{Orders: list, Total: len(list)})
}

// GetOrder возвращает ордер
//
// GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrder(mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, OrderResponse{Order: order})
}

// PlaceOrder создает ордер и отправляет его на биржу
//
// POST /api/v1/orders
//
// Ответы:
// - 201: ордер принят биржей (OPEN)
// - 400: некорректное тело запроса
// - 409: client_order_id уже занят
// - 502: биржа отклонила ордер (ордер сохранен в состоянии REJECTED)
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}

	req, err := body.toModel()
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	order, res, err := h.orderService.PlaceOrder(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithResult(w, http.StatusCreated, order, res)
}

// CancelOrder отменяет ордер
//
// POST /api/v1/orders/{id}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, res, err := h.orderService.CancelOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithResult(w, http.StatusOK, order, res)
}

// ModifyOrder меняет цену и/или объем
//
// PATCH /api/v1/orders/{id}
func (h *OrderHandler) ModifyOrder(w http.ResponseWriter, r *http.Request) {
	var body ModifyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if body.Price == 0 && body.Amount == 0 {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "price or amount is required")
		return
	}

	order, res, err := h.orderService.ModifyOrder(r.Context(), mux.Vars(r)["id"], service.ModifyParams{
		Price:  body.Price,
		Amount: body.Amount,
	})
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithResult(w, http.StatusOK, order, res)
}

// RefreshOrder запрашивает состояние ордера на бирже
//
// POST /api/v1/orders/{id}/refresh
func (h *OrderHandler) RefreshOrder(w http.ResponseWriter, r *http.Request) {
	order, res, err := h.orderService.RefreshStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithResult(w, http.StatusOK, order, res)
}

// GetOrderBook возвращает стакан
//
// GET /api/v1/orderbook/{symbol}
func (h *OrderHandler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	book, res, err := h.orderService.GetOrderBook(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	if !res.Success {
		respondWithJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   res.ErrorMessage,
			Code:    CodeExchange,
			Details: fmt.Sprintf("http status %d", res.HTTPStatus),
		})
		return
	}

	respondWithJSON(w, http.StatusOK, OrderBookResponse{
		OrderBook: book,
		BestBid:   book.BestBid(),
		BestAsk:   book.BestAsk(),
		Spread:    book.Spread(),
		MidPrice:  book.MidPrice(),
	})
}

// respondWithResult выбирает код ответа по результату обращения к бирже
func respondWithResult(w http.ResponseWriter, okCode int, order models.Order, res exchange.ExecutionResult) {
	code := okCode
	if !res.Success {
		code = http.StatusBadGateway
	}
	respondWithJSON(w, code, OrderResponse{Order: order, Result: &res})
}

// respondWithServiceError переводит ошибки сервиса в HTTP коды
func respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, service.ErrOrderNotFound):
		respondWithError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, service.ErrDuplicateID):
		respondWithError(w, http.StatusConflict, CodeDuplicate, err.Error())
	case errors.Is(err, service.ErrNotCancelable),
		errors.Is(err, service.ErrOrderClosed),
		errors.Is(err, service.ErrNoExchangeID):
		respondWithError(w, http.StatusConflict, CodeConflict, err.Error())
	default:
		utils.Error("unexpected service error", utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}
