package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest - некорректные параметры заявки
var ErrInvalidRequest = errors.New("invalid order request")

// Side - направление ордера
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide разбирает направление без учета регистра
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OrderType - тип ордера
type OrderType int

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	default:
		return "unknown"
	}
}

// ParseOrderType разбирает тип ордера без учета регистра
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "limit":
		return OrderTypeLimit, nil
	case "market":
		return OrderTypeMarket, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// OrderRequest - неизменяемые входные параметры заявки.
// Price имеет смысл только для лимитных ордеров.
type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Price         float64   `json:"price"`
	Amount        float64   `json:"amount"`
	Type          OrderType `json:"type"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
}

// Validate проверяет заявку перед созданием ордера
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %v", ErrInvalidRequest, r.Amount)
	}
	if r.Type == OrderTypeLimit && r.Price <= 0 {
		return fmt.Errorf("%w: limit order requires positive price, got %v", ErrInvalidRequest, r.Price)
	}
	return nil
}

// Order - изменяемая запись жизненного цикла ордера.
//
// ClientOrderID неизменен после назначения, ExchangeOrderID назначается
// не более одного раза, ErrorMessage никогда не очищается неявно.
type Order struct {
	ClientOrderID   string `json:"client_order_id"`
	ExchangeOrderID string `json:"exchange_order_id,omitempty"`
	OrderRequest
	State        OrderState `json:"state"`
	FilledAmount float64    `json:"filled_amount"`
	CreatedAtUs  int64      `json:"created_ts_us"`
	UpdatedAtUs  int64      `json:"last_update_ts_us"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// IsActive - ордер работает на бирже
func (o Order) IsActive() bool {
	return o.State.IsActive()
}

// IsTerminal - ордер в финальном состоянии
func (o Order) IsTerminal() bool {
	return o.State.IsTerminal()
}

// RemainingAmount возвращает неисполненный объем
func (o Order) RemainingAmount() float64 {
	rest := o.Amount - o.FilledAmount
	if rest < 0 {
		return 0
	}
	return rest
}
