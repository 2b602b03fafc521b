package models

import (
	"fmt"
	"strings"
)

// OrderState - состояние ордера
type OrderState int

const (
	StatePending OrderState = iota
	StateOpen
	StatePartial
	StateFilled
	StateCanceled
	StateRejected
)

func (s OrderState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StatePartial:
		return "partial"
	case StateFilled:
		return "filled"
	case StateCanceled:
		return "canceled"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ParseOrderState разбирает состояние без учета регистра.
// Принимается и британское написание "cancelled".
func ParseOrderState(s string) (OrderState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatePending, nil
	case "open":
		return StateOpen, nil
	case "partial":
		return StatePartial, nil
	case "filled":
		return StateFilled, nil
	case "canceled", "cancelled":
		return StateCanceled, nil
	case "rejected":
		return StateRejected, nil
	default:
		return 0, fmt.Errorf("unknown order state %q", s)
	}
}

func (s OrderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderState) UnmarshalText(b []byte) error {
	v, err := ParseOrderState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// IsActive - OPEN или PARTIAL
func (s OrderState) IsActive() bool {
	return s == StateOpen || s == StatePartial
}

// IsTerminal - FILLED, CANCELED или REJECTED
func (s OrderState) IsTerminal() bool {
	return s == StateFilled || s == StateCanceled || s == StateRejected
}

// ValidTransitions определяет разумные переходы между состояниями.
// Хранилище ордеров их не проверяет, таблицей пользуется оркестратор.
var ValidTransitions = map[OrderState][]OrderState{
	StatePending: {StateOpen, StatePartial, StateFilled, StateCanceled, StateRejected},
	StateOpen:    {StateOpen, StatePartial, StateFilled, StateCanceled, StateRejected},
	StatePartial: {StatePartial, StateFilled, StateCanceled},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to OrderState) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для CLI и UI
func StateInfo(s OrderState) string {
	switch s {
	case StatePending:
		return "Ожидает отправки на биржу"
	case StateOpen:
		return "Выставлен на бирже"
	case StatePartial:
		return "Частично исполнен"
	case StateFilled:
		return "Исполнен"
	case StateCanceled:
		return "Отменен"
	case StateRejected:
		return "Отклонен"
	default:
		return "Неизвестное состояние"
	}
}
