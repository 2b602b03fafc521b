package websocket

import (
	"time"

	"execgateway/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeOrderUpdate - изменение ордера (создание, смена состояния, исполнение)
	// Отправляется на каждое изменение в хранилище ордеров
	MessageTypeOrderUpdate MessageType = "orderUpdate"

	// MessageTypeOrderSnapshot - все известные ордера
	// Отправляется один раз сразу после подключения
	MessageTypeOrderSnapshot MessageType = "orderSnapshot"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderUpdateMessage - снимок ордера после изменения
type OrderUpdateMessage struct {
	BaseMessage
	Data models.Order `json:"data"`
}

// OrderSnapshotMessage - начальное состояние для нового клиента
type OrderSnapshotMessage struct {
	BaseMessage
	Orders []models.Order `json:"orders"`
}

// NewOrderUpdateMessage создает сообщение обновления ордера
func NewOrderUpdateMessage(order models.Order) *OrderUpdateMessage {
	return &OrderUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeOrderUpdate,
			Timestamp: time.Now(),
		},
		Data: order,
	}
}

// NewOrderSnapshotMessage создает сообщение со списком ордеров
func NewOrderSnapshotMessage(orders []models.Order) *OrderSnapshotMessage {
	if orders == nil {
		orders = []models.Order{}
	}
	return &OrderSnapshotMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeOrderSnapshot,
			Timestamp: time.Now(),
		},
		Orders: orders,
	}
}
