package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"execgateway/internal/metrics"
	"execgateway/internal/models"
	"execgateway/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferName - метка метрик переполнения очереди рассылки
const broadcastBufferName = "ws_broadcast"

// ============ ОПТИМИЗАЦИЯ: sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Рассылает изменения ордеров всем подключенным клиентам (/ws/orders).
// Подписывается на хранилище ордеров как UpdateListener.
//
// Функции:
//   - Регистрация и отмена регистрации клиентов
//   - Неблокирующий broadcast: OnOrderUpdate вызывается под блокировкой
//     ордера, поэтому при заполненной очереди сообщение отбрасывается
//   - Отключение медленных клиентов
//   - Начальный снимок ордеров для нового клиента
//
// Использование:
// 1. hub := NewHub(origins...)
// 2. go hub.Run()
// 3. store.RegisterUpdateListener(hub)
// 4. router.HandleFunc("/ws/orders", hub.ServeWS)
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	origins  *OriginChecker
	snapshot func() []models.Order

	dropped atomic.Uint64
}

// NewHub создает новый Hub. Пустой список origins разрешает все.
func NewHub(allowedOrigins ...string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		origins:    newOriginChecker(allowedOrigins),
	}
}

// SetSnapshot задает источник начального снимка (например store.ListAll).
// Вызывать до Run.
func (h *Hub) SetSnapshot(fn func() []models.Order) {
	h.snapshot = fn
}

// Run запускает главный цикл Hub до вызова Stop
//
// ОПТИМИЗАЦИЯ: копируем список клиентов под RLock, отправляем без блокировки,
// медленных удаляем под write lock
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			utils.Debug("ws client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			utils.Debug("ws client disconnected", utils.Int("clients", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				utils.Warn("removed slow ws clients",
					utils.Int("removed", len(toRemove)),
					utils.Int("clients", total))
			}
		}
	}
}

// Stop завершает Run и закрывает всех клиентов. Повторный вызов - no-op.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// OnOrderUpdate реализует orders.UpdateListener
func (h *Hub) OnOrderUpdate(order models.Order) {
	h.Broadcast(NewOrderUpdateMessage(order))
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	data, err := encode(message)
	if err != nil {
		utils.Error("failed to marshal ws message", utils.Err(err))
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw ставит готовые данные в очередь рассылки без блокировки.
// При заполненной очереди сообщение отбрасывается.
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		metrics.RecordBufferOverflow(broadcastBufferName)
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, отброшенных из-за переполнения
func (h *Hub) DroppedMessages() uint64 {
	return h.dropped.Load()
}

// encode сериализует сообщение через пул буферов
func encode(message interface{}) ([]byte, error) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		return nil, err
	}

	// Убираем trailing newline от Encode
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	// Копируем: буфер вернется в пул
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
