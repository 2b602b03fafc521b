// Package orders - конкурентное хранилище ордеров.
//
// Двухуровневая блокировка:
//   - mu (RWMutex) защищает индексы и держится коротко
//   - entry.mu защищает поля одного ордера на время одного перехода
//
// Порядок захвата: entry.mu, затем mu. Перечисление копирует указатели
// на записи под mu.RLock, отпускает его и только потом блокирует записи,
// поэтому ни одна горутина не ждет entry.mu, удерживая mu.
package orders

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"execgateway/internal/metrics"
	"execgateway/internal/models"
	"execgateway/internal/telemetry"
	"execgateway/pkg/utils"
)

const (
	componentName = "OrderManager"
	idPrefix      = "ORDER_"
)

var (
	ErrDuplicateID   = errors.New("order with this client id already exists")
	ErrOrderNotFound = errors.New("order not found")
)

// PersistenceWriter - очередь записи снимков (persistence.Sink)
type PersistenceWriter interface {
	Write(order models.Order) bool
}

// UpdateListener получает снимок после каждой мутации.
// Вызывается синхронно под блокировкой ордера: не должен блокироваться
// и не должен обращаться к Store.
type UpdateListener interface {
	OnOrderUpdate(order models.Order)
}

// ListenerFunc адаптирует функцию к UpdateListener
type ListenerFunc func(order models.Order)

func (f ListenerFunc) OnOrderUpdate(order models.Order) { f(order) }

// UpdateParams - изменения для Update.
// Нулевые значения полей (кроме State) означают "без изменений".
type UpdateParams struct {
	State           models.OrderState
	ExchangeOrderID string
	FilledAmount    float64
	ErrorMessage    string
}

// orderEntry - ордер со своей блокировкой
type orderEntry struct {
	mu    sync.Mutex
	order models.Order
}

// Store - хранилище ордеров
type Store struct {
	mu         sync.RWMutex
	orders     map[string]*orderEntry // client id -> entry
	byExchange map[string]string      // exchange id -> client id

	listenersMu sync.RWMutex
	listeners   []UpdateListener

	seq    atomic.Uint64
	active atomic.Int64

	persist   PersistenceWriter
	telemetry telemetry.Emitter
	nowUs     func() int64
}

// NewStore создает хранилище. persist и emitter могут быть nil.
func NewStore(persist PersistenceWriter, emitter telemetry.Emitter) *Store {
	if emitter == nil {
		emitter = telemetry.Nop{}
	}
	return &Store{
		orders:     make(map[string]*orderEntry),
		byExchange: make(map[string]string),
		persist:    persist,
		telemetry:  emitter,
		nowUs:      utils.UnixMicros,
	}
}

// ============================================================
// Мутации
// ============================================================

// Create регистрирует новый ордер в состоянии PENDING и возвращает его id
func (s *Store) Create(req models.OrderRequest) (string, error) {
	now := s.nowUs()
	entry := &orderEntry{}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s.mu.Lock()
	id := req.ClientOrderID
	if id != "" {
		if _, exists := s.orders[id]; exists {
			s.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
	} else {
		id = s.nextIDLocked()
	}

	req.ClientOrderID = id
	entry.order = models.Order{
		ClientOrderID: id,
		OrderRequest:  req,
		State:         models.StatePending,
		CreatedAtUs:   now,
		UpdatedAtUs:   now,
	}
	s.orders[id] = entry
	s.mu.Unlock()

	metrics.RecordTransition(models.StatePending.String())
	s.publish(entry.order, fmt.Sprintf("Created order %s: %s %v %s @ %v (%s)",
		id, req.Side, req.Amount, req.Symbol, req.Price, req.Type))

	return id, nil
}

// nextIDLocked генерирует ORDER_<unix-ms>_<counter>; вызывается под s.mu
func (s *Store) nextIDLocked() string {
	for {
		id := idPrefix + strconv.FormatInt(utils.UnixMillis(), 10) + "_" + strconv.FormatUint(s.seq.Add(1), 10)
		if _, exists := s.orders[id]; !exists {
			return id
		}
	}
}

// Update применяет изменения к ордеру. false - ордер не найден.
//
// Состояние устанавливается безусловно; exchange id только если еще пуст;
// filled только если > 0; сообщение об ошибке только если не пустое.
func (s *Store) Update(id string, p UpdateParams) bool {
	entry := s.lookup(id)
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	o := &entry.order
	wasActive := o.IsActive()

	o.State = p.State
	if p.ExchangeOrderID != "" && o.ExchangeOrderID == "" {
		if s.indexExchangeID(p.ExchangeOrderID, id) {
			o.ExchangeOrderID = p.ExchangeOrderID
		} else {
			utils.Warn("exchange order id already bound to another order",
				utils.ClientOrderID(id), utils.ExchangeOrderID(p.ExchangeOrderID))
			s.telemetry.Emit(telemetry.LevelWarning, componentName,
				fmt.Sprintf("Exchange id %s already bound to another order, not assigned to %s", p.ExchangeOrderID, id))
		}
	}
	if p.FilledAmount > 0 {
		o.FilledAmount = p.FilledAmount
	}
	if p.ErrorMessage != "" {
		o.ErrorMessage = p.ErrorMessage
	}
	o.UpdatedAtUs = s.nowUs()

	switch isActive := o.IsActive(); {
	case isActive && !wasActive:
		s.active.Add(1)
	case !isActive && wasActive:
		s.active.Add(-1)
	}
	metrics.RecordTransition(o.State.String())
	metrics.UpdateActiveOrders(int(s.active.Load()))

	msg := fmt.Sprintf("Order %s -> %s", id, strings.ToUpper(o.State.String()))
	if o.ExchangeOrderID != "" {
		msg += " (exchange id " + o.ExchangeOrderID + ")"
	}
	if p.ErrorMessage != "" {
		msg += ": " + p.ErrorMessage
	}
	s.publish(*o, msg)
	return true
}

// indexExchangeID записывает exchange id во вторичный индекс под s.mu.
// Вызывается под entry.mu. false - id уже принадлежит другому ордеру.
func (s *Store) indexExchangeID(exchangeID, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, exists := s.byExchange[exchangeID]; exists && owner != clientID {
		return false
	}
	s.byExchange[exchangeID] = clientID
	return true
}

// publish ставит снимок в persistence, пишет телеметрию и уведомляет слушателей.
// Вызывается под entry.mu.
func (s *Store) publish(snapshot models.Order, message string) {
	if s.persist != nil {
		s.persist.Write(snapshot)
	}
	s.telemetry.Emit(telemetry.LevelInfo, componentName, message)

	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l.OnOrderUpdate(snapshot)
	}
}

// Load восстанавливает ордера из хранилища при старте.
// Не пишет в persistence и не уведомляет слушателей; ордера с уже
// известным id пропускаются. Возвращает число загруженных.
func (s *Store) Load(orders ...models.Order) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, o := range orders {
		if o.ClientOrderID == "" {
			continue
		}
		if _, exists := s.orders[o.ClientOrderID]; exists {
			continue
		}
		o.OrderRequest.ClientOrderID = o.ClientOrderID
		s.orders[o.ClientOrderID] = &orderEntry{order: o}
		if o.ExchangeOrderID != "" {
			if _, taken := s.byExchange[o.ExchangeOrderID]; !taken {
				s.byExchange[o.ExchangeOrderID] = o.ClientOrderID
			}
		}
		if o.IsActive() {
			s.active.Add(1)
		}
		s.primeSequence(o.ClientOrderID)
		loaded++
	}

	metrics.UpdateActiveOrders(int(s.active.Load()))
	return loaded
}

// primeSequence сдвигает счетчик за суффикс восстановленного id
func (s *Store) primeSequence(id string) {
	if !strings.HasPrefix(id, idPrefix) {
		return
	}
	idx := strings.LastIndexByte(id, '_')
	n, err := strconv.ParseUint(id[idx+1:], 10, 64)
	if err != nil {
		return
	}
	for {
		cur := s.seq.Load()
		if n <= cur || s.seq.CompareAndSwap(cur, n) {
			return
		}
	}
}

// ============================================================
// Чтение
// ============================================================

func (s *Store) lookup(id string) *orderEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders[id]
}

// Get возвращает копию ордера
func (s *Store) Get(id string) (models.Order, bool) {
	entry := s.lookup(id)
	if entry == nil {
		return models.Order{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.order, true
}

// GetByExchangeID возвращает копию ордера по биржевому id
func (s *Store) GetByExchangeID(exchangeID string) (models.Order, bool) {
	s.mu.RLock()
	id, ok := s.byExchange[exchangeID]
	s.mu.RUnlock()
	if !ok {
		return models.Order{}, false
	}
	return s.Get(id)
}

// ListActive - снимок ордеров в OPEN или PARTIAL
func (s *Store) ListActive() []models.Order {
	return s.snapshot(models.Order.IsActive)
}

// ListAll - снимок всех ордеров
func (s *Store) ListAll() []models.Order {
	return s.snapshot(nil)
}

func (s *Store) snapshot(filter func(models.Order) bool) []models.Order {
	s.mu.RLock()
	entries := make([]*orderEntry, 0, len(s.orders))
	for _, e := range s.orders {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	result := make([]models.Order, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		o := e.order
		e.mu.Unlock()

		if filter == nil || filter(o) {
			result = append(result, o)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAtUs != result[j].CreatedAtUs {
			return result[i].CreatedAtUs < result[j].CreatedAtUs
		}
		return result[i].ClientOrderID < result[j].ClientOrderID
	})
	return result
}

// MarkForCancel - чистая проверка: ордер существует и активен.
// Ничего не меняет и не обращается к бирже.
func (s *Store) MarkForCancel(id string) bool {
	o, ok := s.Get(id)
	return ok && o.IsActive()
}

// Len - количество ордеров
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// ActiveCount - количество ордеров в OPEN или PARTIAL
func (s *Store) ActiveCount() int {
	return int(s.active.Load())
}

// ============================================================
// Слушатели
// ============================================================

// RegisterUpdateListener добавляет слушателя; порядок вызова = порядок регистрации
func (s *Store) RegisterUpdateListener(l UpdateListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	// копия, чтобы publish мог итерировать без блокировки
	next := make([]UpdateListener, len(s.listeners), len(s.listeners)+1)
	copy(next, s.listeners)
	s.listeners = append(next, l)
}

// OnUpdate регистрирует функцию-слушателя
func (s *Store) OnUpdate(fn func(order models.Order)) {
	s.RegisterUpdateListener(ListenerFunc(fn))
}
