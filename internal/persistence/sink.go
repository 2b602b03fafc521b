// Package persistence - асинхронная запись снимков ордеров в хранилище.
//
// Sink принимает снимки на горячем пути без блокировки и пишет их
// из единственной горутины-потребителя. Хранилище (SQL или Pebble)
// используется на запись только этой горутиной.
package persistence

import (
	"context"
	"sync/atomic"
	"time"

	"execgateway/internal/models"
	"execgateway/internal/queue"
	"execgateway/pkg/utils"
)

// DefaultCapacity - емкость очереди записи по умолчанию
const DefaultCapacity = 10000

// OrderWriter - долговременное хранилище ордеров
type OrderWriter interface {
	WriteOrder(ctx context.Context, order models.Order) error
	WriteLatency(ctx context.Context, sample models.LatencySample) error
}

// OrderReader - чтение сохраненных ордеров (для восстановления при старте)
type OrderReader interface {
	ListOrders(ctx context.Context) ([]models.Order, error)
}

// Store - полноценное хранилище: запись, чтение, закрытие
type Store interface {
	OrderWriter
	OrderReader
	Close() error
}

type requestKind int

const (
	kindOrder requestKind = iota
	kindLatency
)

// WriteRequest - элемент очереди; несет полный снимок и не ссылается на хранилище ордеров
type WriteRequest struct {
	kind    requestKind
	Order   models.Order
	Latency models.LatencySample
}

// Sink - persistence поверх queue.Worker
//
// Замеры латентности занимают не больше половины очереди: остаток
// зарезервирован под снимки ордеров, и при нагрузке первыми
// отбрасываются замеры.
type Sink struct {
	writer       OrderWriter
	worker       *queue.Worker[WriteRequest]
	writeTimeout time.Duration
	latencyLimit int
	failed       atomic.Uint64
	latencyShed  atomic.Uint64
}

// NewSink создает приемник. writeTimeout ограничивает одну запись в хранилище.
func NewSink(writer OrderWriter, capacity int, writeTimeout time.Duration) (*Sink, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	s := &Sink{
		writer:       writer,
		writeTimeout: writeTimeout,
		latencyLimit: max(capacity/2, 1),
	}

	var err error
	s.worker, err = queue.New("persistence", capacity, s.process)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start запускает потребителя
func (s *Sink) Start() { s.worker.Start() }

// Stop дожидается записи всех поставленных снимков
func (s *Sink) Stop() { s.worker.Stop() }

// Write ставит снимок ордера в очередь записи.
// false - очередь переполнена, запись отброшена.
func (s *Sink) Write(order models.Order) bool {
	return s.worker.Submit(WriteRequest{kind: kindOrder, Order: order})
}

// RecordLatency ставит замер латентности вызова биржи в очередь записи.
// false - очередь занята больше чем на latencyLimit, замер отброшен.
func (s *Sink) RecordLatency(operation string, latency time.Duration) bool {
	if s.worker.Len() >= s.latencyLimit {
		s.latencyShed.Add(1)
		return false
	}
	return s.worker.Submit(WriteRequest{
		kind: kindLatency,
		Latency: models.LatencySample{
			Operation:   operation,
			LatencyUs:   latency.Microseconds(),
			TimestampUs: utils.UnixMicros(),
		},
	})
}

func (s *Sink) process(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	var err error
	switch req.kind {
	case kindLatency:
		err = s.writer.WriteLatency(ctx, req.Latency)
	default:
		err = s.writer.WriteOrder(ctx, req.Order)
	}

	if err != nil {
		s.failed.Add(1)
		utils.L().WithComponent("persistence").Error("persistence write failed",
			utils.ClientOrderID(req.Order.ClientOrderID),
			utils.State(req.Order.State.String()),
			utils.Err(err),
		)
	}
}

// Dropped - снимки, отброшенные из-за переполнения
func (s *Sink) Dropped() uint64 { return s.worker.Dropped() }

// Processed - обработанные запросы (успешные и неуспешные)
func (s *Sink) Processed() uint64 { return s.worker.Processed() }

// LatencyShed - замеры, отброшенные ради места под снимки ордеров
func (s *Sink) LatencyShed() uint64 { return s.latencyShed.Load() }

// Failed - запросы, завершившиеся ошибкой хранилища
func (s *Sink) Failed() uint64 { return s.failed.Load() }
