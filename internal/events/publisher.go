// Package events публикует изменения ордеров во внешнюю шину (Kafka).
//
// Publisher подписывается на хранилище ордеров как UpdateListener и
// ставит снимки в ограниченную очередь; единственная горутина-потребитель
// пишет их в топик. Ключ сообщения - client id, поэтому все изменения
// одного ордера попадают в одну партицию и читаются по порядку.
package events

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"execgateway/internal/models"
	"execgateway/internal/queue"
	"execgateway/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventTypeOrderUpdate - значение заголовка event-type
const EventTypeOrderUpdate = "order_update"

// MessageWriter - часть kafka.Writer, нужная издателю
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderEvent - тело сообщения в топике
type OrderEvent struct {
	Type        string       `json:"type"`
	Order       models.Order `json:"order"`
	PublishedUs int64        `json:"published_ts_us"`
}

// NewKafkaWriter создает синхронный writer с партиционированием по ключу
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Publisher - публикация снимков ордеров поверх queue.Worker
type Publisher struct {
	writer       MessageWriter
	worker       *queue.Worker[models.Order]
	writeTimeout time.Duration
	failed       atomic.Uint64
	now          func() int64
}

// NewPublisher создает остановленный издатель
func NewPublisher(writer MessageWriter, capacity int, writeTimeout time.Duration) (*Publisher, error) {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	p := &Publisher{
		writer:       writer,
		writeTimeout: writeTimeout,
		now:          utils.UnixMicros,
	}

	var err error
	p.worker, err = queue.New("events", capacity, p.process)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Start запускает потребителя
func (p *Publisher) Start() { p.worker.Start() }

// Stop публикует все поставленные снимки и закрывает writer
func (p *Publisher) Stop() error {
	p.worker.Stop()
	return p.writer.Close()
}

// OnOrderUpdate реализует orders.UpdateListener; не блокируется
func (p *Publisher) OnOrderUpdate(order models.Order) {
	p.worker.Submit(order)
}

func (p *Publisher) process(order models.Order) {
	value, err := json.Marshal(OrderEvent{
		Type:        EventTypeOrderUpdate,
		Order:       order,
		PublishedUs: p.now(),
	})
	if err != nil {
		p.failed.Add(1)
		utils.Error("failed to encode order event", utils.ClientOrderID(order.ClientOrderID), utils.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.ClientOrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(EventTypeOrderUpdate)},
			{Key: "state", Value: []byte(order.State.String())},
			{Key: "updated-ts-us", Value: []byte(strconv.FormatInt(order.UpdatedAtUs, 10))},
		},
	})
	if err != nil {
		p.failed.Add(1)
		utils.L().WithComponent("events").Error("order event publish failed",
			utils.ClientOrderID(order.ClientOrderID),
			utils.State(order.State.String()),
			utils.Err(err),
		)
	}
}

// Dropped - снимки, отброшенные из-за переполнения
func (p *Publisher) Dropped() uint64 { return p.worker.Dropped() }

// Processed - обработанные снимки (успешные и неуспешные)
func (p *Publisher) Processed() uint64 { return p.worker.Processed() }

// Failed - снимки, которые не удалось опубликовать
func (p *Publisher) Failed() uint64 { return p.failed.Load() }
