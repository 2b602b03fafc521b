// Package queue содержит ограниченную очередь с одним фоновым потребителем.
//
// Используется одинаково для persistence, telemetry и events: производитель
// никогда не блокируется, при переполнении элемент отбрасывается и
// увеличивается счетчик. Доставка best-effort.
package queue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"execgateway/internal/metrics"
	"execgateway/pkg/utils"
)

// ProcessFunc обрабатывает один элемент очереди.
// Вызывается только из горутины потребителя, без удержания блокировки очереди.
type ProcessFunc[T any] func(item T)

// Worker - ограниченная очередь емкостью capacity и одна горутина-потребитель.
//
// Гарантии:
// - Submit не блокируется; при заполненной очереди возвращает false
// - Stop дожидается обработки всего, что уже в очереди
// - Start/Stop идемпотентны
// - после Stop: Processed() + Dropped() == число вызовов Submit
type Worker[T any] struct {
	name     string
	capacity int
	process  ProcessFunc[T]

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T // кольцевой буфер
	head     int
	size     int
	running  bool
	stopping bool
	closed   bool
	done     chan struct{}

	// lifecycle сериализует Start/Stop
	lifecycle sync.Mutex

	dropped   atomic.Uint64
	processed atomic.Uint64
	panics    atomic.Uint64
}

// New создает остановленный Worker. Элементы, поданные до Start,
// буферизуются и обрабатываются после запуска.
func New[T any](name string, capacity int, process ProcessFunc[T]) (*Worker[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue %s: capacity must be positive, got %d", name, capacity)
	}
	if process == nil {
		return nil, fmt.Errorf("queue %s: process func is required", name)
	}

	w := &Worker[T]{
		name:     name,
		capacity: capacity,
		process:  process,
		buf:      make([]T, capacity),
	}
	w.cond = sync.NewCond(&w.mu)
	return w, nil
}

// Submit ставит элемент в очередь без блокировки.
// Возвращает false если очередь заполнена или worker уже остановлен.
func (w *Worker[T]) Submit(item T) bool {
	w.mu.Lock()
	if w.closed || w.size == w.capacity {
		size := w.size
		w.mu.Unlock()

		w.dropped.Add(1)
		metrics.RecordBufferOverflow(w.name)
		metrics.RecordBufferBacklog(w.name, size)
		return false
	}

	w.buf[(w.head+w.size)%w.capacity] = item
	w.size++
	size := w.size
	w.mu.Unlock()

	w.cond.Signal()
	metrics.RecordBufferBacklog(w.name, size)
	return true
}

// Start запускает горутину-потребителя. Повторный вызов - no-op.
func (w *Worker[T]) Start() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopping = false
	w.closed = false
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.run(done)
}

// Stop останавливает потребителя после финального дренажа очереди
// и дожидается его завершения. Если Start не вызывался, буфер
// обрабатывается синхронно. Повторный вызов - no-op.
func (w *Worker[T]) Stop() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.Lock()
	if !w.running {
		// Потребитель не запускался: дренируем буфер в вызывающей горутине
		w.closed = true
		w.mu.Unlock()
		for {
			item, ok := w.pop()
			if !ok {
				return
			}
			w.handle(item)
		}
	}
	w.stopping = true
	w.closed = true
	done := w.done
	w.mu.Unlock()

	w.cond.Broadcast()
	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *Worker[T]) run(done chan struct{}) {
	defer close(done)

	for {
		w.mu.Lock()
		for w.size == 0 && !w.stopping {
			w.cond.Wait()
		}
		if w.size == 0 {
			// stopping и очередь пуста
			w.mu.Unlock()
			return
		}

		item := w.takeLocked()
		w.mu.Unlock()

		w.handle(item)
	}
}

// pop извлекает голову очереди без ожидания
func (w *Worker[T]) pop() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size == 0 {
		var zero T
		return zero, false
	}
	return w.takeLocked(), true
}

// takeLocked снимает голову непустой очереди; вызывается под w.mu
func (w *Worker[T]) takeLocked() T {
	var zero T
	item := w.buf[w.head]
	w.buf[w.head] = zero
	w.head = (w.head + 1) % w.capacity
	w.size--
	return item
}

func (w *Worker[T]) handle(item T) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			utils.Error("queue consumer panic recovered",
				utils.Component(w.name),
				utils.Any("panic", r),
			)
		}
		w.processed.Add(1)
		metrics.RecordProcessed(w.name)
	}()

	w.process(item)
}

// Name возвращает имя очереди (метка метрик)
func (w *Worker[T]) Name() string { return w.name }

// Capacity возвращает емкость очереди
func (w *Worker[T]) Capacity() int { return w.capacity }

// Len возвращает текущее число элементов в очереди
func (w *Worker[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Running сообщает, запущен ли потребитель
func (w *Worker[T]) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Dropped возвращает число отброшенных элементов
func (w *Worker[T]) Dropped() uint64 { return w.dropped.Load() }

// Processed возвращает число обработанных элементов (включая завершившиеся паникой)
func (w *Worker[T]) Processed() uint64 { return w.processed.Load() }

// Panics возвращает число паник в обработчике
func (w *Worker[T]) Panics() uint64 { return w.panics.Load() }
