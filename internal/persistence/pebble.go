package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	jsoniter "github.com/json-iterator/go"

	"execgateway/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrOrderNotFound - ордер отсутствует в хранилище
var ErrOrderNotFound = errors.New("order not found")

// keys: order/<client_order_id>, latency/<20-digit ts_us>/<operation>
const (
	orderPrefix   = "order/"
	latencyPrefix = "latency/"
)

func orderKey(id string) []byte { return []byte(orderPrefix + id) }

func latencyKey(s models.LatencySample) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", latencyPrefix, s.TimestampUs, s.Operation))
}

// keyUpperBound - исключающая верхняя граница для сканирования префикса
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// PebbleStore - встраиваемое KV хранилище снимков ордеров (JSON)
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble открывает (создает) базу в каталоге path
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close закрывает базу
func (s *PebbleStore) Close() error { return s.db.Close() }

// WriteOrder сохраняет снимок (последняя запись побеждает)
func (s *PebbleStore) WriteOrder(_ context.Context, order models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", order.ClientOrderID, err)
	}
	if err := s.db.Set(orderKey(order.ClientOrderID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save order %s: %w", order.ClientOrderID, err)
	}
	return nil
}

// WriteLatency сохраняет замер латентности
func (s *PebbleStore) WriteLatency(_ context.Context, sample models.LatencySample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return s.db.Set(latencyKey(sample), data, pebble.NoSync)
}

// GetOrder загружает снимок ордера
func (s *PebbleStore) GetOrder(id string) (models.Order, error) {
	data, closer, err := s.db.Get(orderKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	defer closer.Close()

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return models.Order{}, fmt.Errorf("unmarshal order %s: %w", id, err)
	}
	return order, nil
}

// ListOrders возвращает все снимки в порядке создания
func (s *PebbleStore) ListOrders(_ context.Context) ([]models.Order, error) {
	prefix := []byte(orderPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []models.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var order models.Order
		if err := json.Unmarshal(iter.Value(), &order); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", iter.Key(), err)
		}
		orders = append(orders, order)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAtUs < orders[j].CreatedAtUs
	})
	return orders, nil
}

// CountLatency возвращает число сохраненных замеров латентности
func (s *PebbleStore) CountLatency() (int, error) {
	prefix := []byte(latencyPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}
