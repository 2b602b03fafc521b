package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"execgateway/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

const orderColumns = `client_order_id, exchange_order_id, symbol, side, price, amount, order_type,
			state, filled_amount, created_ts_us, last_update_ts_us, error_message`

// OrderRepository - работа с таблицами orders и latency_metrics
type OrderRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB, dialect Dialect) *OrderRepository {
	return &OrderRepository{db: db, dialect: dialect}
}

// WriteOrder сохраняет снимок ордера (upsert по client_order_id)
func (r *OrderRepository) WriteOrder(ctx context.Context, order models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (client_order_id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			symbol = excluded.symbol,
			side = excluded.side,
			price = excluded.price,
			amount = excluded.amount,
			order_type = excluded.order_type,
			state = excluded.state,
			filled_amount = excluded.filled_amount,
			created_ts_us = excluded.created_ts_us,
			last_update_ts_us = excluded.last_update_ts_us,
			error_message = excluded.error_message`

	_, err := r.db.ExecContext(ctx, r.dialect.rebind(query),
		order.ClientOrderID,
		nullString(order.ExchangeOrderID),
		order.Symbol,
		order.Side.String(),
		order.Price,
		order.Amount,
		order.Type.String(),
		order.State.String(),
		order.FilledAmount,
		order.CreatedAtUs,
		order.UpdatedAtUs,
		nullString(order.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", order.ClientOrderID, err)
	}
	return nil
}

// GetByClientID возвращает ордер по client_order_id
func (r *OrderRepository) GetByClientID(ctx context.Context, id string) (models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE client_order_id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, r.dialect.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Order{}, ErrOrderNotFound
		}
		return models.Order{}, err
	}
	return order, nil
}

// ListOrders возвращает все ордера в порядке создания
func (r *OrderRepository) ListOrders(ctx context.Context) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_ts_us ASC, client_order_id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// WriteLatency добавляет замер в latency_metrics
func (r *OrderRepository) WriteLatency(ctx context.Context, sample models.LatencySample) error {
	query := `INSERT INTO latency_metrics (operation, latency_us, timestamp_us) VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, r.dialect.rebind(query), sample.Operation, sample.LatencyUs, sample.TimestampUs); err != nil {
		return fmt.Errorf("insert latency %s: %w", sample.Operation, err)
	}
	return nil
}

// Close закрывает подключение к БД
func (r *OrderRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		order                      models.Order
		exchangeID, errMsg         sql.NullString
		side, orderType, stateName string
	)

	err := row.Scan(
		&order.ClientOrderID,
		&exchangeID,
		&order.Symbol,
		&side,
		&order.Price,
		&order.Amount,
		&orderType,
		&stateName,
		&order.FilledAmount,
		&order.CreatedAtUs,
		&order.UpdatedAtUs,
		&errMsg,
	)
	if err != nil {
		return models.Order{}, err
	}

	if order.Side, err = models.ParseSide(side); err != nil {
		return models.Order{}, fmt.Errorf("order %s: %w", order.ClientOrderID, err)
	}
	if order.Type, err = models.ParseOrderType(orderType); err != nil {
		return models.Order{}, fmt.Errorf("order %s: %w", order.ClientOrderID, err)
	}
	if order.State, err = models.ParseOrderState(stateName); err != nil {
		return models.Order{}, fmt.Errorf("order %s: %w", order.ClientOrderID, err)
	}

	order.ExchangeOrderID = exchangeID.String
	order.ErrorMessage = errMsg.String
	order.OrderRequest.ClientOrderID = order.ClientOrderID
	return order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
