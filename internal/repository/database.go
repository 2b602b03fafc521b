package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	// Драйверы: postgres для общего сервера, sqlite (pure Go) для локального файла
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect - диалект SQL хранилища
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// DialectFor возвращает диалект по имени драйвера database/sql
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return DialectPostgres, nil
	case "sqlite":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("unsupported database driver %q", driver)
	}
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// rebind переводит $N плейсхолдеры в ? для sqlite
func (d Dialect) rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

// Open открывает и проверяет подключение к БД
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, 0, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open database: %w", err)
	}

	switch dialect {
	case DialectSQLite:
		// Один писатель: все записи идут из горутины persistence sink
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, 0, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	return db, dialect, nil
}

// Migrate создает таблицы orders, positions и latency_metrics
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	idColumn := "BIGSERIAL PRIMARY KEY"
	if dialect == DialectSQLite {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			client_order_id TEXT PRIMARY KEY,
			exchange_order_id TEXT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			order_type TEXT NOT NULL,
			state TEXT NOT NULL,
			filled_amount DOUBLE PRECISION DEFAULT 0,
			created_ts_us BIGINT NOT NULL,
			last_update_ts_us BIGINT NOT NULL,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			amount DOUBLE PRECISION NOT NULL,
			avg_price DOUBLE PRECISION NOT NULL,
			unrealized_pnl DOUBLE PRECISION DEFAULT 0,
			last_update_ts_us BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS latency_metrics (
			id ` + idColumn + `,
			operation TEXT NOT NULL,
			latency_us BIGINT NOT NULL,
			timestamp_us BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
