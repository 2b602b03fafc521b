package persistence

import (
	"context"
	"fmt"

	"execgateway/internal/repository"
)

// Open открывает хранилище по имени драйвера:
// "pebble" - каталог Pebble, "sqlite"/"postgres" - SQL через database/sql.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	if driver == "pebble" {
		return OpenPebble(dsn)
	}

	db, dialect, err := repository.Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare schema: %w", err)
	}
	return repository.NewOrderRepository(db, dialect), nil
}
