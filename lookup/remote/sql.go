package remote

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/c360/lookupkit/errors"
)

// NewSQLFetcher answers a key with the first column of the first row query
// returns for it. query takes the key as its only argument. No rows means
// not found.
func NewSQLFetcher(db *sql.DB, query string) Fetcher {
	return func(ctx context.Context, key string) (any, bool, error) {
		var value any
		err := db.QueryRowContext(ctx, query, key).Scan(&value)
		switch {
		case stderrors.Is(err, sql.ErrNoRows):
			return nil, false, nil
		case err != nil:
			return nil, false, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "SQLFetcher", "Fetch", "query row")
		}
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		return value, true, nil
	}
}

// OpenSQL opens db with driver and dsn and checks the connection.
func OpenSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "SQLFetcher", "OpenSQL", "open "+driver)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "SQLFetcher", "OpenSQL", "ping "+driver)
	}
	return db, nil
}
