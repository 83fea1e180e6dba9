package catalog

import (
	"context"
	"database/sql"
	"time"
)

// Session is a transactional handle scoped to one Store.Update or Store.View
// call. It must not be retained after the callback returns.
type Session struct {
	tx  *sql.Tx
	now func() time.Time
}

// Now returns the store clock in UTC.
func (s *Session) Now() time.Time {
	return s.now().UTC()
}

func (s *Session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *Session) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, query, args...)
}

func (s *Session) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}
