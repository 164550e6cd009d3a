package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const DBConnKey contextKey = "db_conn"

// Querier is the query surface shared by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// WithConn returns a context whose repository calls run on q. It is the hook
// for running several repository writes in one caller-owned transaction, and
// for tests that roll a transaction back after each case. Requests served by
// the API never attach a conn; repositories then use the pool. q must not be
// shared by concurrent queries.
func WithConn(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, DBConnKey, q)
}

// ConnFromContext retrieves the connection attached with WithConn, or nil.
func ConnFromContext(ctx context.Context) Querier {
	q, _ := ctx.Value(DBConnKey).(Querier)
	return q
}
