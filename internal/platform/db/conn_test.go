package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestConnFromContext_Nil(t *testing.T) {
	if q := ConnFromContext(context.Background()); q != nil {
		t.Errorf("expected nil querier, got %T", q)
	}
}

func TestConnFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not a conn")
	if q := ConnFromContext(ctx); q != nil {
		t.Errorf("expected nil querier for wrong type, got %T", q)
	}
}

func TestWithConn_RoundTrip(t *testing.T) {
	pool := &pgxpool.Pool{}
	ctx := WithConn(context.Background(), pool)
	if got, ok := ConnFromContext(ctx).(*pgxpool.Pool); !ok || got != pool {
		t.Errorf("expected the attached pool back, got %T", ConnFromContext(ctx))
	}
}
