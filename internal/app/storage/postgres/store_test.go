package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func TestRunInTransactionJoinsEnclosingTransaction(t *testing.T) {
	s := &Store{}
	tx := &sql.Tx{}
	ctx := context.WithValue(context.Background(), txKey{}, tx)

	var inner querier
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		inner = s.q(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("nested run: %v", err)
	}
	if inner != querier(tx) {
		t.Fatalf("nested call did not join the enclosing transaction")
	}
}

func TestRunInTransactionNestedPropagatesError(t *testing.T) {
	s := &Store{}
	ctx := context.WithValue(context.Background(), txKey{}, &sql.Tx{})

	want := errors.New("write failed")
	err := s.RunInTransaction(ctx, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("error: got %v, want %v", err, want)
	}
}

func TestQuerierFallsBackToPool(t *testing.T) {
	db := &sql.DB{}
	s := &Store{db: db}

	if got := s.q(context.Background()); got != querier(db) {
		t.Fatalf("querier without transaction: got %T, want the pool", got)
	}
}
