package db

import (
	"context"
	"errors"
	"testing"
)

func TestWithTxCommitsOnSuccess(t *testing.T) {
	fake := NewFakeDatabase()
	var tx *fakeTx
	err := WithTx(context.Background(), fake, nil, func(ctx context.Context, got Tx) error {
		tx = got.(*fakeTx)
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx returned error: %v", err)
	}
	if !tx.committed || tx.rolled {
		t.Fatalf("expected commit, got committed=%v rolled=%v", tx.committed, tx.rolled)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	fake := NewFakeDatabase()
	sentinel := errors.New("boom")
	var tx *fakeTx
	err := WithTx(context.Background(), fake, nil, func(ctx context.Context, got Tx) error {
		tx = got.(*fakeTx)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx error = %v, want %v", err, sentinel)
	}
	if tx.committed || !tx.rolled {
		t.Fatalf("expected rollback, got committed=%v rolled=%v", tx.committed, tx.rolled)
	}
}

func TestWithTxRePanics(t *testing.T) {
	fake := NewFakeDatabase()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic to propagate")
		}
	}()
	_ = WithTx(context.Background(), fake, nil, func(ctx context.Context, tx Tx) error {
		panic("boom")
	})
}
