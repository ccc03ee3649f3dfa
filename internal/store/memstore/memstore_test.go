package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

func TestAtomicRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx store.Tx) error {
		w, err := tx.LockWallet(ctx, "u1")
		require.NoError(t, err)
		require.NoError(t, w.Credit(decimal.NewFromInt(50)))
		require.NoError(t, tx.UpdateWallet(ctx, w))
		require.NoError(t, tx.InsertTransaction(ctx, &models.Transaction{UserID: "u1", Type: models.TxRecharge}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetWallet(ctx, "u1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, s.AllTransactions())
}

func TestAtomicCommits(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		w, err := tx.LockWallet(ctx, "u1")
		if err != nil {
			return err
		}
		if err := w.Credit(decimal.NewFromInt(50)); err != nil {
			return err
		}
		return tx.UpdateWallet(ctx, w)
	}))

	w, err := s.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "50", w.TotalBalance.String())
	assert.True(t, w.Balanced())
}

func TestInsertViewOncePerUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	var first, second bool
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		var err error
		first, err = tx.InsertView(ctx, &models.View{RequestID: "r1", UserID: "u1"})
		if err != nil {
			return err
		}
		second, err = tx.InsertView(ctx, &models.View{RequestID: "r1", UserID: "u1"})
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)
}

func TestHookInjectsFailure(t *testing.T) {
	s := New()
	s.Hook = func(op, key string) error {
		if op == "LockRequest" && key == "bad" {
			return errors.New("injected")
		}
		return nil
	}
	err := s.Atomic(context.Background(), func(tx store.Tx) error {
		_, err := tx.LockRequest(context.Background(), "bad")
		return err
	})
	assert.EqualError(t, err, "injected")
}
