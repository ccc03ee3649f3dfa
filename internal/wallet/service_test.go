package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
	"github.com/sudo-init-do/nearhub/internal/store/memstore"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })
	svc := NewService(st, NewLedger(func() time.Time { return now }), Policy{
		WithdrawalCommissionPct: d("15"),
		MediaCommissionPct:      d("20"),
	})
	return svc, st
}

func fund(t *testing.T, svc *Service, userID, amount string) {
	t.Helper()
	_, err := svc.Recharge(context.Background(), userID, d(amount), "test", "ext-"+userID)
	require.NoError(t, err)
}

func balances(t *testing.T, svc *Service, userID string) (total, withdrawable, frozen string) {
	t.Helper()
	w, err := svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, w.Balanced(), "wallet %s out of balance", userID)
	return w.TotalBalance.StringFixed(2), w.WithdrawableBalance.StringFixed(2), w.FrozenBalance.StringFixed(2)
}

func txsOfType(st *memstore.Store, typ models.TransactionType) []models.Transaction {
	var out []models.Transaction
	for _, rec := range st.AllTransactions() {
		if rec.Type == typ {
			out = append(out, rec)
		}
	}
	return out
}

func TestBalanceCreatesWalletLazily(t *testing.T) {
	svc, _ := newService(t)
	total, withdrawable, frozen := balances(t, svc, "u1")
	assert.Equal(t, "0.00", total)
	assert.Equal(t, "0.00", withdrawable)
	assert.Equal(t, "0.00", frozen)

	ok, err := svc.HasEnoughBalance(context.Background(), "u1", d("1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRechargeWritesCompletedRow(t *testing.T) {
	svc, st := newService(t)
	fund(t, svc, "u1", "50")

	total, withdrawable, _ := balances(t, svc, "u1")
	assert.Equal(t, "50.00", total)
	assert.Equal(t, "50.00", withdrawable)

	rows := txsOfType(st, models.TxRecharge)
	require.Len(t, rows, 1)
	assert.Equal(t, models.TxCompleted, rows[0].Status)
	assert.NotNil(t, rows[0].CompletedAt)
	assert.Equal(t, "test", *rows[0].PaymentGateway)

	_, err := svc.Recharge(context.Background(), "u1", d("0"), "test", "x")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSubCentAmountsRefused(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	fund(t, svc, "alice", "10")

	_, err := svc.Recharge(ctx, "alice", d("0.005"), "test", "x")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.SendTip(ctx, Tip{SenderID: "alice", RecipientID: "bob", Amount: d("0.005")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Withdraw(ctx, "alice", d("1.001"), "bank_transfer")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, withdrawable, _ := balances(t, svc, "alice")
	assert.Equal(t, "10.00", withdrawable)
	assert.Empty(t, txsOfType(st, models.TxTipSent))
	assert.Empty(t, txsOfType(st, models.TxWithdrawal))

	// trailing zeros are still whole cents
	_, err = svc.Recharge(ctx, "alice", d("0.500"), "test", "y")
	assert.NoError(t, err)
}

func TestFreezeReleaseSettle(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	fund(t, svc, "u1", "20")

	_, err := svc.Freeze(ctx, "u1", d("25"), Entry{Type: models.TxRequestPayment})
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	_, err = svc.Freeze(ctx, "u1", d("15"), Entry{Type: models.TxRequestPayment, Status: models.TxPending, RequestID: "r1"})
	require.NoError(t, err)
	total, withdrawable, frozen := balances(t, svc, "u1")
	assert.Equal(t, []string{"20.00", "5.00", "15.00"}, []string{total, withdrawable, frozen})

	_, err = svc.Release(ctx, "u1", d("20"), Entry{Type: models.TxRequestRefund})
	assert.ErrorIs(t, err, apperr.ErrInsufficientFrozen)

	require.NoError(t, svc.Settle(ctx, "u1", d("15"), "r1"))
	total, withdrawable, frozen = balances(t, svc, "u1")
	assert.Equal(t, []string{"5.00", "5.00", "0.00"}, []string{total, withdrawable, frozen})

	payments := txsOfType(st, models.TxRequestPayment)
	require.Len(t, payments, 1)
	assert.Equal(t, models.TxCompleted, payments[0].Status)
}

func TestWithdrawAndApprove(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	fund(t, svc, "u1", "100")

	out, err := svc.Withdraw(ctx, "u1", d("40"), "bank_transfer")
	require.NoError(t, err)
	assert.Equal(t, models.TxPending, out.Withdrawal.Status)
	assert.Equal(t, "34.00", out.Withdrawal.Amount.StringFixed(2))
	assert.Equal(t, "6.00", out.Withdrawal.CommissionAmount.Decimal.StringFixed(2))
	assert.Equal(t, "6.00", out.Commission.Amount.StringFixed(2))

	total, withdrawable, _ := balances(t, svc, "u1")
	assert.Equal(t, "60.00", total)
	assert.Equal(t, "60.00", withdrawable)

	pending, err := svc.PendingWithdrawals(ctx, store.Page{})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	rec, err := svc.ApproveWithdrawal(ctx, out.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxCompleted, rec.Status)
	assert.Equal(t, models.TxCompleted, txsOfType(st, models.TxWithdrawal)[0].Status)

	_, err = svc.ApproveWithdrawal(ctx, out.Withdrawal.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestRejectWithdrawalRestoresFullAmount(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	fund(t, svc, "u1", "100")

	out, err := svc.Withdraw(ctx, "u1", d("40"), "paypal")
	require.NoError(t, err)

	_, err = svc.RejectWithdrawal(ctx, out.Withdrawal.ID)
	require.NoError(t, err)

	total, withdrawable, _ := balances(t, svc, "u1")
	assert.Equal(t, "100.00", total)
	assert.Equal(t, "100.00", withdrawable)
	assert.Equal(t, models.TxFailed, txsOfType(st, models.TxWithdrawal)[0].Status)
	assert.Equal(t, models.TxRefunded, txsOfType(st, models.TxCommission)[0].Status)
}

func TestWithdrawInsufficient(t *testing.T) {
	svc, st := newService(t)
	fund(t, svc, "u1", "10")

	_, err := svc.Withdraw(context.Background(), "u1", d("11"), "paypal")
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Empty(t, txsOfType(st, models.TxWithdrawal))
}

func TestSendTip(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	fund(t, svc, "alice", "30")

	res, err := svc.SendTip(ctx, Tip{SenderID: "alice", RecipientID: "bob", Amount: d("12.5"), Message: "thanks"})
	require.NoError(t, err)
	assert.True(t, res.Debit.Amount.Equal(d("-12.5")))
	assert.True(t, res.Credit.Amount.Equal(d("12.5")))
	assert.Nil(t, res.Commission)

	_, withdrawable, _ := balances(t, svc, "alice")
	assert.Equal(t, "17.50", withdrawable)
	_, withdrawable, _ = balances(t, svc, "bob")
	assert.Equal(t, "12.50", withdrawable)
	assert.Len(t, txsOfType(st, models.TxTipReceived), 1)

	_, err = svc.SendTip(ctx, Tip{SenderID: "alice", RecipientID: "alice", Amount: d("1")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.SendTip(ctx, Tip{SenderID: "alice", RecipientID: "bob", Amount: d("100")})
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
}

func TestPurchaseMediaKeepsCommission(t *testing.T) {
	svc, st := newService(t)
	fund(t, svc, "buyer", "50")

	res, err := svc.PurchaseMedia(context.Background(), MediaPurchase{
		BuyerID: "buyer", SellerID: "seller", Amount: d("10"),
		MessageID: "m1", ConversationID: "c1",
	})
	require.NoError(t, err)
	assert.True(t, res.Debit.Amount.Equal(d("-10")))
	assert.True(t, res.Credit.Amount.Equal(d("8")))
	assert.True(t, res.Commission.Amount.Equal(d("2")))
	assert.Equal(t, "m1", *res.Credit.MessageID)
	assert.Equal(t, "seller", res.Commission.UserID)
	assert.Equal(t, "buyer", *res.Commission.CounterpartyID)

	total, _, _ := balances(t, svc, "buyer")
	assert.Equal(t, "40.00", total)
	total, _, _ = balances(t, svc, "seller")
	assert.Equal(t, "8.00", total)
	assert.Len(t, txsOfType(st, models.TxMediaSale), 1)
}

func TestFailedStepRollsBackTransfer(t *testing.T) {
	svc, st := newService(t)
	fund(t, svc, "alice", "30")
	st.Hook = func(op, key string) error {
		if op == "InsertTransaction" && key == string(models.TxTipReceived) {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := svc.SendTip(context.Background(), Tip{SenderID: "alice", RecipientID: "bob", Amount: d("10")})
	require.Error(t, err)
	st.Hook = nil

	_, withdrawable, _ := balances(t, svc, "alice")
	assert.Equal(t, "30.00", withdrawable)
	assert.Empty(t, txsOfType(st, models.TxTipSent))
}

func TestOpposingTransfersKeepBalances(t *testing.T) {
	svc, _ := newService(t)
	fund(t, svc, "alice", "100")
	fund(t, svc, "bob", "100")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.SendTip(context.Background(), Tip{SenderID: "alice", RecipientID: "bob", Amount: d("1")})
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.SendTip(context.Background(), Tip{SenderID: "bob", RecipientID: "alice", Amount: d("1")})
		}()
	}
	wg.Wait()

	a, _, _ := balances(t, svc, "alice")
	b, _, _ := balances(t, svc, "bob")
	assert.Equal(t, "200.00", d(a).Add(d(b)).StringFixed(2))
}

func TestGrantBonus(t *testing.T) {
	svc, st := newService(t)
	rec, err := svc.GrantBonus(context.Background(), "u1", d("5"), "")
	require.NoError(t, err)
	assert.Equal(t, models.TxBonus, rec.Type)
	assert.Equal(t, "bonus", rec.Description)
	assert.Len(t, txsOfType(st, models.TxBonus), 1)
}
