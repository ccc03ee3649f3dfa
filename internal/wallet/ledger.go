package wallet

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/metrics"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Ledger applies balance mutations inside a caller's transaction. Each mutation
// locks the wallet, checks the precondition, persists the new balances and
// appends one ledger row.
type Ledger struct {
	now func() time.Time
}

func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// Entry describes the ledger row written alongside a mutation. Amount is filled
// from the mutated amount when left zero. Status defaults to COMPLETED. An Entry
// without a Type writes no row; the caller records the movement by changing the
// status of an existing one.
type Entry struct {
	Type                 models.TransactionType
	Status               models.TransactionStatus
	Amount               decimal.Decimal
	CommissionAmount     decimal.NullDecimal
	CommissionPercentage decimal.NullDecimal
	RequestID            string
	CounterpartyID       string
	MessageID            string
	ConversationID       string
	PaymentGateway       string
	ExternalID           string
	Description          string
}

type mutation func(w *models.Wallet, amount decimal.Decimal) error

func (l *Ledger) Freeze(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, e Entry) (*models.Transaction, error) {
	return l.apply(ctx, tx, "freeze", userID, amount, e, (*models.Wallet).Freeze)
}

func (l *Ledger) Release(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, e Entry) (*models.Transaction, error) {
	return l.apply(ctx, tx, "release", userID, amount, e, (*models.Wallet).Release)
}

func (l *Ledger) Credit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, e Entry) (*models.Transaction, error) {
	return l.apply(ctx, tx, "credit", userID, amount, e, (*models.Wallet).Credit)
}

func (l *Ledger) Debit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, e Entry) (*models.Transaction, error) {
	return l.apply(ctx, tx, "debit", userID, amount, e, (*models.Wallet).Debit)
}

// Settle pays an escrowed amount out of the user's frozen balance. Instead of a
// new row it completes the pending REQUEST_PAYMENT rows of requestID.
func (l *Ledger) Settle(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, requestID string) (err error) {
	defer func() { metrics.RecordLedgerOp("settle", err) }()

	w, err := tx.LockWallet(ctx, userID)
	if err != nil {
		return err
	}
	if err = w.Settle(amount); err != nil {
		return err
	}
	now := l.now()
	w.UpdatedAt = now
	if err = tx.UpdateWallet(ctx, w); err != nil {
		return err
	}
	_, err = tx.SetTransactionStatus(ctx, store.TxMatch{
		RequestID: requestID,
		Type:      models.TxRequestPayment,
		From:      models.TxPending,
	}, models.TxCompleted, now)
	return err
}

func (l *Ledger) apply(ctx context.Context, tx store.Tx, op, userID string, amount decimal.Decimal, e Entry, fn mutation) (rec *models.Transaction, err error) {
	defer func() { metrics.RecordLedgerOp(op, err) }()

	w, err := tx.LockWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err = fn(w, amount); err != nil {
		return nil, err
	}
	now := l.now()
	w.UpdatedAt = now
	if err = tx.UpdateWallet(ctx, w); err != nil {
		return nil, err
	}

	if e.Type == "" {
		return nil, nil
	}
	rec = l.record(w, amount, e, now)
	if err = tx.InsertTransaction(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *Ledger) record(w *models.Wallet, amount decimal.Decimal, e Entry, now time.Time) *models.Transaction {
	rec := &models.Transaction{
		ID:                    uuid.NewString(),
		WalletID:              w.ID,
		UserID:                w.UserID,
		Type:                  e.Type,
		Amount:                e.Amount,
		CommissionAmount:      e.CommissionAmount,
		CommissionPercentage:  e.CommissionPercentage,
		RequestID:             optional(e.RequestID),
		CounterpartyID:        optional(e.CounterpartyID),
		MessageID:             optional(e.MessageID),
		ConversationID:        optional(e.ConversationID),
		PaymentGateway:        optional(e.PaymentGateway),
		ExternalTransactionID: optional(e.ExternalID),
		Description:           e.Description,
		Status:                e.Status,
		CreatedAt:             now,
	}
	if rec.Amount.IsZero() {
		rec.Amount = signed(e.Type, amount)
	}
	if rec.Status == "" {
		rec.Status = models.TxCompleted
	}
	if rec.Status == models.TxCompleted {
		rec.CompletedAt = &now
	}
	return rec
}

// signed applies the sign convention of outgoing payments: rows that represent
// money leaving the wallet towards another user are stored negative.
func signed(t models.TransactionType, amount decimal.Decimal) decimal.Decimal {
	switch t {
	case models.TxTipSent, models.TxMediaPurchase:
		return amount.Neg()
	}
	return amount
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Transfer moves Amount from Payer to Payee, keeping CommissionPct of it as
// platform commission.
type Transfer struct {
	PayerID        string
	PayeeID        string
	Amount         decimal.Decimal
	CommissionPct  decimal.Decimal
	DebitType      models.TransactionType
	CreditType     models.TransactionType
	RequestID      string
	MessageID      string
	ConversationID string
	Description    string
}

type TransferResult struct {
	Debit      *models.Transaction `json:"debit"`
	Credit     *models.Transaction `json:"credit"`
	Commission *models.Transaction `json:"commission,omitempty"`
}

// Commission returns amount*pct/100 rounded to cents.
func Commission(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Round(2)
}

// Transfer locks both wallets in user id order before touching either, so two
// opposing transfers cannot deadlock.
func (l *Ledger) Transfer(ctx context.Context, tx store.Tx, t Transfer) (*TransferResult, error) {
	if t.PayerID == t.PayeeID {
		return nil, apperr.Validation("cannot transfer to yourself")
	}
	if err := models.ValidAmount(t.Amount); err != nil {
		return nil, err
	}

	ids := []string{t.PayerID, t.PayeeID}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := tx.LockWallet(ctx, id); err != nil {
			return nil, err
		}
	}

	commission := Commission(t.Amount, t.CommissionPct)
	net := t.Amount.Sub(commission)

	res := &TransferResult{}
	var err error
	res.Debit, err = l.Debit(ctx, tx, t.PayerID, t.Amount, Entry{
		Type:           t.DebitType,
		RequestID:      t.RequestID,
		CounterpartyID: t.PayeeID,
		MessageID:      t.MessageID,
		ConversationID: t.ConversationID,
		Description:    t.Description,
	})
	if err != nil {
		return nil, err
	}

	if net.IsPositive() {
		credit := Entry{
			Type:           t.CreditType,
			RequestID:      t.RequestID,
			CounterpartyID: t.PayerID,
			MessageID:      t.MessageID,
			ConversationID: t.ConversationID,
			Description:    t.Description,
		}
		if commission.IsPositive() {
			credit.CommissionAmount = decimal.NewNullDecimal(commission)
			credit.CommissionPercentage = decimal.NewNullDecimal(t.CommissionPct)
		}
		if res.Credit, err = l.Credit(ctx, tx, t.PayeeID, net, credit); err != nil {
			return nil, err
		}
	}

	if commission.IsPositive() {
		// booked against the payee, whose credit the commission was withheld from
		w, err := tx.LockWallet(ctx, t.PayeeID)
		if err != nil {
			return nil, err
		}
		res.Commission = l.record(w, commission, Entry{
			Type:                 models.TxCommission,
			CommissionPercentage: decimal.NewNullDecimal(t.CommissionPct),
			CounterpartyID:       t.PayerID,
			MessageID:            t.MessageID,
			Description:          "platform commission",
		}, l.now())
		if err := tx.InsertTransaction(ctx, res.Commission); err != nil {
			return nil, err
		}
	}
	return res, nil
}
