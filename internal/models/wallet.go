package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/apperr"
)

// Wallet balances always satisfy TotalBalance = WithdrawableBalance + FrozenBalance.
type Wallet struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	TotalBalance        decimal.Decimal `json:"total_balance"`
	WithdrawableBalance decimal.Decimal `json:"withdrawable_balance"`
	FrozenBalance       decimal.Decimal `json:"frozen_balance"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Balanced reports whether the wallet invariant holds.
func (w *Wallet) Balanced() bool {
	return w.TotalBalance.Equal(w.WithdrawableBalance.Add(w.FrozenBalance)) &&
		!w.WithdrawableBalance.IsNegative() && !w.FrozenBalance.IsNegative()
}

func (w *Wallet) HasEnough(amount decimal.Decimal) bool {
	return w.WithdrawableBalance.GreaterThanOrEqual(amount)
}

// Freeze moves amount from withdrawable to frozen.
func (w *Wallet) Freeze(amount decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	if !w.HasEnough(amount) {
		return fmt.Errorf("%w: need %s, have %s", apperr.ErrInsufficientBalance, amount, w.WithdrawableBalance)
	}
	w.WithdrawableBalance = w.WithdrawableBalance.Sub(amount)
	w.FrozenBalance = w.FrozenBalance.Add(amount)
	return nil
}

// Release moves amount from frozen back to withdrawable.
func (w *Wallet) Release(amount decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	if w.FrozenBalance.LessThan(amount) {
		return fmt.Errorf("%w: need %s, frozen %s", apperr.ErrInsufficientFrozen, amount, w.FrozenBalance)
	}
	w.FrozenBalance = w.FrozenBalance.Sub(amount)
	w.WithdrawableBalance = w.WithdrawableBalance.Add(amount)
	return nil
}

// Settle removes amount from frozen and from total: the escrow has been paid out.
func (w *Wallet) Settle(amount decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	if w.FrozenBalance.LessThan(amount) {
		return fmt.Errorf("%w: need %s, frozen %s", apperr.ErrInsufficientFrozen, amount, w.FrozenBalance)
	}
	w.FrozenBalance = w.FrozenBalance.Sub(amount)
	w.TotalBalance = w.TotalBalance.Sub(amount)
	return nil
}

func (w *Wallet) Credit(amount decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	w.TotalBalance = w.TotalBalance.Add(amount)
	w.WithdrawableBalance = w.WithdrawableBalance.Add(amount)
	return nil
}

func (w *Wallet) Debit(amount decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	if !w.HasEnough(amount) {
		return fmt.Errorf("%w: need %s, have %s", apperr.ErrInsufficientBalance, amount, w.WithdrawableBalance)
	}
	w.TotalBalance = w.TotalBalance.Sub(amount)
	w.WithdrawableBalance = w.WithdrawableBalance.Sub(amount)
	return nil
}

func positive(amount decimal.Decimal) error {
	return ValidAmount(amount)
}

// ValidAmount accepts positive amounts in whole cents. Balances are stored as
// NUMERIC(12,2), so a finer amount would be rounded differently on each side.
func ValidAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Validation("amount must be positive, got %s", amount)
	}
	if !amount.Equal(amount.Round(2)) {
		return apperr.Validation("amount must have at most 2 decimal places, got %s", amount)
	}
	return nil
}

type TransactionType string

const (
	TxRecharge       TransactionType = "RECHARGE"
	TxWithdrawal     TransactionType = "WITHDRAWAL"
	TxRequestPayment TransactionType = "REQUEST_PAYMENT"
	TxRequestEarning TransactionType = "REQUEST_EARNING"
	TxRequestRefund  TransactionType = "REQUEST_REFUND"
	TxCommission     TransactionType = "COMMISSION"
	TxBonus          TransactionType = "BONUS"
	TxTipSent        TransactionType = "TIP_SENT"
	TxTipReceived    TransactionType = "TIP_RECEIVED"
	TxMediaPurchase  TransactionType = "MEDIA_PURCHASE"
	TxMediaSale      TransactionType = "MEDIA_SALE"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
	TxRefunded  TransactionStatus = "REFUNDED"
)

// Transaction is an append-only ledger entry. Only Status and CompletedAt change after insert.
type Transaction struct {
	ID                    string              `json:"id"`
	WalletID              string              `json:"wallet_id"`
	UserID                string              `json:"user_id"`
	Type                  TransactionType     `json:"type"`
	Amount                decimal.Decimal     `json:"amount"`
	CommissionAmount      decimal.NullDecimal `json:"commission_amount"`
	CommissionPercentage  decimal.NullDecimal `json:"commission_percentage"`
	RequestID             *string             `json:"request_id,omitempty"`
	CounterpartyID        *string             `json:"counterparty_id,omitempty"`
	MessageID             *string             `json:"message_id,omitempty"`
	ConversationID        *string             `json:"conversation_id,omitempty"`
	PaymentGateway        *string             `json:"payment_gateway,omitempty"`
	ExternalTransactionID *string             `json:"external_transaction_id,omitempty"`
	Description           string              `json:"description"`
	Status                TransactionStatus   `json:"status"`
	CreatedAt             time.Time           `json:"created_at"`
	CompletedAt           *time.Time          `json:"completed_at,omitempty"`
}
