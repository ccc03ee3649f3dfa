package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

// Policy holds the commission rates, in percent, charged outside request settlement.
type Policy struct {
	WithdrawalCommissionPct decimal.Decimal
	MediaCommissionPct      decimal.Decimal
}

type Service struct {
	store  store.Store
	ledger *Ledger
	policy Policy
	log    *logrus.Entry
}

func NewService(st store.Store, ledger *Ledger, policy Policy) *Service {
	return &Service{
		store:  st,
		ledger: ledger,
		policy: policy,
		log:    logger.Component("wallet"),
	}
}

func (s *Service) Ledger() *Ledger { return s.ledger }

// GetOrCreate returns the user's wallet, creating an empty one on first use.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*models.Wallet, error) {
	var w *models.Wallet
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		w, err = tx.LockWallet(ctx, userID)
		return err
	})
	return w, err
}

func (s *Service) Balance(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return s.GetOrCreate(ctx, userID)
	}
	return w, err
}

// HasEnoughBalance is a best-effort read. The mutating call is what enforces it.
func (s *Service) HasEnoughBalance(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return w.HasEnough(amount), nil
}

func (s *Service) History(ctx context.Context, userID string, page store.Page) ([]models.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, page.Normalize())
}

func (s *Service) PendingWithdrawals(ctx context.Context, page store.Page) ([]models.Transaction, error) {
	return s.store.ListTransactionsByStatus(ctx, models.TxWithdrawal, models.TxPending, page.Normalize())
}

// The primitives below each run in their own transaction. Flows that combine
// several movements call the Ledger directly inside one Atomic.

func (s *Service) Freeze(ctx context.Context, userID string, amount decimal.Decimal, e Entry) (rec *models.Transaction, err error) {
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		rec, err = s.ledger.Freeze(ctx, tx, userID, amount, e)
		return err
	})
	return rec, err
}

func (s *Service) Release(ctx context.Context, userID string, amount decimal.Decimal, e Entry) (rec *models.Transaction, err error) {
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		rec, err = s.ledger.Release(ctx, tx, userID, amount, e)
		return err
	})
	return rec, err
}

func (s *Service) Settle(ctx context.Context, userID string, amount decimal.Decimal, requestID string) error {
	return s.store.Atomic(ctx, func(tx store.Tx) error {
		return s.ledger.Settle(ctx, tx, userID, amount, requestID)
	})
}

func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, e Entry) (rec *models.Transaction, err error) {
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		rec, err = s.ledger.Credit(ctx, tx, userID, amount, e)
		return err
	})
	return rec, err
}

func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, e Entry) (rec *models.Transaction, err error) {
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		rec, err = s.ledger.Debit(ctx, tx, userID, amount, e)
		return err
	})
	return rec, err
}

func (s *Service) Transfer(ctx context.Context, t Transfer) (res *TransferResult, err error) {
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		res, err = s.ledger.Transfer(ctx, tx, t)
		return err
	})
	return res, err
}

// Recharge credits money paid in through an external gateway.
func (s *Service) Recharge(ctx context.Context, userID string, amount decimal.Decimal, gateway, externalID string) (*models.Transaction, error) {
	rec, err := s.Credit(ctx, userID, amount, Entry{
		Type:           models.TxRecharge,
		PaymentGateway: gateway,
		ExternalID:     externalID,
		Description:    fmt.Sprintf("recharge of %s via %s", amount.StringFixed(2), gateway),
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "amount": amount.String(), "gateway": gateway}).Info("wallet recharged")
	return rec, nil
}

type Withdrawal struct {
	Withdrawal *models.Transaction `json:"withdrawal"`
	Commission *models.Transaction `json:"commission"`
}

// Withdraw debits the full amount now and leaves a PENDING WITHDRAWAL row for
// the net payout, which an admin later approves or rejects.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, method string) (*Withdrawal, error) {
	if err := models.ValidAmount(amount); err != nil {
		return nil, err
	}
	commission := Commission(amount, s.policy.WithdrawalCommissionPct)
	net := amount.Sub(commission)
	out := &Withdrawal{}

	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		out.Withdrawal, err = s.ledger.Debit(ctx, tx, userID, amount, Entry{
			Type:                 models.TxWithdrawal,
			Status:               models.TxPending,
			Amount:               net,
			CommissionAmount:     decimal.NewNullDecimal(commission),
			CommissionPercentage: decimal.NewNullDecimal(s.policy.WithdrawalCommissionPct),
			Description:          fmt.Sprintf("withdrawal of %s via %s", amount.StringFixed(2), method),
		})
		if err != nil {
			return err
		}
		if !commission.IsPositive() {
			return nil
		}

		w, err := tx.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		out.Commission = s.ledger.record(w, commission, Entry{
			Type:        models.TxCommission,
			ExternalID:  out.Withdrawal.ID,
			Description: fmt.Sprintf("withdrawal commission (%s%%)", s.policy.WithdrawalCommissionPct),
		}, s.ledger.now())
		return tx.InsertTransaction(ctx, out.Commission)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"amount":  amount.String(),
		"net":     net.String(),
	}).Info("withdrawal requested")
	return out, nil
}

func (s *Service) ApproveWithdrawal(ctx context.Context, id string) (*models.Transaction, error) {
	var rec *models.Transaction
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if rec, err = lockPendingWithdrawal(ctx, tx, id); err != nil {
			return err
		}
		now := s.ledger.now()
		if _, err = tx.SetTransactionStatus(ctx, store.TxMatch{ID: id, Type: models.TxWithdrawal, From: models.TxPending}, models.TxCompleted, now); err != nil {
			return err
		}
		rec.Status = models.TxCompleted
		rec.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("withdrawal_id", id).Info("withdrawal approved")
	return rec, nil
}

// RejectWithdrawal fails the payout, refunds its commission and restores the
// full debited amount to the wallet.
func (s *Service) RejectWithdrawal(ctx context.Context, id string) (*models.Transaction, error) {
	var rec *models.Transaction
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if rec, err = lockPendingWithdrawal(ctx, tx, id); err != nil {
			return err
		}
		now := s.ledger.now()
		if _, err = tx.SetTransactionStatus(ctx, store.TxMatch{ID: id, Type: models.TxWithdrawal, From: models.TxPending}, models.TxFailed, now); err != nil {
			return err
		}
		if _, err = tx.SetTransactionStatus(ctx, store.TxMatch{ExternalID: id, Type: models.TxCommission, From: models.TxCompleted}, models.TxRefunded, now); err != nil {
			return err
		}

		full := rec.Amount
		if rec.CommissionAmount.Valid {
			full = full.Add(rec.CommissionAmount.Decimal)
		}
		if _, err = s.ledger.Credit(ctx, tx, rec.UserID, full, Entry{}); err != nil {
			return err
		}
		rec.Status = models.TxFailed
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("withdrawal_id", id).Info("withdrawal rejected")
	return rec, nil
}

func lockPendingWithdrawal(ctx context.Context, tx store.Tx, id string) (*models.Transaction, error) {
	rec, err := tx.LockTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Type != models.TxWithdrawal {
		return nil, fmt.Errorf("%w: transaction %s is not a withdrawal", apperr.ErrNotFound, id)
	}
	if rec.Status != models.TxPending {
		return nil, fmt.Errorf("%w: withdrawal is %s", apperr.ErrInvalidState, rec.Status)
	}
	return rec, nil
}

type Tip struct {
	SenderID    string
	RecipientID string
	Amount      decimal.Decimal
	RequestID   string
	Message     string
}

func (s *Service) SendTip(ctx context.Context, t Tip) (*TransferResult, error) {
	desc := "tip"
	if t.Message != "" {
		desc = "tip: " + t.Message
	}
	res, err := s.Transfer(ctx, Transfer{
		PayerID:     t.SenderID,
		PayeeID:     t.RecipientID,
		Amount:      t.Amount,
		DebitType:   models.TxTipSent,
		CreditType:  models.TxTipReceived,
		RequestID:   t.RequestID,
		Description: desc,
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"from": t.SenderID, "to": t.RecipientID, "amount": t.Amount.String()}).Info("tip sent")
	return res, nil
}

type MediaPurchase struct {
	BuyerID        string
	SellerID       string
	Amount         decimal.Decimal
	MessageID      string
	ConversationID string
}

func (s *Service) PurchaseMedia(ctx context.Context, p MediaPurchase) (*TransferResult, error) {
	res, err := s.Transfer(ctx, Transfer{
		PayerID:        p.BuyerID,
		PayeeID:        p.SellerID,
		Amount:         p.Amount,
		CommissionPct:  s.policy.MediaCommissionPct,
		DebitType:      models.TxMediaPurchase,
		CreditType:     models.TxMediaSale,
		MessageID:      p.MessageID,
		ConversationID: p.ConversationID,
		Description:    "media purchase",
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"buyer": p.BuyerID, "seller": p.SellerID, "message_id": p.MessageID}).Info("media purchased")
	return res, nil
}

func (s *Service) GrantBonus(ctx context.Context, userID string, amount decimal.Decimal, reason string) (*models.Transaction, error) {
	if reason == "" {
		reason = "bonus"
	}
	rec, err := s.Credit(ctx, userID, amount, Entry{Type: models.TxBonus, Description: reason})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "amount": amount.String(), "reason": reason}).Info("bonus granted")
	return rec, nil
}
