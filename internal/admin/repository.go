// Package admin holds the moderation and reporting read models. Queries run
// on sqlx because they map straight onto flat row structs.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type Stats struct {
	Users              int             `json:"users" db:"users"`
	ActiveUsers        int             `json:"active_users" db:"active_users"`
	Requests           int             `json:"requests" db:"requests"`
	OpenReports        int             `json:"open_reports" db:"open_reports"`
	PendingWithdrawals int             `json:"pending_withdrawals" db:"pending_withdrawals"`
	TotalBalance       decimal.Decimal `json:"total_balance" db:"total_balance"`
	FrozenBalance      decimal.Decimal `json:"frozen_balance" db:"frozen_balance"`
	CommissionEarned   decimal.Decimal `json:"commission_earned" db:"commission_earned"`

	RequestsByStatus map[string]int `json:"requests_by_status" db:"-"`
}

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := r.db.GetContext(ctx, &s, `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM users WHERE is_active) AS active_users,
			(SELECT COUNT(*) FROM requests) AS requests,
			(SELECT COUNT(*) FROM request_reports WHERE status IN ('PENDING', 'REVIEWING')) AS open_reports,
			(SELECT COUNT(*) FROM transactions WHERE type = 'WITHDRAWAL' AND status = 'PENDING') AS pending_withdrawals,
			(SELECT COALESCE(SUM(total_balance), 0) FROM wallets) AS total_balance,
			(SELECT COALESCE(SUM(frozen_balance), 0) FROM wallets) AS frozen_balance,
			(SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = 'COMMISSION' AND status = 'COMPLETED') AS commission_earned`)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM requests GROUP BY status`); err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	s.RequestsByStatus = make(map[string]int, len(rows))
	for _, row := range rows {
		s.RequestsByStatus[row.Status] = row.N
	}
	return &s, nil
}

type UserRow struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Email           string          `json:"email" db:"email"`
	Role            string          `json:"role" db:"role"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	ReputationStars decimal.Decimal `json:"reputation_stars" db:"reputation_stars"`
	ReportsAgainst  int             `json:"reports_against" db:"reports_against"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

func (r *Repository) ListUsers(ctx context.Context, page store.Page) ([]UserRow, error) {
	page = page.Normalize()
	var users []UserRow
	err := r.db.SelectContext(ctx, &users, `
		SELECT u.id, u.name, u.email, u.role, u.is_active, u.reputation_stars,
		       (SELECT COUNT(*) FROM request_reports rr WHERE rr.reported_user_id = u.id) AS reports_against,
		       u.created_at
		FROM users u
		ORDER BY u.created_at DESC
		LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
	return users, err
}

func (r *Repository) SetUserActive(ctx context.Context, userID string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_active = $1 WHERE id = $2`, active, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	return nil
}

const reportColumns = `id, request_id, reporter_id, reported_user_id, report_type, description, status,
	action_taken, resolution_notes, resolved_by, resolved_at, created_at`

// ListReports returns reports oldest first so the queue is worked in order.
// An empty status lists every open report.
func (r *Repository) ListReports(ctx context.Context, status models.ReportStatus, page store.Page) ([]models.Report, error) {
	page = page.Normalize()
	var reports []models.Report
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &reports, `SELECT `+reportColumns+` FROM request_reports
			WHERE status IN ('PENDING', 'REVIEWING')
			ORDER BY created_at ASC LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
	} else {
		err = r.db.SelectContext(ctx, &reports, `SELECT `+reportColumns+` FROM request_reports
			WHERE status = $1
			ORDER BY created_at ASC LIMIT $2 OFFSET $3`, string(status), page.Limit, page.Offset)
	}
	return reports, err
}

// MarkReviewing moves a PENDING report to REVIEWING.
func (r *Repository) MarkReviewing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE request_reports SET status = 'REVIEWING' WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: report %s is not pending", apperr.ErrInvalidState, id)
	}
	return nil
}

type Resolution struct {
	ReportID string
	AdminID  string
	Status   models.ReportStatus
	Action   models.ReportAction
	Note     string
	At       time.Time
}

// deactivates reports whether an action takes the reported user offline.
func deactivates(a models.ReportAction) bool {
	return a == models.ActionUserSuspended || a == models.ActionUserBanned
}

// ResolveReport closes an open report and applies account actions in the same transaction.
func (r *Repository) ResolveReport(ctx context.Context, res Resolution) (*models.Report, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var rep models.Report
	err = tx.GetContext(ctx, &rep, `
		UPDATE request_reports
		SET status = $1, action_taken = $2, resolution_notes = NULLIF($3, ''), resolved_by = $4, resolved_at = $5
		WHERE id = $6 AND status IN ('PENDING', 'REVIEWING')
		RETURNING `+reportColumns,
		string(res.Status), string(res.Action), res.Note, res.AdminID, res.At, res.ReportID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: report %s is missing or already closed", apperr.ErrInvalidState, res.ReportID)
	}
	if err != nil {
		return nil, err
	}

	if deactivates(res.Action) {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET is_active = FALSE WHERE id = $1`, rep.ReportedUserID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &rep, nil
}

type WalletRow struct {
	UserID              string          `json:"user_id" db:"user_id"`
	Name                string          `json:"name" db:"name"`
	TotalBalance        decimal.Decimal `json:"total_balance" db:"total_balance"`
	WithdrawableBalance decimal.Decimal `json:"withdrawable_balance" db:"withdrawable_balance"`
	FrozenBalance       decimal.Decimal `json:"frozen_balance" db:"frozen_balance"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// ListWallets returns the largest balances first.
func (r *Repository) ListWallets(ctx context.Context, page store.Page) ([]WalletRow, error) {
	page = page.Normalize()
	var wallets []WalletRow
	err := r.db.SelectContext(ctx, &wallets, `
		SELECT w.user_id, u.name, w.total_balance, w.withdrawable_balance, w.frozen_balance, w.updated_at
		FROM wallets w
		JOIN users u ON u.id = w.user_id
		ORDER BY w.total_balance DESC
		LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
	return wallets, err
}
