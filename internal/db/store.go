package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

// Store is the Postgres store.Store. Atomic runs one pgx transaction and the
// Tx Lock* methods take row locks with SELECT ... FOR UPDATE.
type Store struct {
	db  DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func NewStore(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// querier is what both the pool and a pgx.Tx offer.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&pgTx{tx: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", apperr.ErrNotFound, what, id)
	}
	return err
}

// =========================
// Wallets and ledger rows
// =========================

const walletColumns = `id, user_id, total_balance, withdrawable_balance, frozen_balance, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.TotalBalance, &w.WithdrawableBalance, &w.FrozenBalance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "wallet for user", userID)
	}
	return w, nil
}

const txColumns = `id, wallet_id, user_id, type, amount, commission_amount, commission_percentage,
	request_id, counterparty_id, message_id, conversation_id, payment_gateway, external_transaction_id,
	description, status, created_at, completed_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var typ, status string
	err := row.Scan(&t.ID, &t.WalletID, &t.UserID, &typ, &t.Amount, &t.CommissionAmount, &t.CommissionPercentage,
		&t.RequestID, &t.CounterpartyID, &t.MessageID, &t.ConversationID, &t.PaymentGateway, &t.ExternalTransactionID,
		&t.Description, &status, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(typ)
	t.Status = models.TransactionStatus(status)
	return &t, nil
}

func collectTransactions(rows pgx.Rows, err error) ([]models.Transaction, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, userID string, page store.Page) ([]models.Transaction, error) {
	page = page.Normalize()
	return collectTransactions(s.db.Query(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset))
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, typ models.TransactionType, status models.TransactionStatus, page store.Page) ([]models.Transaction, error) {
	page = page.Normalize()
	return collectTransactions(s.db.Query(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE type = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, string(typ), string(status), page.Limit, page.Offset))
}

// =========================
// Requests
// =========================

const requestColumns = `id, requester_id, responder_id, latitude, longitude, location_address, location_reference,
	radius_meters, description, content_type, max_duration_minutes, expires_at, trust_mode, min_reputation_stars,
	trust_mode_expires_at, reward_nears, commission_percentage, commission_amount, final_reward, status,
	accepted_at, accept_deadline_at, delivered_at, completed_at, cancelled_at, cancelled_by, cancellation_reason,
	requester_rating, requester_review, requester_rated_at, responder_rating, responder_review, responder_rated_at,
	is_anonymous_requester, view_count, created_at, updated_at`

func scanRequest(row pgx.Row) (*models.Request, error) {
	var r models.Request
	var contentType, trustMode, status string
	err := row.Scan(
		&r.ID, &r.RequesterID, &r.ResponderID, &r.Latitude, &r.Longitude, &r.LocationAddress, &r.LocationReference,
		&r.RadiusMeters, &r.Description, &contentType, &r.MaxDurationMinutes, &r.ExpiresAt, &trustMode, &r.MinReputationStars,
		&r.TrustModeExpiresAt, &r.RewardNears, &r.CommissionPercentage, &r.CommissionAmount, &r.FinalReward, &status,
		&r.AcceptedAt, &r.AcceptDeadlineAt, &r.DeliveredAt, &r.CompletedAt, &r.CancelledAt, &r.CancelledBy, &r.CancellationReason,
		&r.RequesterRating, &r.RequesterReview, &r.RequesterRatedAt, &r.ResponderRating, &r.ResponderReview, &r.ResponderRatedAt,
		&r.IsAnonymousRequester, &r.ViewCount, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ContentType = models.ContentType(contentType)
	r.TrustMode = models.TrustMode(trustMode)
	r.Status = models.RequestStatus(status)
	return &r, nil
}

func collectRequests(rows pgx.Rows, err error) ([]models.Request, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func collectIDs(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func statusStrings(list []models.RequestStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func (s *Store) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "request", id)
	}
	return r, nil
}

func (s *Store) ListMedia(ctx context.Context, requestID string) ([]models.Media, error) {
	return listMedia(ctx, s.db, requestID)
}

func (s *Store) ListRequests(ctx context.Context, f store.RequestFilter) ([]models.Request, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.RequesterID != "" {
		add("requester_id = $%d", f.RequesterID)
	}
	if f.ResponderID != "" {
		add("responder_id = $%d", f.ResponderID)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(f.Statuses))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM requests %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		requestColumns, where, len(args)-1, len(args))
	return collectRequests(s.db.Query(ctx, sql, args...))
}

func (s *Store) ListOpenInBox(ctx context.Context, q store.BoxQuery) ([]models.Request, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	return collectRequests(s.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE status = 'PENDING'
		  AND expires_at > $1
		  AND requester_id <> $2
		  AND latitude BETWEEN $3 AND $4
		  AND longitude BETWEEN $5 AND $6
		ORDER BY created_at DESC
		LIMIT $7`, q.Now, q.ExcludeUser, q.MinLat, q.MaxLat, q.MinLng, q.MaxLng, limit))
}

func (s *Store) ListDue(ctx context.Context, q store.DueQuery) ([]string, error) {
	var column string
	switch q.Deadline {
	case store.DeadlineExpires:
		column = "expires_at"
	case store.DeadlineAccept:
		column = "accept_deadline_at"
	default:
		return nil, fmt.Errorf("unknown deadline %q", q.Deadline)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	sql := fmt.Sprintf(`
		SELECT id FROM requests
		WHERE status = ANY($1) AND %[1]s IS NOT NULL AND %[1]s < $2
		ORDER BY %[1]s
		LIMIT $3`, column)
	return collectIDs(s.db.Query(ctx, sql, statusStrings(q.Statuses), q.Before, limit))
}

func (s *Store) ListUnrefunded(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	return collectIDs(s.db.Query(ctx, `
		SELECT r.id FROM requests r
		WHERE r.status = 'EXPIRED'
		  AND r.updated_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.request_id = r.id AND t.type = 'REQUEST_REFUND'
		  )
		ORDER BY r.id
		LIMIT $2`, before, limit))
}

// =========================
// Users
// =========================

const userColumns = `id, name, email, password, role, bio, avatar_url, reputation_stars, total_ratings_received, is_active, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.Role, &u.Bio, &u.AvatarURL,
		&u.ReputationStars, &u.TotalRatingsReceived, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func listMedia(ctx context.Context, q querier, requestID string) ([]models.Media, error) {
	rows, err := q.Query(ctx, `
		SELECT id, request_id, media_type, url, thumbnail_url, public_id, file_size_bytes, width, height,
		       duration_seconds, capture_latitude, capture_longitude, capture_timestamp, device_info,
		       is_verified, created_at
		FROM request_media
		WHERE request_id = $1
		ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Media
	for rows.Next() {
		var m models.Media
		var mediaType string
		if err := rows.Scan(&m.ID, &m.RequestID, &mediaType, &m.URL, &m.ThumbnailURL, &m.PublicID,
			&m.FileSizeBytes, &m.Width, &m.Height, &m.DurationSeconds, &m.CaptureLatitude, &m.CaptureLongitude,
			&m.CaptureTimestamp, &m.DeviceInfo, &m.IsVerified, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.MediaType = models.MediaType(mediaType)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =========================
// Tx
// =========================

type pgTx struct {
	tx  pgx.Tx
	now func() time.Time
}

func (t *pgTx) LockWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	w, err := scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, notFound(err, "wallet for user", userID)
	}
	return w, nil
}

func (t *pgTx) UpdateWallet(ctx context.Context, w *models.Wallet) error {
	w.UpdatedAt = t.now()
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets
		SET total_balance = $1, withdrawable_balance = $2, frozen_balance = $3, updated_at = $4
		WHERE user_id = $5`,
		w.TotalBalance, w.WithdrawableBalance, w.FrozenBalance, w.UpdatedAt, w.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet for user %s", apperr.ErrNotFound, w.UserID)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, rec *models.Transaction) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rec.ID, rec.WalletID, rec.UserID, string(rec.Type), rec.Amount, rec.CommissionAmount, rec.CommissionPercentage,
		rec.RequestID, rec.CounterpartyID, rec.MessageID, rec.ConversationID, rec.PaymentGateway, rec.ExternalTransactionID,
		rec.Description, string(rec.Status), rec.CreatedAt, rec.CompletedAt)
	return err
}

func (t *pgTx) LockTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	rec, err := scanTransaction(t.tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return rec, nil
}

func (t *pgTx) SetTransactionStatus(ctx context.Context, m store.TxMatch, to models.TransactionStatus, at time.Time) (int64, error) {
	if m.ID == "" && m.RequestID == "" && m.ExternalID == "" {
		return 0, errors.New("transaction match needs an id, request id or external id")
	}
	args := []any{string(to), at, string(m.From)}
	conds := []string{"status = $3"}
	add := func(column, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("id", m.ID)
	add("request_id", m.RequestID)
	add("external_transaction_id", m.ExternalID)
	add("type", string(m.Type))

	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions
		SET status = $1, completed_at = CASE WHEN $1 = 'COMPLETED' THEN $2 ELSE completed_at END
		WHERE `+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) HasTransaction(ctx context.Context, requestID string, typ models.TransactionType) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE request_id = $1 AND type = $2)`,
		requestID, string(typ)).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertRequest(ctx context.Context, r *models.Request) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37)`,
		r.ID, r.RequesterID, r.ResponderID, r.Latitude, r.Longitude, r.LocationAddress, r.LocationReference,
		r.RadiusMeters, r.Description, string(r.ContentType), r.MaxDurationMinutes, r.ExpiresAt, string(r.TrustMode), r.MinReputationStars,
		r.TrustModeExpiresAt, r.RewardNears, r.CommissionPercentage, r.CommissionAmount, r.FinalReward, string(r.Status),
		r.AcceptedAt, r.AcceptDeadlineAt, r.DeliveredAt, r.CompletedAt, r.CancelledAt, r.CancelledBy, r.CancellationReason,
		r.RequesterRating, r.RequesterReview, r.RequesterRatedAt, r.ResponderRating, r.ResponderReview, r.ResponderRatedAt,
		r.IsAnonymousRequester, r.ViewCount, r.CreatedAt, r.UpdatedAt)
	return err
}

func (t *pgTx) LockRequest(ctx context.Context, id string) (*models.Request, error) {
	r, err := scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "request", id)
	}
	return r, nil
}

// UpdateRequest writes every column that changes after creation.
func (t *pgTx) UpdateRequest(ctx context.Context, r *models.Request) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE requests SET
			responder_id = $2, status = $3, accepted_at = $4, accept_deadline_at = $5, delivered_at = $6,
			completed_at = $7, cancelled_at = $8, cancelled_by = $9, cancellation_reason = $10,
			requester_rating = $11, requester_review = $12, requester_rated_at = $13,
			responder_rating = $14, responder_review = $15, responder_rated_at = $16,
			view_count = $17, updated_at = $18
		WHERE id = $1`,
		r.ID, r.ResponderID, string(r.Status), r.AcceptedAt, r.AcceptDeadlineAt, r.DeliveredAt,
		r.CompletedAt, r.CancelledAt, r.CancelledBy, r.CancellationReason,
		r.RequesterRating, r.RequesterReview, r.RequesterRatedAt,
		r.ResponderRating, r.ResponderReview, r.ResponderRatedAt,
		r.ViewCount, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: request %s", apperr.ErrNotFound, r.ID)
	}
	return nil
}

func (t *pgTx) InsertMedia(ctx context.Context, m *models.Media) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO request_media (id, request_id, media_type, url, thumbnail_url, public_id, file_size_bytes,
			width, height, duration_seconds, capture_latitude, capture_longitude, capture_timestamp, device_info,
			is_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		m.ID, m.RequestID, string(m.MediaType), m.URL, m.ThumbnailURL, m.PublicID, m.FileSizeBytes,
		m.Width, m.Height, m.DurationSeconds, m.CaptureLatitude, m.CaptureLongitude, m.CaptureTimestamp, deviceInfo(m.DeviceInfo),
		m.IsVerified, m.CreatedAt)
	return err
}

// deviceInfo keeps an absent payload NULL instead of an empty jsonb.
func deviceInfo(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (t *pgTx) DeleteMedia(ctx context.Context, requestID string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM request_media WHERE request_id = $1`, requestID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertReport(ctx context.Context, r *models.Report) error {
	evidence := r.EvidenceURLs
	if evidence == nil {
		evidence = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO request_reports (id, request_id, reporter_id, reported_user_id, report_type, description,
			evidence_urls, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.RequestID, r.ReporterID, r.ReportedUserID, string(r.ReportType), r.Description,
		evidence, string(r.Status), r.CreatedAt)
	return err
}

func (t *pgTx) HasReport(ctx context.Context, requestID, reporterID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM request_reports WHERE request_id = $1 AND reporter_id = $2)`,
		requestID, reporterID).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertView(ctx context.Context, v *models.View) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO request_views (id, request_id, user_id, latitude, longitude, distance_meters, was_trust_eligible, viewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id, user_id) DO NOTHING`,
		v.ID, v.RequestID, v.UserID, v.Latitude, v.Longitude, v.DistanceMeters, v.WasTrustEligible, v.ViewedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) LockUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (t *pgTx) UpdateReputation(ctx context.Context, userID string, stars decimal.Decimal, totalRatings int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE users SET reputation_stars = $1, total_ratings_received = $2 WHERE id = $3`,
		stars, totalRatings, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	return nil
}

func (t *pgTx) RatingStats(ctx context.Context, userID string) (models.RatingStats, error) {
	var st models.RatingStats
	err := t.tx.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(responder_rating) FILTER (WHERE responder_id = $1), 0),
			COUNT(responder_rating) FILTER (WHERE responder_id = $1),
			COALESCE(SUM(requester_rating) FILTER (WHERE requester_id = $1), 0),
			COUNT(requester_rating) FILTER (WHERE requester_id = $1)
		FROM requests
		WHERE responder_id = $1 OR requester_id = $1`, userID).
		Scan(&st.AsResponderSum, &st.AsResponderCount, &st.AsRequesterSum, &st.AsRequesterCount)
	return st, err
}
