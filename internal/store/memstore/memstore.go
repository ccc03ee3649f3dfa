// Package memstore is an in-memory store.Store. Atomic serializes every
// transaction behind one mutex and restores a snapshot when the callback fails,
// which gives the same all-or-nothing and single-writer guarantees the
// Postgres store gets from row locks. Callbacks must not call the Store's read
// methods; use the Tx instead.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

type state struct {
	users    map[string]models.User
	wallets  map[string]models.Wallet
	txs      []models.Transaction
	requests map[string]models.Request
	media    map[string][]models.Media
	reports  []models.Report
	views    map[string]models.View
}

func (s *state) clone() *state {
	c := &state{
		users:    make(map[string]models.User, len(s.users)),
		wallets:  make(map[string]models.Wallet, len(s.wallets)),
		txs:      append([]models.Transaction(nil), s.txs...),
		requests: make(map[string]models.Request, len(s.requests)),
		media:    make(map[string][]models.Media, len(s.media)),
		reports:  append([]models.Report(nil), s.reports...),
		views:    make(map[string]models.View, len(s.views)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.media {
		c.media[k] = append([]models.Media(nil), v...)
	}
	for k, v := range s.views {
		c.views[k] = v
	}
	return c
}

type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time

	// Hook, when set, runs before every Tx mutation and can inject failures.
	Hook func(op, key string) error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		st: &state{
			users:    map[string]models.User{},
			wallets:  map[string]models.Wallet{},
			requests: map[string]models.Request{},
			media:    map[string][]models.Media{},
			views:    map[string]models.View{},
		},
		now: time.Now,
	}
}

func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&tx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// SetClock replaces the clock used for created/updated timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddUser seeds a user. Reputation defaults to zero and the account is active.
func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.IsActive = true
	s.st.users[u.ID] = u
}

// SetReputation overrides a seeded user's reputation.
func (s *Store) SetReputation(userID string, stars decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.st.users[userID]
	u.ReputationStars = stars
	s.st.users[userID] = u
}

// AllTransactions returns every ledger row in insertion order.
func (s *Store) AllTransactions() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Transaction(nil), s.st.txs...)
}

// MutateRequest edits a stored request in place, bypassing the state machine.
func (s *Store) MutateRequest(id string, fn func(r *models.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.requests[id]
	if !ok {
		return
	}
	fn(&r)
	s.st.requests[id] = r
}

func (s *Store) Reports() []models.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Report(nil), s.st.reports...)
}

func (s *Store) GetWallet(_ context.Context, userID string) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.st.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet for user %s", apperr.ErrNotFound, userID)
	}
	return &w, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, page store.Page) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paginateTx(s.st.txs, page, func(t models.Transaction) bool { return t.UserID == userID }), nil
}

func (s *Store) ListTransactionsByStatus(_ context.Context, typ models.TransactionType, status models.TransactionStatus, page store.Page) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paginateTx(s.st.txs, page, func(t models.Transaction) bool { return t.Type == typ && t.Status == status }), nil
}

func paginateTx(all []models.Transaction, page store.Page, keep func(models.Transaction) bool) []models.Transaction {
	page = page.Normalize()
	var out []models.Transaction
	for i := len(all) - 1; i >= 0; i-- {
		if keep(all[i]) {
			out = append(out, all[i])
		}
	}
	if page.Offset >= len(out) {
		return nil
	}
	out = out[page.Offset:]
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out
}

func (s *Store) GetRequest(_ context.Context, id string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: request %s", apperr.ErrNotFound, id)
	}
	return &r, nil
}

func (s *Store) ListMedia(_ context.Context, requestID string) ([]models.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Media(nil), s.st.media[requestID]...), nil
}

func (s *Store) ListRequests(_ context.Context, f store.RequestFilter) ([]models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Request
	for _, r := range s.st.requests {
		if f.RequesterID != "" && r.RequesterID != f.RequesterID {
			continue
		}
		if f.ResponderID != "" && !r.IsResponder(f.ResponderID) {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	page := f.Page.Normalize()
	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (s *Store) ListOpenInBox(_ context.Context, q store.BoxQuery) ([]models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Request
	for _, r := range s.st.requests {
		if r.Status != models.StatusPending || r.Expired(q.Now) || r.RequesterID == q.ExcludeUser {
			continue
		}
		if r.Latitude < q.MinLat || r.Latitude > q.MaxLat || r.Longitude < q.MinLng || r.Longitude > q.MaxLng {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) ListDue(_ context.Context, q store.DueQuery) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type due struct {
		id string
		at time.Time
	}
	var found []due
	for _, r := range s.st.requests {
		if !hasStatus(q.Statuses, r.Status) {
			continue
		}
		var at *time.Time
		switch q.Deadline {
		case store.DeadlineExpires:
			at = &r.ExpiresAt
		case store.DeadlineAccept:
			at = r.AcceptDeadlineAt
		}
		if at != nil && at.Before(q.Before) {
			found = append(found, due{id: r.ID, at: *at})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	ids := make([]string, 0, len(found))
	for _, f := range found {
		if q.Limit > 0 && len(ids) == q.Limit {
			break
		}
		ids = append(ids, f.id)
	}
	return ids, nil
}

func (s *Store) ListUnrefunded(_ context.Context, before time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refunded := map[string]bool{}
	for _, t := range s.st.txs {
		if t.Type == models.TxRequestRefund && t.RequestID != nil {
			refunded[*t.RequestID] = true
		}
	}
	var ids []string
	for _, r := range s.st.requests {
		if r.Status == models.StatusExpired && r.UpdatedAt.Before(before) && !refunded[r.ID] {
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	return &u, nil
}

func hasStatus(list []models.RequestStatus, s models.RequestStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// tx operates on the live state while Store.mu is held by Atomic.
type tx struct {
	s *Store
}

func (t *tx) hook(op, key string) error {
	if t.s.Hook == nil {
		return nil
	}
	return t.s.Hook(op, key)
}

func (t *tx) LockWallet(_ context.Context, userID string) (*models.Wallet, error) {
	if err := t.hook("LockWallet", userID); err != nil {
		return nil, err
	}
	w, ok := t.s.st.wallets[userID]
	if !ok {
		now := t.s.now()
		w = models.Wallet{
			ID:                  uuid.New().String(),
			UserID:              userID,
			TotalBalance:        decimal.Zero,
			WithdrawableBalance: decimal.Zero,
			FrozenBalance:       decimal.Zero,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		t.s.st.wallets[userID] = w
	}
	return &w, nil
}

func (t *tx) UpdateWallet(_ context.Context, w *models.Wallet) error {
	if err := t.hook("UpdateWallet", w.UserID); err != nil {
		return err
	}
	if _, ok := t.s.st.wallets[w.UserID]; !ok {
		return fmt.Errorf("%w: wallet for user %s", apperr.ErrNotFound, w.UserID)
	}
	w.UpdatedAt = t.s.now()
	t.s.st.wallets[w.UserID] = *w
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, rec *models.Transaction) error {
	if err := t.hook("InsertTransaction", string(rec.Type)); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.s.now()
	}
	t.s.st.txs = append(t.s.st.txs, *rec)
	return nil
}

func (t *tx) LockTransaction(_ context.Context, id string) (*models.Transaction, error) {
	for _, rec := range t.s.st.txs {
		if rec.ID == id {
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction %s", apperr.ErrNotFound, id)
}

func (t *tx) SetTransactionStatus(_ context.Context, m store.TxMatch, to models.TransactionStatus, at time.Time) (int64, error) {
	if err := t.hook("SetTransactionStatus", m.RequestID+m.ID+m.ExternalID); err != nil {
		return 0, err
	}
	var n int64
	for i := range t.s.st.txs {
		rec := &t.s.st.txs[i]
		if m.ID != "" && rec.ID != m.ID {
			continue
		}
		if m.RequestID != "" && (rec.RequestID == nil || *rec.RequestID != m.RequestID) {
			continue
		}
		if m.ExternalID != "" && (rec.ExternalTransactionID == nil || *rec.ExternalTransactionID != m.ExternalID) {
			continue
		}
		if m.Type != "" && rec.Type != m.Type {
			continue
		}
		if rec.Status != m.From {
			continue
		}
		rec.Status = to
		if to == models.TxCompleted {
			completed := at
			rec.CompletedAt = &completed
		}
		n++
	}
	return n, nil
}

func (t *tx) HasTransaction(_ context.Context, requestID string, typ models.TransactionType) (bool, error) {
	for _, rec := range t.s.st.txs {
		if rec.Type == typ && rec.RequestID != nil && *rec.RequestID == requestID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertRequest(_ context.Context, r *models.Request) error {
	if err := t.hook("InsertRequest", r.ID); err != nil {
		return err
	}
	if _, ok := t.s.st.requests[r.ID]; ok {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	cp := *r
	cp.Media = nil
	t.s.st.requests[r.ID] = cp
	return nil
}

func (t *tx) LockRequest(_ context.Context, id string) (*models.Request, error) {
	if err := t.hook("LockRequest", id); err != nil {
		return nil, err
	}
	r, ok := t.s.st.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: request %s", apperr.ErrNotFound, id)
	}
	return &r, nil
}

func (t *tx) UpdateRequest(_ context.Context, r *models.Request) error {
	if err := t.hook("UpdateRequest", r.ID); err != nil {
		return err
	}
	if _, ok := t.s.st.requests[r.ID]; !ok {
		return fmt.Errorf("%w: request %s", apperr.ErrNotFound, r.ID)
	}
	cp := *r
	cp.Media = nil
	t.s.st.requests[r.ID] = cp
	return nil
}

func (t *tx) InsertMedia(_ context.Context, m *models.Media) error {
	if err := t.hook("InsertMedia", m.RequestID); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	t.s.st.media[m.RequestID] = append(t.s.st.media[m.RequestID], *m)
	return nil
}

func (t *tx) DeleteMedia(_ context.Context, requestID string) (int64, error) {
	n := int64(len(t.s.st.media[requestID]))
	delete(t.s.st.media, requestID)
	return n, nil
}

func (t *tx) InsertReport(_ context.Context, r *models.Report) error {
	if err := t.hook("InsertReport", r.RequestID); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	t.s.st.reports = append(t.s.st.reports, *r)
	return nil
}

func (t *tx) HasReport(_ context.Context, requestID, reporterID string) (bool, error) {
	for _, r := range t.s.st.reports {
		if r.RequestID == requestID && r.ReporterID == reporterID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertView(_ context.Context, v *models.View) (bool, error) {
	key := v.RequestID + "/" + v.UserID
	if _, ok := t.s.st.views[key]; ok {
		return false, nil
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	t.s.st.views[key] = *v
	return true, nil
}

func (t *tx) LockUser(_ context.Context, id string) (*models.User, error) {
	u, ok := t.s.st.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	return &u, nil
}

func (t *tx) UpdateReputation(_ context.Context, userID string, stars decimal.Decimal, totalRatings int) error {
	if err := t.hook("UpdateReputation", userID); err != nil {
		return err
	}
	u, ok := t.s.st.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	u.ReputationStars = stars
	u.TotalRatingsReceived = totalRatings
	t.s.st.users[userID] = u
	return nil
}

func (t *tx) RatingStats(_ context.Context, userID string) (models.RatingStats, error) {
	stats := models.RatingStats{AsResponderSum: decimal.Zero, AsRequesterSum: decimal.Zero}
	for _, r := range t.s.st.requests {
		if r.IsResponder(userID) && r.ResponderRating.Valid {
			stats.AsResponderSum = stats.AsResponderSum.Add(r.ResponderRating.Decimal)
			stats.AsResponderCount++
		}
		if r.RequesterID == userID && r.RequesterRating.Valid {
			stats.AsRequesterSum = stats.AsRequesterSum.Add(r.RequesterRating.Decimal)
			stats.AsRequesterCount++
		}
	}
	return stats, nil
}
