package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/nearhub/internal/alerts"
	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/geo"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
	"github.com/sudo-init-do/nearhub/internal/store/memstore"
	"github.com/sudo-init-do/nearhub/internal/wallet"
)

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, ev alerts.Event, userIDs ...string) error {
	args := m.Called(ev.Type, userIDs)
	return args.Error(0)
}

type mockFanout struct{ mock.Mock }

func (m *mockFanout) NearbyUsers(ctx context.Context, center geo.Point, radius float64, exclude string, limit int) ([]string, error) {
	args := m.Called(exclude, limit)
	users, _ := args.Get(0).([]string)
	return users, args.Error(1)
}

type mockChats struct{ mock.Mock }

func (m *mockChats) CreateConversation(ctx context.Context, requestID, requesterID, responderID string, reward int64) error {
	return m.Called(requestID, requesterID, responderID, reward).Error(0)
}

var plaza = geo.Point{Lat: 40.4168, Lng: -3.7038}

type fixture struct {
	svc      *Service
	wallets  *wallet.Service
	st       *memstore.Store
	notifier *mockNotifier
	fanout   *mockFanout
	chats    *mockChats
	now      time.Time
	mu       sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:       memstore.New(),
		notifier: &mockNotifier{},
		fanout:   &mockFanout{},
		chats:    &mockChats{},
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.st.SetClock(f.clock)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.fanout.On("NearbyUsers", mock.Anything, mock.Anything).Return([]string(nil), nil).Maybe()
	f.chats.On("CreateConversation", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	ledger := wallet.NewLedger(f.clock)
	f.wallets = wallet.NewService(f.st, ledger, wallet.Policy{WithdrawalCommissionPct: decimal.NewFromInt(15)})
	f.svc = NewService(f.st, ledger, DefaultPolicy(),
		WithNotifier(f.notifier),
		WithFanout(f.fanout),
		WithConversations(f.chats),
		WithClock(f.clock),
		WithLogger(logger.Discard()),
	)

	for _, id := range []string{"requester", "responder", "other"} {
		f.st.AddUser(models.User{ID: id, Name: id, Email: id + "@example.com", Role: "user"})
	}
	_, err := f.wallets.Recharge(context.Background(), "requester", decimal.NewFromInt(200), "test", "seed")
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, reward int64, mutate ...func(*CreateInput)) *models.Request {
	t.Helper()
	in := CreateInput{
		RequesterID:     "requester",
		Latitude:        plaza.Lat,
		Longitude:       plaza.Lng,
		Description:     "photo of the queue at the museum",
		ContentType:     models.ContentPhoto,
		DurationMinutes: 30,
		RewardNears:     reward,
	}
	for _, m := range mutate {
		m(&in)
	}
	r, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return r
}

func (f *fixture) wallet(t *testing.T, userID string) *models.Wallet {
	t.Helper()
	w, err := f.wallets.Balance(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, w.Balanced())
	return w
}

func (f *fixture) rows(requestID string, typ models.TransactionType) []models.Transaction {
	var out []models.Transaction
	for _, rec := range f.st.AllTransactions() {
		if rec.Type == typ && rec.RequestID != nil && *rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	return out
}

func nearby() geo.Point { return geo.Point{Lat: plaza.Lat + 0.001, Lng: plaza.Lng} }

func (f *fixture) deliver(t *testing.T, id string) {
	t.Helper()
	_, err := f.svc.Deliver(context.Background(), "responder", id, []MediaInput{{
		MediaType: models.MediaPhoto,
		URL:       "https://cdn.example.com/p/1.jpg",
	}})
	require.NoError(t, err)
}

func TestCreateEscrowsReward(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, 100)

	assert.Equal(t, models.StatusPending, r.Status)
	assert.Equal(t, int64(15), r.CommissionAmount)
	assert.Equal(t, int64(85), r.FinalReward)
	assert.Equal(t, r.RewardNears, r.FinalReward+r.CommissionAmount)
	assert.Equal(t, 500, r.RadiusMeters)
	assert.Equal(t, models.TrustModeAll, r.TrustMode)
	assert.Nil(t, r.TrustModeExpiresAt)
	assert.Equal(t, f.now.Add(30*time.Minute), r.ExpiresAt)

	w := f.wallet(t, "requester")
	assert.Equal(t, "200", w.TotalBalance.String())
	assert.Equal(t, "100", w.WithdrawableBalance.String())
	assert.Equal(t, "100", w.FrozenBalance.String())

	payments := f.rows(r.ID, models.TxRequestPayment)
	require.Len(t, payments, 1)
	assert.Equal(t, models.TxPending, payments[0].Status)
}

func TestCreateRoundsCommissionHalfUp(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, 10)
	// 10 * 15% = 1.5 rounds to 2
	assert.Equal(t, int64(2), r.CommissionAmount)
	assert.Equal(t, int64(8), r.FinalReward)
}

func TestCreateFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{
		RequesterID: "requester", Latitude: plaza.Lat, Longitude: plaza.Lng,
		Description: "too expensive request", ContentType: models.ContentVideo,
		DurationMinutes: 10, RewardNears: 500,
	})
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	_, err = f.svc.Create(ctx, CreateInput{
		RequesterID: "requester", Latitude: 95, Longitude: plaza.Lng,
		Description: "short", ContentType: "AUDIO", DurationMinutes: 90, RewardNears: 1,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	w := f.wallet(t, "requester")
	assert.True(t, w.FrozenBalance.IsZero())
	assert.Empty(t, f.st.AllTransactions()[1:])
}

func TestCreateTrustModeSetsWindowAndBroadcastsToTrusted(t *testing.T) {
	f := newFixture(t)
	f.st.SetReputation("responder", decimal.RequireFromString("4.5"))
	f.st.SetReputation("other", decimal.RequireFromString("3.9"))

	f.fanout.ExpectedCalls = nil
	f.fanout.On("NearbyUsers", "requester", 100).Return([]string{"responder", "other"}, nil).Once()
	f.notifier.ExpectedCalls = nil
	f.notifier.On("Notify", alerts.EventRequestNearby, []string{"responder"}).Return(nil).Once()

	r := f.create(t, 20, func(in *CreateInput) { in.TrustMode = models.TrustModeTrust })
	require.NotNil(t, r.TrustModeExpiresAt)
	assert.Equal(t, f.now.Add(time.Minute), *r.TrustModeExpiresAt)

	f.fanout.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestCreateSurvivesFanoutFailure(t *testing.T) {
	f := newFixture(t)
	f.fanout.ExpectedCalls = nil
	f.fanout.On("NearbyUsers", mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))

	r := f.create(t, 20)
	got, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestAcceptChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, 20)

	_, err := f.svc.Accept(ctx, "requester", r.ID, nearby())
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Accept(ctx, "responder", r.ID, geo.Point{Lat: plaza.Lat + 0.01, Lng: plaza.Lng})
	assert.ErrorIs(t, err, apperr.ErrOutOfRange)

	_, err = f.svc.Accept(ctx, "responder", "missing", nearby())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.Equal(t, "responder", *got.ResponderID)
	assert.Equal(t, f.now.Add(5*time.Minute), *got.AcceptDeadlineAt)

	_, err = f.svc.Accept(ctx, "other", r.ID, nearby())
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestAcceptExpired(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, 20)
	f.advance(31 * time.Minute)

	_, err := f.svc.Accept(context.Background(), "responder", r.ID, nearby())
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestAcceptTrustWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.st.SetReputation("other", decimal.RequireFromString("3.5"))
	f.st.SetReputation("responder", decimal.RequireFromString("4.0"))
	r := f.create(t, 20, func(in *CreateInput) { in.TrustMode = models.TrustModeTrust })

	_, err := f.svc.Accept(ctx, "other", r.ID, nearby())
	assert.ErrorIs(t, err, apperr.ErrTrustModeIneligible)

	_, err = f.svc.Accept(ctx, "responder", r.ID, nearby())
	assert.NoError(t, err)

	r2 := f.create(t, 20, func(in *CreateInput) { in.TrustMode = models.TrustModeTrust })
	f.advance(61 * time.Second)
	_, err = f.svc.Accept(ctx, "other", r2.ID, nearby())
	assert.NoError(t, err)
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, 20)
	for i := 0; i < 8; i++ {
		f.st.AddUser(models.User{ID: "racer" + string(rune('a'+i))})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Accept(context.Background(), id, r.ID, nearby())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrInvalidState):
				conflicts++
			}
		}("racer" + string(rune('a'+i)))
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflicts)
}

func TestHappyPathSettlesEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.wallet(t, "requester")

	r := f.create(t, 100)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)
	_, err = f.svc.StartCapture(ctx, "responder", r.ID)
	require.NoError(t, err)
	f.deliver(t, r.ID)

	f.chats.ExpectedCalls = nil
	f.chats.On("CreateConversation", r.ID, "requester", "responder", int64(100)).Return(nil).Once()

	done, err := f.svc.Confirm(ctx, "requester", r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	f.chats.AssertExpectations(t)

	after := f.wallet(t, "requester")
	assert.True(t, before.TotalBalance.Sub(after.TotalBalance).Equal(decimal.NewFromInt(100)))
	assert.True(t, after.FrozenBalance.Equal(before.FrozenBalance))
	assert.True(t, after.WithdrawableBalance.Equal(before.WithdrawableBalance.Sub(decimal.NewFromInt(100))))

	responder := f.wallet(t, "responder")
	assert.True(t, responder.TotalBalance.Equal(decimal.NewFromInt(85)))

	payments := f.rows(r.ID, models.TxRequestPayment)
	require.Len(t, payments, 1)
	assert.Equal(t, models.TxCompleted, payments[0].Status)
	earnings := f.rows(r.ID, models.TxRequestEarning)
	require.Len(t, earnings, 1)
	assert.True(t, earnings[0].CommissionAmount.Decimal.Equal(decimal.NewFromInt(15)))

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.Media, 1)
}

func TestConfirmSurvivesConversationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, 20)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)
	f.deliver(t, r.ID)

	f.chats.ExpectedCalls = nil
	f.chats.On("CreateConversation", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("chat down"))
	f.notifier.ExpectedCalls = nil
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("queue down"))

	got, err := f.svc.Confirm(ctx, "requester", r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestDeliverAndConfirmGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, 20)

	_, err := f.svc.Confirm(ctx, "requester", r.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)

	_, err = f.svc.Deliver(ctx, "other", r.ID, []MediaInput{{MediaType: models.MediaPhoto, URL: "https://x.example/a.jpg"}})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.svc.Deliver(ctx, "responder", r.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	f.deliver(t, r.ID)
	_, err = f.svc.Confirm(ctx, "responder", r.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCreateThenCancelRestoresBalance(t *testing.T) {
	f := newFixture(t)
	before := f.wallet(t, "requester")

	r := f.create(t, 50)
	got, err := f.svc.Cancel(context.Background(), "requester", r.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "requester", *got.CancelledBy)
	assert.Equal(t, "changed my mind", got.CancellationReason)

	after := f.wallet(t, "requester")
	assert.True(t, after.WithdrawableBalance.Equal(before.WithdrawableBalance))
	assert.True(t, after.FrozenBalance.IsZero())

	payments := f.rows(r.ID, models.TxRequestPayment)
	require.Len(t, payments, 1)
	assert.Equal(t, models.TxPending, payments[0].Status)
	refunds := f.rows(r.ID, models.TxRequestRefund)
	require.Len(t, refunds, 1)
	assert.Equal(t, models.TxCompleted, refunds[0].Status)
}

func TestCancelWhileAcceptedNotifiesResponder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, 50)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)

	f.notifier.ExpectedCalls = nil
	f.notifier.On("Notify", alerts.EventRequestCancelled, []string{"responder"}).Return(nil).Once()

	got, err := f.svc.Cancel(ctx, "requester", r.ID, "")
	require.NoError(t, err)
	assert.Nil(t, got.ResponderID)
	assert.True(t, f.wallet(t, "requester").FrozenBalance.IsZero())
	f.notifier.AssertExpectations(t)
}

func TestResponderAbandonRepublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, 50)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)

	got, err := f.svc.Cancel(ctx, "responder", r.ID, "no time")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.ResponderID)
	assert.Nil(t, got.AcceptedAt)
	assert.True(t, f.wallet(t, "requester").FrozenBalance.Equal(decimal.NewFromInt(50)))
	assert.Empty(t, f.rows(r.ID, models.TxRequestRefund))

	_, err = f.svc.Cancel(ctx, "responder", r.ID, "again")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.svc.Cancel(ctx, "other", r.ID, "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRejectWithTimeLeftRepublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.st.SetReputation("requester", decimal.RequireFromString("4.25"))
	r := f.create(t, 50)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)
	f.deliver(t, r.ID)

	requesterBefore := f.wallet(t, "requester")
	responderBefore := f.wallet(t, "responder")

	got, err := f.svc.Reject(ctx, "requester", r.ID, "blurry")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.ResponderID)
	assert.Nil(t, got.DeliveredAt)

	u, err := f.st.GetUser(ctx, "requester")
	require.NoError(t, err)
	assert.Equal(t, "4.15", u.ReputationStars.StringFixed(2))

	assert.Equal(t, requesterBefore, f.wallet(t, "requester"))
	assert.Equal(t, responderBefore, f.wallet(t, "responder"))

	media, err := f.st.ListMedia(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, media)
}

func TestRejectPenaltyFloorsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.st.SetReputation("requester", decimal.RequireFromString("0.05"))
	r := f.create(t, 50)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)
	f.deliver(t, r.ID)

	_, err = f.svc.Reject(ctx, "requester", r.ID, "")
	require.NoError(t, err)
	u, _ := f.st.GetUser(ctx, "requester")
	assert.True(t, u.ReputationStars.IsZero())
}

func TestRejectSurvivesPenaltyFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.st.SetReputation("requester", decimal.RequireFromString("4.25"))
	r := f.create(t, 50)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)
	f.deliver(t, r.ID)

	f.st.Hook = func(op, _ string) error {
		if op == "UpdateReputation" {
			return errors.New("connection reset")
		}
		return nil
	}
	got, err := f.svc.Reject(ctx, "requester", r.ID, "blurry")
	f.st.Hook = nil
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	stored, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	u, err := f.st.GetUser(ctx, "requester")
	require.NoError(t, err)
	assert.Equal(t, "4.25", u.ReputationStars.StringFixed(2))
}

func TestRejectAfterExpiryRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, 50)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)
	f.deliver(t, r.ID)
	f.advance(time.Hour)

	got, err := f.svc.Reject(ctx, "requester", r.ID, "late")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.True(t, f.wallet(t, "requester").FrozenBalance.IsZero())
	assert.Len(t, f.rows(r.ID, models.TxRequestRefund), 1)
}

func completed(t *testing.T, f *fixture) *models.Request {
	t.Helper()
	ctx := context.Background()
	r := f.create(t, 20)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)
	f.deliver(t, r.ID)
	_, err = f.svc.Confirm(ctx, "requester", r.ID)
	require.NoError(t, err)
	return r
}

func TestRateOncePerParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := completed(t, f)

	_, err := f.svc.Rate(ctx, "requester", r.ID, decimal.RequireFromString("4.5"), "great shot")
	require.NoError(t, err)
	_, err = f.svc.Rate(ctx, "requester", r.ID, decimal.RequireFromString("1"), "changed my mind")
	assert.ErrorIs(t, err, apperr.ErrAlreadyRated)

	_, err = f.svc.Rate(ctx, "responder", r.ID, decimal.RequireFromString("5"), "")
	require.NoError(t, err)
	_, err = f.svc.Rate(ctx, "other", r.ID, decimal.RequireFromString("5"), "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.svc.Rate(ctx, "responder", r.ID, decimal.RequireFromString("6"), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	u, _ := f.st.GetUser(ctx, "responder")
	assert.Equal(t, "4.50", u.ReputationStars.StringFixed(2))
	assert.Equal(t, 1, u.TotalRatingsReceived)
}

func TestReputationWeightsBothRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// responder earns a 5 as responder
	r1 := completed(t, f)
	_, err := f.svc.Rate(ctx, "requester", r1.ID, decimal.NewFromInt(5), "")
	require.NoError(t, err)
	_, err = f.svc.Rate(ctx, "responder", r1.ID, decimal.NewFromInt(3), "")
	require.NoError(t, err)

	// roles swap: responder posts, requester captures
	_, err = f.wallets.Recharge(ctx, "responder", decimal.NewFromInt(50), "test", "r2")
	require.NoError(t, err)
	r2, err := f.svc.Create(ctx, CreateInput{
		RequesterID: "responder", Latitude: plaza.Lat, Longitude: plaza.Lng,
		Description: "sunset over the river bank", ContentType: models.ContentBoth,
		DurationMinutes: 20, RewardNears: 10,
	})
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, "requester", r2.ID, nearby())
	require.NoError(t, err)
	_, err = f.svc.Deliver(ctx, "requester", r2.ID, []MediaInput{{MediaType: models.MediaVideo, URL: "https://cdn.example.com/v.mp4"}})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, "responder", r2.ID)
	require.NoError(t, err)
	_, err = f.svc.Rate(ctx, "requester", r2.ID, decimal.NewFromInt(2), "")
	require.NoError(t, err)

	u, _ := f.st.GetUser(ctx, "responder")
	assert.Equal(t, "3.50", u.ReputationStars.StringFixed(2))
	assert.Equal(t, 2, u.TotalRatingsReceived)
}

func TestRateRequiresCompleted(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, 20)
	_, err := f.svc.Rate(context.Background(), "requester", r.ID, decimal.NewFromInt(4), "")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestReportOncePerReporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, 20)
	_, err := f.svc.Accept(ctx, "responder", r.ID, nearby())
	require.NoError(t, err)

	in := ReportInput{
		ReporterID:     "requester",
		RequestID:      r.ID,
		ReportedUserID: "responder",
		Type:           models.ReportNoResponse,
		Description:    "accepted and never showed up at the place",
	}
	rep, err := f.svc.Report(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, rep.Status)

	_, err = f.svc.Report(ctx, in)
	assert.ErrorIs(t, err, apperr.ErrDuplicateReport)

	self := in
	self.ReportedUserID = "requester"
	_, err = f.svc.Report(ctx, self)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	outsider := in
	outsider.ReporterID = "other"
	_, err = f.svc.Report(ctx, outsider)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	assert.Len(t, f.st.Reports(), 1)
}

func TestRegisterViewCountsFirstViewOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, 20)

	require.NoError(t, f.svc.RegisterView(ctx, "responder", r.ID, nearby()))
	require.NoError(t, f.svc.RegisterView(ctx, "responder", r.ID, nearby()))
	require.NoError(t, f.svc.RegisterView(ctx, "requester", r.ID, plaza))
	require.NoError(t, f.svc.RegisterView(ctx, "other", r.ID, nearby()))

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ViewCount)
}

func TestNearbyHidesTrustWindowFromUntrusted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.st.SetReputation("responder", decimal.NewFromInt(5))
	open := f.create(t, 20)
	f.create(t, 20, func(in *CreateInput) { in.TrustMode = models.TrustModeTrust })

	items, err := f.svc.Nearby(ctx, "other", nearby())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, open.ID, items[0].Request.ID)

	items, err = f.svc.Nearby(ctx, "responder", nearby())
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = f.svc.Nearby(ctx, "requester", nearby())
	require.NoError(t, err)
	assert.Empty(t, items)

	f.advance(2 * time.Minute)
	items, err = f.svc.Nearby(ctx, "other", nearby())
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestHistoryLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.create(t, 20)
	f.advance(time.Second)
	r2 := f.create(t, 20)
	_, err := f.svc.Cancel(ctx, "requester", r1.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, "responder", r2.ID, nearby())
	require.NoError(t, err)

	mine, err := f.svc.ListAsRequester(ctx, "requester", store.Page{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, r2.ID, mine[0].ID)

	active, err := f.svc.ListActive(ctx, "requester", store.Page{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, r2.ID, active[0].ID)

	responded, err := f.svc.ListAsResponder(ctx, "responder", store.Page{})
	require.NoError(t, err)
	assert.Len(t, responded, 1)
}
