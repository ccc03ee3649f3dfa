package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/nearhub/internal/config"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

type mockEnqueuer struct{ mock.Mock }

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(task.Type(), task.Payload())
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

type mockNotes struct{ mock.Mock }

func (m *mockNotes) CreateNotification(ctx context.Context, n *models.Notification) error {
	return m.Called(n).Error(0)
}

func (m *mockNotes) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page store.Page) ([]models.Notification, error) {
	args := m.Called(userID, unreadOnly)
	list, _ := args.Get(0).([]models.Notification)
	return list, args.Error(1)
}

func (m *mockNotes) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	args := m.Called(userID, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockNotes) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	args := m.Called(userID)
	return int64(args.Int(0)), args.Error(1)
}

func (m *mockNotes) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	args := m.Called(userID)
	return args.Int(0), args.Error(1)
}

type mockUsers struct{ mock.Mock }

func (m *mockUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

type mockPush struct{ mock.Mock }

func (m *mockPush) PushToUser(userID string, v any) int {
	return m.Called(userID).Int(0)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) Send(ctx context.Context, to, subject, body string) error {
	return m.Called(to, subject).Error(0)
}

func newQueue(enq Enqueuer) *Queue {
	q := NewQueue(enq, "https://app.nearhub.test/", 30*time.Minute)
	q.log = logger.Discard()
	q.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return q
}

func TestNotifyEnqueuesOneTaskPerRecipient(t *testing.T) {
	enq := &mockEnqueuer{}
	var payloads []NotifyPayload
	enq.On("EnqueueContext", TaskNotify, mock.Anything).
		Run(func(args mock.Arguments) {
			var p NotifyPayload
			require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &p))
			payloads = append(payloads, p)
		}).
		Return(&asynq.TaskInfo{ID: "t", Queue: QueueAlerts}, nil)

	ev := Event{Type: EventRequestNearby, Title: "New request nearby", RequestID: "r1"}
	err := newQueue(enq).Notify(context.Background(), ev, "u1", "", "u2")
	require.NoError(t, err)

	require.Len(t, payloads, 2)
	assert.Equal(t, "u1", payloads[0].UserID)
	assert.Equal(t, "u2", payloads[1].UserID)
	assert.Equal(t, "r1", payloads[1].Event.RequestID)
}

func TestNotifyAttemptsEveryRecipient(t *testing.T) {
	enq := &mockEnqueuer{}
	enq.On("EnqueueContext", TaskNotify, mock.Anything).Return(nil, errors.New("redis down")).Once()
	enq.On("EnqueueContext", TaskNotify, mock.Anything).Return(&asynq.TaskInfo{ID: "t"}, nil).Once()

	err := newQueue(enq).Notify(context.Background(), Event{Type: EventRequestCancelled}, "u1", "u2")
	assert.ErrorContains(t, err, "notify u1")
	enq.AssertNumberOfCalls(t, "EnqueueContext", 2)
}

func TestEnqueuePasswordResetBuildsLink(t *testing.T) {
	enq := &mockEnqueuer{}
	var p PasswordResetPayload
	enq.On("EnqueueContext", TaskPasswordReset, mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &p))
		}).
		Return(&asynq.TaskInfo{ID: "t", Queue: QueueEmails}, nil)

	err := newQueue(enq).EnqueuePasswordReset(context.Background(), "u1", "ada@example.com", "Ada", "tok123")
	require.NoError(t, err)
	assert.Equal(t, "https://app.nearhub.test/reset-password?token=tok123", p.ResetURL)
	assert.Equal(t, "ada@example.com", p.Envelope.To)
	assert.Contains(t, p.Envelope.Body, "30 minutes")
}

func notifyTask(t *testing.T, ev Event) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(NotifyPayload{UserID: "u1", Event: ev})
	require.NoError(t, err)
	return asynq.NewTask(TaskNotify, b)
}

func newProcessor(notes NotificationStore, users Directory, push Broadcaster, mailer Mailer) *Processor {
	p := NewProcessor(notes, users, push, mailer)
	p.log = logger.Discard()
	return p
}

func TestHandleNotifyStoresPushesAndMails(t *testing.T) {
	notes, users, push, mailer := &mockNotes{}, &mockUsers{}, &mockPush{}, &mockMailer{}
	notes.On("CreateNotification", mock.MatchedBy(func(n *models.Notification) bool {
		return n.UserID == "u1" && n.Type == string(EventRequestAccepted) &&
			n.RequestID != nil && *n.RequestID == "r1" && string(n.Metadata) == `{"reward":40}`
	})).Return(nil)
	push.On("PushToUser", "u1").Return(2)
	users.On("GetUser", "u1").Return(&models.User{ID: "u1", Email: "u1@example.com"}, nil)
	mailer.On("Send", "u1@example.com", "Request accepted").Return(errors.New("smtp down"))

	ev := Event{Type: EventRequestAccepted, Title: "Request accepted", RequestID: "r1", Data: map[string]any{"reward": 40}}
	err := newProcessor(notes, users, push, mailer).HandleNotify(context.Background(), notifyTask(t, ev))
	require.NoError(t, err, "mail failures do not retry the task")

	notes.AssertExpectations(t)
	push.AssertExpectations(t)
	mailer.AssertExpectations(t)
}

func TestHandleNotifyNearbyStaysInApp(t *testing.T) {
	notes, mailer := &mockNotes{}, &mockMailer{}
	notes.On("CreateNotification", mock.Anything).Return(nil)

	err := newProcessor(notes, &mockUsers{}, nil, mailer).
		HandleNotify(context.Background(), notifyTask(t, Event{Type: EventRequestNearby}))
	require.NoError(t, err)
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestHandleNotifyRetriesOnStoreFailure(t *testing.T) {
	notes := &mockNotes{}
	notes.On("CreateNotification", mock.Anything).Return(errors.New("conn reset"))

	err := newProcessor(notes, nil, nil, nil).
		HandleNotify(context.Background(), notifyTask(t, Event{Type: EventRequestExpired}))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleNotifyBadPayloadSkipsRetry(t *testing.T) {
	err := newProcessor(&mockNotes{}, nil, nil, nil).
		HandleNotify(context.Background(), asynq.NewTask(TaskNotify, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEmailTasksWithoutMailerAreDropped(t *testing.T) {
	b, _ := json.Marshal(WelcomeEmailPayload{UserID: "u1", Envelope: EmailEnvelope{To: "a@b.c"}})
	err := newProcessor(nil, nil, nil, nil).HandleWelcomeEmail(context.Background(), asynq.NewTask(TaskWelcomeEmail, b))
	assert.NoError(t, err)
}

func TestPasswordResetSendFailureRetries(t *testing.T) {
	mailer := &mockMailer{}
	mailer.On("Send", "a@b.c", "Reset").Return(errors.New("timeout"))
	b, _ := json.Marshal(PasswordResetPayload{UserID: "u1", Envelope: EmailEnvelope{To: "a@b.c", Subject: "Reset"}})

	err := newProcessor(nil, nil, nil, mailer).HandlePasswordReset(context.Background(), asynq.NewTask(TaskPasswordReset, b))
	assert.Error(t, err)
}

func TestPlunkMailer(t *testing.T) {
	var got plunkSendBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.To == "bad@example.com" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"invalid recipient"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewPlunkMailer(config.Mail{PlunkAPIKey: "key-1", PlunkFrom: "hi@nearhub.test", PlunkAPIURL: srv.URL, ReplyTo: "help@nearhub.test"})
	require.NoError(t, m.Send(context.Background(), "ada@example.com", "Hi", "Body"))
	assert.Equal(t, "hi@nearhub.test", got.From)
	assert.Equal(t, "help@nearhub.test", got.Reply)

	err := m.Send(context.Background(), "bad@example.com", "Hi", "Body")
	assert.ErrorContains(t, err, "status=422")
	assert.ErrorContains(t, err, "invalid recipient")
}

func TestNewMailerSelectsProvider(t *testing.T) {
	m, err := NewMailer(config.Mail{})
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = NewMailer(config.Mail{Provider: "plunk", PlunkAPIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &PlunkMailer{}, m)

	_, err = NewMailer(config.Mail{Provider: "smtp", SMTPHost: "mail"})
	assert.Error(t, err)

	_, err = NewMailer(config.Mail{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestBuildMessageDetectsHTML(t *testing.T) {
	msg := string(buildMessage("from@x", "to@x", "reply@x", "Subj", "<html><body>hi</body></html>"))
	assert.Contains(t, msg, "Reply-To: reply@x\r\n")
	assert.Contains(t, msg, `Content-Type: text/html; charset="utf-8"`)

	plain := string(buildMessage("from@x", "to@x", "", "Subj", "hi"))
	assert.NotContains(t, plain, "Reply-To")
	assert.Contains(t, plain, "text/plain")
}

func TestHandlerListAndMarkRead(t *testing.T) {
	notes := &mockNotes{}
	notes.On("ListNotifications", "u1", true).Return([]models.Notification{{ID: "n1", UserID: "u1"}}, nil)
	notes.On("CountUnreadNotifications", "u1").Return(1, nil)
	notes.On("MarkNotificationRead", "u1", "n1").Return(true, nil)
	notes.On("MarkNotificationRead", "u1", "n2").Return(false, nil)
	h := NewHandler(notes)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/notifications?unread=true", nil), rec)
	c.Set("user_id", "u1")
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unread":1`)

	for id, want := range map[string]int{"n1": http.StatusOK, "n2": http.StatusNotFound} {
		rec = httptest.NewRecorder()
		c = e.NewContext(httptest.NewRequest(http.MethodPatch, "/", nil), rec)
		c.Set("user_id", "u1")
		c.SetParamNames("id")
		c.SetParamValues(id)
		require.NoError(t, h.MarkRead(c))
		assert.Equal(t, want, rec.Code, id)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
