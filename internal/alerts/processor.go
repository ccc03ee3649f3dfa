package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

// NotificationStore persists the in-app notification feed.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, page store.Page) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int64, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
}

// Directory resolves a user's email address.
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Broadcaster pushes a message to every live socket of a user.
type Broadcaster interface {
	PushToUser(userID string, v any) int
}

// Processor executes alert tasks pulled off the queue.
type Processor struct {
	notes  NotificationStore
	users  Directory
	push   Broadcaster
	mailer Mailer
	now    func() time.Time
	log    *logrus.Entry
}

func NewProcessor(notes NotificationStore, users Directory, push Broadcaster, mailer Mailer) *Processor {
	return &Processor{
		notes:  notes,
		users:  users,
		push:   push,
		mailer: mailer,
		now:    time.Now,
		log:    logger.Component("alerts"),
	}
}

// Mux routes every alert task type to its handler.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskNotify, p.HandleNotify)
	mux.HandleFunc(TaskWelcomeEmail, p.HandleWelcomeEmail)
	mux.HandleFunc(TaskPasswordReset, p.HandlePasswordReset)
	return mux
}

// emailed lists the events that also go out by email. Nearby broadcasts and
// chat messages stay in-app.
var emailed = map[EventType]bool{
	EventRequestAccepted:   true,
	EventContentDelivered:  true,
	EventDeliveryConfirmed: true,
	EventDeliveryRejected:  true,
	EventRequestExpired:    true,
}

// HandleNotify stores the notification, pushes it to open sockets and mails it
// when the event warrants. Only the store write is retried.
func (p *Processor) HandleNotify(ctx context.Context, t *asynq.Task) error {
	var pl NotifyPayload
	if err := json.Unmarshal(t.Payload(), &pl); err != nil {
		return fmt.Errorf("decode notify payload: %v: %w", err, asynq.SkipRetry)
	}

	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    pl.UserID,
		Type:      string(pl.Event.Type),
		Title:     pl.Event.Title,
		Body:      pl.Event.Body,
		CreatedAt: p.now(),
	}
	if pl.Event.RequestID != "" {
		rid := pl.Event.RequestID
		n.RequestID = &rid
	}
	if len(pl.Event.Data) > 0 {
		meta, err := json.Marshal(pl.Event.Data)
		if err != nil {
			return fmt.Errorf("encode metadata: %v: %w", err, asynq.SkipRetry)
		}
		n.Metadata = meta
	}
	if err := p.notes.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	log := p.log.WithFields(logrus.Fields{"user_id": pl.UserID, "event": pl.Event.Type})
	if p.push != nil {
		sockets := p.push.PushToUser(pl.UserID, pushMessage(n))
		log = log.WithField("sockets", sockets)
	}

	if p.mailer != nil && emailed[pl.Event.Type] {
		if err := p.mailUser(ctx, pl.UserID, pl.Event.Title, pl.Event.Body); err != nil {
			log.WithError(err).Warn("notification email failed")
		}
	}
	log.Debug("notification delivered")
	return nil
}

func pushMessage(n *models.Notification) map[string]any {
	return map[string]any{"type": "notification", "notification": n}
}

func (p *Processor) mailUser(ctx context.Context, userID, subject, body string) error {
	u, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Email == "" {
		return nil
	}
	return p.mailer.Send(ctx, u.Email, subject, body)
}

func (p *Processor) HandleWelcomeEmail(ctx context.Context, t *asynq.Task) error {
	var pl WelcomeEmailPayload
	if err := json.Unmarshal(t.Payload(), &pl); err != nil {
		return fmt.Errorf("decode welcome payload: %v: %w", err, asynq.SkipRetry)
	}
	return p.sendEnvelope(ctx, TaskWelcomeEmail, pl.UserID, pl.Envelope)
}

func (p *Processor) HandlePasswordReset(ctx context.Context, t *asynq.Task) error {
	var pl PasswordResetPayload
	if err := json.Unmarshal(t.Payload(), &pl); err != nil {
		return fmt.Errorf("decode password reset payload: %v: %w", err, asynq.SkipRetry)
	}
	return p.sendEnvelope(ctx, TaskPasswordReset, pl.UserID, pl.Envelope)
}

func (p *Processor) sendEnvelope(ctx context.Context, task, userID string, env EmailEnvelope) error {
	log := p.log.WithFields(logrus.Fields{"task": task, "user_id": userID})
	if p.mailer == nil {
		log.Info("mail not configured, email dropped")
		return nil
	}
	if err := p.mailer.Send(ctx, env.To, env.Subject, env.Body); err != nil {
		log.WithError(err).Error("email send failed")
		return err
	}
	log.Info("email sent")
	return nil
}

// NewServer builds the worker with the queue weights used in production.
func NewServer(redis asynq.RedisConnOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	log := logger.Component("asynq")
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueEmails: 10,
			QueueAlerts: 5,
		},
		Logger: log,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			log.WithError(err).WithField("task", t.Type()).Warn("task failed")
		}),
	})
}

// Serve runs srv until ctx is cancelled, then drains in-flight tasks.
func Serve(ctx context.Context, srv *asynq.Server, mux *asynq.ServeMux) error {
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}
