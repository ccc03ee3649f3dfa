package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/metrics"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue turns domain events and account emails into asynq tasks.
type Queue struct {
	client   Enqueuer
	appURL   string
	resetTTL time.Duration
	now      func() time.Time
	log      *logrus.Entry
}

func NewQueue(client Enqueuer, appURL string, resetTTL time.Duration) *Queue {
	return &Queue{
		client:   client,
		appURL:   strings.TrimRight(appURL, "/"),
		resetTTL: resetTTL,
		now:      time.Now,
		log:      logger.Component("alerts"),
	}
}

// Notify enqueues one task per recipient. Every recipient is attempted; the
// returned error joins the failures.
func (q *Queue) Notify(ctx context.Context, ev Event, userIDs ...string) error {
	var errs []error
	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		err := q.enqueue(ctx, TaskNotify, NotifyPayload{UserID: uid, Event: ev, SentAt: q.now()},
			asynq.Queue(QueueAlerts), asynq.MaxRetry(5))
		metrics.RecordNotification(string(ev.Type), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", uid, err))
		}
	}
	return errors.Join(errs...)
}

// EnqueueWelcomeEmail schedules a welcome email to a new user.
func (q *Queue) EnqueueWelcomeEmail(ctx context.Context, userID, email, name string) error {
	env := EmailEnvelope{
		To:      email,
		Subject: fmt.Sprintf("Welcome to NearHub, %s!", name),
		Body: fmt.Sprintf("Hi %s, thanks for joining NearHub.\n\n"+
			"Post a request for a photo or video of any place, or earn Nears by capturing what people near you ask for.\n\n"+
			"Open NearHub: %s", name, q.appURL),
	}
	return q.enqueue(ctx, TaskWelcomeEmail,
		WelcomeEmailPayload{UserID: userID, Name: name, Envelope: env, SentAt: q.now()},
		asynq.Queue(QueueEmails))
}

// EnqueuePasswordReset schedules the reset link email.
func (q *Queue) EnqueuePasswordReset(ctx context.Context, userID, email, name, token string) error {
	resetURL := fmt.Sprintf("%s/reset-password?token=%s", q.appURL, token)
	env := EmailEnvelope{
		To:      email,
		Subject: "Password reset instructions",
		Body: fmt.Sprintf("Hello %s,\n\nWe received a request to reset your NearHub password.\n\n"+
			"To proceed, open the link below:\n%s\n\n"+
			"This link expires in %d minutes. If you did not request this, no action is required.\n\nNearHub Team",
			name, resetURL, int(q.resetTTL.Minutes())),
	}
	return q.enqueue(ctx, TaskPasswordReset,
		PasswordResetPayload{UserID: userID, ResetURL: resetURL, Envelope: env, Requested: q.now()},
		asynq.Queue(QueueEmails), asynq.Timeout(time.Minute))
}

func (q *Queue) enqueue(ctx context.Context, typ string, payload any, opts ...asynq.Option) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(typ, b), opts...)
	if err != nil {
		q.log.WithError(err).WithField("task", typ).Warn("enqueue failed")
		return err
	}
	q.log.WithFields(logrus.Fields{"task": typ, "task_id": info.ID, "queue": info.Queue}).Debug("task enqueued")
	return nil
}
