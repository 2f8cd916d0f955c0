package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chicken-store/orders-api/internal/platform/jobs"
	"github.com/chicken-store/orders-api/internal/platform/telegram"
	"github.com/chicken-store/orders-api/internal/repositories"
)

const (
	defaultNotificationRetries = 3
	defaultNotificationDelay   = 30 * time.Second
)

// NotificationOutcome is the final result of one notification job.
type NotificationOutcome string

const (
	NotificationSent    NotificationOutcome = "SENT"
	NotificationSkipped NotificationOutcome = "SKIPPED"
	NotificationMissing NotificationOutcome = "MISSING"
	NotificationFailed  NotificationOutcome = "FAILED"
)

type notificationState string

const (
	notificationQueued   notificationState = "queued"
	notificationRetrying notificationState = "retrying"
	notificationSent     notificationState = "sent"
	notificationFailed   notificationState = "failed"
	notificationSkipped  notificationState = "skipped"
	notificationMissing  notificationState = "missing"
)

type attemptResult int

const (
	attemptDelivered attemptResult = iota
	attemptTransient
	attemptPermanent
	attemptUnconfigured
	attemptOrderMissing
)

// notificationAttempt is the delivery state machine. next is pure.
type notificationAttempt struct {
	State      notificationState
	Retries    int
	MaxRetries int
}

func newNotificationAttempt(maxRetries int) notificationAttempt {
	return notificationAttempt{State: notificationQueued, MaxRetries: maxRetries}
}

func (a notificationAttempt) Terminal() bool {
	switch a.State {
	case notificationQueued, notificationRetrying:
		return false
	}
	return true
}

func (a notificationAttempt) next(result attemptResult) notificationAttempt {
	if a.Terminal() {
		return a
	}
	switch result {
	case attemptDelivered:
		a.State = notificationSent
	case attemptUnconfigured:
		a.State = notificationSkipped
	case attemptOrderMissing:
		a.State = notificationMissing
	case attemptPermanent:
		a.State = notificationFailed
	case attemptTransient:
		if a.Retries < a.MaxRetries {
			a.Retries++
			a.State = notificationRetrying
		} else {
			a.State = notificationFailed
		}
	}
	return a
}

func (a notificationAttempt) Outcome() NotificationOutcome {
	switch a.State {
	case notificationSent:
		return NotificationSent
	case notificationSkipped:
		return NotificationSkipped
	case notificationMissing:
		return NotificationMissing
	default:
		return NotificationFailed
	}
}

// NotificationSender delivers a formatted message. *telegram.Client satisfies it.
type NotificationSender interface {
	SendMessage(ctx context.Context, chatID, text string) (telegram.SentMessage, error)
}

// NotifyOrderPayload is the order.notify job body.
type NotifyOrderPayload struct {
	OrderID string `json:"orderId"`
}

// NotificationDispatcherDeps bundles collaborators for the dispatcher.
type NotificationDispatcherDeps struct {
	Orders repositories.OrderRepository
	// Sender may be nil when the channel is not configured; every job is then SKIPPED.
	Sender     NotificationSender
	ChatID     string
	MaxRetries int
	RetryDelay time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
	Clock      func() time.Time
	Metrics    Metrics
	Logger     Logger
}

// NotificationDispatcher delivers merchant notifications with bounded retries.
type NotificationDispatcher struct {
	orders     repositories.OrderRepository
	sender     NotificationSender
	chatID     string
	maxRetries int
	delay      time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	clock      func() time.Time
	metrics    Metrics
	logger     Logger
}

// NewNotificationDispatcher validates deps and applies defaults (3 retries, 30s apart).
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*NotificationDispatcher, error) {
	if deps.Orders == nil {
		return nil, errors.New("notification dispatcher: order repository is required")
	}
	d := &NotificationDispatcher{
		orders:     deps.Orders,
		sender:     deps.Sender,
		chatID:     strings.TrimSpace(deps.ChatID),
		maxRetries: deps.MaxRetries,
		delay:      deps.RetryDelay,
		sleep:      deps.Sleep,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if d.maxRetries < 0 {
		d.maxRetries = 0
	} else if d.maxRetries == 0 {
		d.maxRetries = defaultNotificationRetries
	}
	if d.delay <= 0 {
		d.delay = defaultNotificationDelay
	}
	if d.sleep == nil {
		d.sleep = sleepContext
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.metrics == nil {
		d.metrics = noopMetrics{}
	}
	if d.logger == nil {
		d.logger = noopLogger
	}
	return d, nil
}

// HandleJob adapts Dispatch to the job worker pool.
func (d *NotificationDispatcher) HandleJob(ctx context.Context, job jobs.Job) error {
	var payload NotifyOrderPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	outcome, err := d.Dispatch(ctx, payload.OrderID)
	if outcome == NotificationFailed {
		return err
	}
	return nil
}

// Dispatch runs the attempt state machine to a terminal state.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, orderID string) (NotificationOutcome, error) {
	attempt := newNotificationAttempt(d.maxRetries)
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(d.delay), uint64(d.maxRetries))

	var lastErr error
	for {
		result, err := d.try(ctx, orderID)
		lastErr = err
		attempt = attempt.next(result)
		if attempt.Terminal() {
			break
		}

		wait := policy.NextBackOff()
		d.logger(ctx, "notification.retry", map[string]any{
			"orderID": orderID,
			"retry":   attempt.Retries,
			"delay":   wait.String(),
			"error":   errString(err),
		})
		if wait == backoff.Stop {
			attempt = attempt.next(attemptPermanent)
			break
		}
		if err := d.sleep(ctx, wait); err != nil {
			lastErr = err
			attempt = attempt.next(attemptPermanent)
			break
		}
	}

	outcome := attempt.Outcome()
	d.metrics.NotificationOutcome(string(outcome))
	fields := map[string]any{"orderID": orderID, "outcome": string(outcome), "retries": attempt.Retries}
	switch outcome {
	case NotificationSent:
		d.logger(ctx, "notification.sent", fields)
		return outcome, nil
	case NotificationSkipped:
		d.logger(ctx, "notification.skipped", fields)
		return outcome, nil
	case NotificationMissing:
		d.logger(ctx, "notification.missing.error", fields)
		return outcome, lastErr
	default:
		fields["error"] = errString(lastErr)
		d.logger(ctx, "notification.failed", fields)
		if lastErr == nil {
			lastErr = errors.New("notification: delivery failed")
		}
		return outcome, lastErr
	}
}

func (d *NotificationDispatcher) try(ctx context.Context, orderID string) (attemptResult, error) {
	if d.sender == nil || d.chatID == "" {
		return attemptUnconfigured, nil
	}
	order, err := d.orders.FindByID(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return attemptOrderMissing, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return attemptTransient, err
	}

	sent, err := d.sender.SendMessage(ctx, d.chatID, FormatOrderMessage(order))
	if err != nil {
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			return attemptPermanent, err
		}
		return attemptTransient, err
	}

	messageID := fmt.Sprintf("%d", sent.MessageID)
	if err := d.orders.MarkNotified(ctx, order.ID, messageID, d.clock().UTC()); err != nil {
		d.logger(ctx, "notification.mark.failed", map[string]any{"orderID": order.ID, "error": err.Error()})
	}
	return attemptDelivered, nil
}

// NotificationEnqueuer turns order.created events into order.notify jobs.
type NotificationEnqueuer struct {
	Queue jobs.Enqueuer
	Clock func() time.Time
}

func (NotificationEnqueuer) Name() string { return "notification_enqueuer" }

func (e NotificationEnqueuer) HandleOrderEvent(ctx context.Context, event OrderEvent) error {
	if event.Type != OrderEventCreated || e.Queue == nil {
		return nil
	}
	now := time.Now
	if e.Clock != nil {
		now = e.Clock
	}
	job, err := jobs.NewJob(jobs.KindOrderNotify, NotifyOrderPayload{OrderID: event.Order.ID}, now())
	if err != nil {
		return err
	}
	return e.Queue.Enqueue(ctx, job)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
