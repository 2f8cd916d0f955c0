package services

import (
	"context"
	"errors"
	"testing"

	"github.com/chicken-store/orders-api/internal/platform/jobs"
)

type handlerFunc func(context.Context, jobs.Job) error

func (f handlerFunc) HandleJob(ctx context.Context, job jobs.Job) error { return f(ctx, job) }

func TestBackgroundJobDispatcherRoutesByKind(t *testing.T) {
	var seen []string
	record := func(name string) JobHandler {
		return handlerFunc(func(_ context.Context, job jobs.Job) error {
			seen = append(seen, name+":"+job.Kind)
			return nil
		})
	}
	mux, err := NewBackgroundJobDispatcher(BackgroundJobDispatcherDeps{
		Notifications: record("notify"),
		Reports:       record("report"),
	})
	if err != nil {
		t.Fatalf("NewBackgroundJobDispatcher: %v", err)
	}

	for _, kind := range []string{jobs.KindOrderNotify, jobs.KindReportGenerate} {
		job, _ := jobs.NewJob(kind, map[string]string{}, testNow)
		if err := mux.Dispatch(context.Background(), job); err != nil {
			t.Fatalf("dispatch %s: %v", kind, err)
		}
	}
	if len(seen) != 2 || seen[0] != "notify:order.notify" || seen[1] != "report:report.generate" {
		t.Fatalf("unexpected routing %v", seen)
	}

	unknown, _ := jobs.NewJob("design.render", nil, testNow)
	if err := mux.Dispatch(context.Background(), unknown); !errors.Is(err, jobs.ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}

func TestBackgroundJobDispatcherRequiresHandlers(t *testing.T) {
	if _, err := NewBackgroundJobDispatcher(BackgroundJobDispatcherDeps{}); err == nil {
		t.Fatalf("expected error without handlers")
	}
}

func TestReportJobRunsThroughDispatcher(t *testing.T) {
	f := newReportFixture(t)
	notifier, err := NewNotificationDispatcher(NotificationDispatcherDeps{Orders: f.store.Orders()})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}
	mux, err := NewBackgroundJobDispatcher(BackgroundJobDispatcherDeps{Notifications: notifier, Reports: f.runner})
	if err != nil {
		t.Fatalf("NewBackgroundJobDispatcher: %v", err)
	}

	report, err := f.service.CreateScheduledDaily(context.Background(), "2025-03-10")
	if err != nil {
		t.Fatalf("CreateScheduledDaily: %v", err)
	}
	if err := mux.Dispatch(context.Background(), f.queue.jobs[0]); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	stored, _ := f.store.Reports().FindByID(context.Background(), report.ID)
	if stored.Status != "ready" {
		t.Fatalf("expected ready report, got %s", stored.Status)
	}
}
