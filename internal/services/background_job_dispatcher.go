package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/chicken-store/orders-api/internal/platform/jobs"
)

// JobHandler executes one decoded background job.
type JobHandler interface {
	HandleJob(ctx context.Context, job jobs.Job) error
}

// JobConsumer drains a queue into a mux until ctx ends. Both the in-process
// and the Pub/Sub queues satisfy it.
type JobConsumer interface {
	Run(ctx context.Context, mux *jobs.Mux) error
}

// BackgroundJobDispatcherDeps enumerates the handlers served by the worker pool.
type BackgroundJobDispatcherDeps struct {
	Notifications JobHandler
	Reports       JobHandler
	Logger        *zap.Logger
}

// NewBackgroundJobDispatcher routes order.notify and report.generate jobs to their handlers.
func NewBackgroundJobDispatcher(deps BackgroundJobDispatcherDeps) (*jobs.Mux, error) {
	if deps.Notifications == nil {
		return nil, errors.New("background job dispatcher: notification handler is required")
	}
	if deps.Reports == nil {
		return nil, errors.New("background job dispatcher: report handler is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := jobs.NewMux(logger.Named("jobs"))
	mux.Handle(jobs.KindOrderNotify, deps.Notifications.HandleJob)
	mux.Handle(jobs.KindReportGenerate, deps.Reports.HandleJob)
	return mux, nil
}
