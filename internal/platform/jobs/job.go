// Package jobs carries background work (merchant notifications, report generation)
// off the request path, either over Pub/Sub or through an in-process worker pool.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	// KindOrderNotify delivers the merchant notification for a new order.
	KindOrderNotify = "order.notify"
	// KindReportGenerate builds a pending report export.
	KindReportGenerate = "report.generate"
)

var (
	// ErrUnknownKind is returned when no handler is registered for a job kind.
	ErrUnknownKind = errors.New("jobs: unknown job kind")
	// ErrQueueClosed is returned by Enqueue after the queue stopped accepting work.
	ErrQueueClosed = errors.New("jobs: queue closed")
	// ErrRetry marks a handler failure that redelivery can fix.
	ErrRetry = errors.New("jobs: retry")
)

// Retry wraps err so queues that support redelivery hand the job out again.
func Retry(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRetry, err)
}

var tracer = otel.Tracer("github.com/chicken-store/orders-api/internal/platform/jobs")

// Job is the envelope every queue carries.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// NewJob marshals payload into a job envelope with a fresh ULID.
func NewJob(kind string, payload any, now time.Time) (Job, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return Job{}, errors.New("jobs: kind is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("jobs: marshal %s payload: %w", kind, err)
	}
	return Job{
		ID:         ulid.Make().String(),
		Kind:       kind,
		Payload:    data,
		EnqueuedAt: now.UTC(),
	}, nil
}

// Decode unmarshals the payload into dst.
func (j Job) Decode(dst any) error {
	if err := json.Unmarshal(j.Payload, dst); err != nil {
		return fmt.Errorf("jobs: decode %s payload: %w", j.Kind, err)
	}
	return nil
}

// Enqueuer accepts jobs for later execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Handler executes one job. Returned errors are logged; jobs are not redelivered.
type Handler func(ctx context.Context, job Job) error

// Mux routes jobs to handlers by kind.
type Mux struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewMux builds an empty router.
func NewMux(logger *zap.Logger) *Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mux{handlers: make(map[string]Handler), logger: logger}
}

// Handle registers h for kind, replacing any previous handler.
func (m *Mux) Handle(kind string, h Handler) {
	m.handlers[kind] = h
}

// Dispatch runs the handler for job inside a span and logs failures.
func (m *Mux) Dispatch(ctx context.Context, job Job) error {
	h, ok := m.handlers[job.Kind]
	if !ok {
		m.logger.Warn("jobs: no handler", zap.String("kind", job.Kind), zap.String("jobId", job.ID))
		return fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}

	ctx, span := tracer.Start(ctx, "jobs."+job.Kind)
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("job.kind", job.Kind))
	defer span.End()

	start := time.Now()
	err := safeCall(ctx, h, job)
	fields := []zap.Field{
		zap.String("kind", job.Kind),
		zap.String("jobId", job.ID),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("jobs: handler failed", append(fields, zap.Error(err))...)
		return err
	}
	m.logger.Debug("jobs: handled", fields...)
	return nil
}

func safeCall(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("jobs: handler panic: %v", rec)
		}
	}()
	return h(ctx, job)
}
