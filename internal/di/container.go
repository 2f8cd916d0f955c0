package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chicken-store/orders-api/internal/platform/config"
	"github.com/chicken-store/orders-api/internal/platform/jobs"
	"github.com/chicken-store/orders-api/internal/platform/observability"
	"github.com/chicken-store/orders-api/internal/platform/realtime"
	"github.com/chicken-store/orders-api/internal/platform/storage"
	"github.com/chicken-store/orders-api/internal/repositories"
	"github.com/chicken-store/orders-api/internal/services"
)

// Infrastructure carries the clients main builds before the service graph.
// Optional collaborators may be nil: Directory, Sender and EventSink.
type Infrastructure struct {
	Queue     jobs.Enqueuer
	Files     storage.Store
	Publisher realtime.Publisher
	Channels  realtime.Channels
	Directory services.BuyerDirectory
	Sender    services.NotificationSender
	EventSink services.EventSink
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Build     services.BuildInfo
	Clock     func() time.Time
}

// Services bundles the service-layer contracts that handlers and workers rely upon.
type Services struct {
	Orders        services.OrderService
	Reports       services.ReportService
	Stats         services.StatsService
	System        services.SystemService
	Events        *services.OrderEventBus
	Notifications *services.NotificationDispatcher
	ReportRunner  *services.ReportRunner
	Jobs          *jobs.Mux
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the MySQL
// registry; local runs and tests pass the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	if infra.Files == nil {
		return nil, errors.New("file store is required")
	}
	if infra.Publisher == nil {
		return nil, errors.New("realtime publisher is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services
	loc := cfg.Business.Location()
	logger := infra.Logger
	metrics := infra.Metrics

	bus := services.NewOrderEventBus(observability.ServiceLogger(logger.Named("events")), metrics, 0)
	bus.Subscribe(services.NotificationEnqueuer{Queue: infra.Queue, Clock: infra.Clock})

	broadcaster, err := services.NewRealtimeBroadcaster(infra.Publisher, infra.Channels)
	if err != nil {
		return Services{}, fmt.Errorf("build realtime broadcaster: %w", err)
	}
	bus.Subscribe(broadcaster)

	if history := reg.OrderHistory(); history != nil {
		archiver, err := services.NewHistoryArchiver(history, infra.Clock)
		if err != nil {
			return Services{}, fmt.Errorf("build history archiver: %w", err)
		}
		bus.Subscribe(archiver)
	}
	if infra.EventSink != nil {
		mirror, err := services.NewEventMirror(infra.EventSink)
		if err != nil {
			return Services{}, fmt.Errorf("build event mirror: %w", err)
		}
		bus.Subscribe(mirror)
	}
	svc.Events = bus

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Registry:         reg,
		Directory:        infra.Directory,
		Events:           bus,
		BusinessLocation: loc,
		Clock:            infra.Clock,
		Metrics:          metrics,
		Logger:           observability.ServiceLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	reports, err := services.NewReportService(services.ReportServiceDeps{
		Reports:          reg.Reports(),
		Queue:            infra.Queue,
		Files:            infra.Files,
		BusinessLocation: loc,
		Clock:            infra.Clock,
		Metrics:          metrics,
		Logger:           observability.ServiceLogger(logger.Named("reports")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build report service: %w", err)
	}
	svc.Reports = reports

	runner, err := services.NewReportRunner(services.ReportRunnerDeps{
		Reports:          reg.Reports(),
		Orders:           reg.Orders(),
		Files:            infra.Files,
		BusinessLocation: loc,
		Clock:            infra.Clock,
		Metrics:          metrics,
		Logger:           observability.ServiceLogger(logger.Named("report_runner")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build report runner: %w", err)
	}
	svc.ReportRunner = runner

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Orders:     reg.Orders(),
		Sender:     infra.Sender,
		ChatID:     cfg.Telegram.ChatID,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Clock:      infra.Clock,
		Metrics:    metrics,
		Logger:     observability.ServiceLogger(logger.Named("notifications")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}
	svc.Notifications = dispatcher

	mux, err := services.NewBackgroundJobDispatcher(services.BackgroundJobDispatcherDeps{
		Notifications: dispatcher,
		Reports:       runner,
		Logger:        logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build job dispatcher: %w", err)
	}
	svc.Jobs = mux

	if statsRepo := reg.Stats(); statsRepo != nil {
		stats, err := services.NewStatsService(services.StatsServiceDeps{
			Stats:            statsRepo,
			BusinessLocation: loc,
			Clock:            infra.Clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build stats service: %w", err)
		}
		svc.Stats = stats
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            infra.Clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
