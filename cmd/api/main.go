package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chicken-store/orders-api/internal/di"
	"github.com/chicken-store/orders-api/internal/handlers"
	"github.com/chicken-store/orders-api/internal/platform/auth"
	"github.com/chicken-store/orders-api/internal/platform/config"
	"github.com/chicken-store/orders-api/internal/platform/database"
	pfirestore "github.com/chicken-store/orders-api/internal/platform/firestore"
	"github.com/chicken-store/orders-api/internal/platform/idempotency"
	"github.com/chicken-store/orders-api/internal/platform/jobs"
	pkafka "github.com/chicken-store/orders-api/internal/platform/kafka"
	"github.com/chicken-store/orders-api/internal/platform/observability"
	"github.com/chicken-store/orders-api/internal/platform/realtime"
	"github.com/chicken-store/orders-api/internal/platform/requestctx"
	"github.com/chicken-store/orders-api/internal/platform/secrets"
	platformstorage "github.com/chicken-store/orders-api/internal/platform/storage"
	"github.com/chicken-store/orders-api/internal/platform/telegram"
	"github.com/chicken-store/orders-api/internal/repositories"
	firestoreRepo "github.com/chicken-store/orders-api/internal/repositories/firestore"
	"github.com/chicken-store/orders-api/internal/repositories/memory"
	mysqlRepo "github.com/chicken-store/orders-api/internal/repositories/mysql"
	"github.com/chicken-store/orders-api/internal/services"
)

const localEnvironment = "local"

// jobQueue is satisfied by both the Pub/Sub and the in-process queue.
type jobQueue interface {
	jobs.Enqueuer
	services.JobConsumer
}

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	local := cfg.Security.Environment == localEnvironment

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	metrics := observability.NewMetrics()

	redisClient := openRedis(ctx, logger, cfg, local)
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}
	}()

	var dbProvider *database.Provider
	if cfg.Database.Driver == config.DatabaseDriverMySQL {
		dbProvider, err = database.Open(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		if cfg.Database.AutoMigrate {
			if err := mysqlRepo.AutoMigrate(ctx, dbProvider.DB()); err != nil {
				logger.Fatal("failed to migrate database", zap.Error(err))
			}
			logger.Info("database schema migrated")
		}
	}

	var firestoreProvider *pfirestore.Provider
	if cfg.Firestore.HistoryEnabled {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
	}

	healthRepo, err := newHealthRepository(dbProvider, redisClient, firestoreProvider)
	if err != nil {
		logger.Warn("health: readiness checks disabled", zap.Error(err))
	}

	registry, err := newRegistry(cfg, dbProvider, firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	var fabric realtime.Fabric
	if redisClient != nil {
		fabric, err = realtime.NewRedisFabric(redisClient)
		if err != nil {
			logger.Fatal("failed to initialise realtime fabric", zap.Error(err))
		}
	} else {
		fabric = realtime.NewMemoryFabric()
	}
	channels := realtime.Channels{Prefix: cfg.Realtime.ChannelPrefix}

	files, closeFiles, err := openFileStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise report storage", zap.Error(err))
	}
	defer closeFiles()

	queue, stopQueue, err := openJobQueue(ctx, logger, cfg, local)
	if err != nil {
		logger.Fatal("failed to initialise job queue", zap.Error(err))
	}
	defer stopQueue()

	firebaseClient, err := auth.NewFirebaseClient(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase", zap.Error(err))
	}

	var sender services.NotificationSender
	if cfg.Telegram.Configured() {
		client, err := telegram.NewClient(cfg.Telegram.BotToken,
			telegram.WithBaseURL(cfg.Telegram.BaseURL),
			telegram.WithTimeout(cfg.Telegram.Timeout),
		)
		if err != nil {
			logger.Fatal("failed to initialise telegram client", zap.Error(err))
		}
		sender = client
	} else {
		logger.Warn("telegram: bot token or chat id not configured; merchant notifications will be skipped")
	}

	var eventSink services.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := pkafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal("failed to initialise kafka writer", zap.Error(err))
		}
		mirror, err := pkafka.NewMirror(writer)
		if err != nil {
			logger.Fatal("failed to initialise kafka mirror", zap.Error(err))
		}
		defer func() {
			if err := mirror.Close(); err != nil {
				logger.Warn("kafka close error", zap.Error(err))
			}
		}()
		eventSink = mirror
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Queue:     queue,
		Files:     files,
		Publisher: fabric,
		Channels:  channels,
		Directory: firebaseClient,
		Sender:    sender,
		EventSink: eventSink,
		Metrics:   metrics,
		Logger:    logger,
		Build:     buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		jobsLogger := logger.Named("jobs")
		jobsLogger.Info("job consumer started")
		if err := queue.Run(workerCtx, svc.Jobs); err != nil {
			jobsLogger.Error("job consumer stopped", zap.Error(err))
		}
	}()

	hub := realtime.NewHub(fabric,
		realtime.WithHubLogger(logger.Named("realtime")),
		realtime.WithPingInterval(cfg.Realtime.PingInterval),
		realtime.WithClientGauge(metrics.RealtimeClientDelta),
	)

	var idempotencyStore idempotency.Store
	if redisClient != nil {
		store, err := idempotency.NewRedisStore(redisClient)
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		idempotencyStore = store
	} else {
		idempotencyStore = idempotency.NewMemoryStore()
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	authenticator := auth.NewAuthenticator(firebaseClient)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, handlers.WithOrderIdempotency(idempotencyMiddleware))
	reportHandlers := handlers.NewReportHandlers(authenticator, svc.Reports,
		handlers.WithReportRateLimit(cfg.RateLimits.ReportsPerMinute, time.Minute, time.Now),
	)
	statsHandlers := handlers.NewStatsHandlers(authenticator, svc.Stats)
	realtimeHandlers := handlers.NewRealtimeHandlers(authenticator, hub, channels,
		handlers.WithAllowedOrigins(cfg.Realtime.AllowedOrigins...),
	)
	internalHandlers := handlers.NewInternalHandlers(svc.Reports)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}

	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(metrics),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithReportRoutes(reportHandlers.Routes),
		handlers.WithStatsRoutes(statsHandlers.Routes),
		handlers.WithRealtimeRoutes(realtimeHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger, cfg, metrics); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	} else if !local {
		logger.Fatal("auth: OIDC must be configured outside local environments")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orders api listening",
			zap.String("environment", buildInfo.Environment),
			zap.String("version", buildInfo.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	hub.Close()

	workerCancel()
	workerWG.Wait()
	logger.Info("background workers stopped")
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = localEnvironment
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// openRedis returns nil when Redis is unreachable in a local environment; the
// realtime fabric and idempotency store then fall back to process memory.
func openRedis(ctx context.Context, logger *zap.Logger, cfg config.Config, local bool) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		if !local {
			logger.Fatal("redis address is required")
		}
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if !local {
			logger.Fatal("failed to reach redis", zap.String("addr", addr), zap.Error(err))
		}
		logger.Warn("redis unreachable; using in-process realtime fabric and idempotency store", zap.Error(err))
		_ = client.Close()
		return nil
	}
	return client
}

func newRegistry(cfg config.Config, db *database.Provider, fs *pfirestore.Provider, health repositories.HealthRepository) (repositories.Registry, error) {
	if cfg.Database.Driver == config.DatabaseDriverMemory {
		return memory.NewStore(memory.WithHealth(health)), nil
	}

	opts := []mysqlRepo.RegistryOption{
		mysqlRepo.WithHealth(health),
		mysqlRepo.WithCloser(db.Close),
	}
	if fs != nil {
		history, err := firestoreRepo.NewOrderHistoryRepository(fs, cfg.Firestore.HistoryCollection)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			mysqlRepo.WithOrderHistory(history),
			mysqlRepo.WithCloser(fs.Close),
		)
	}
	return mysqlRepo.NewRegistry(db.DB(), opts...)
}

func newHealthRepository(db *database.Provider, rdb *redis.Client, fs *pfirestore.Provider) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if db != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "mysql",
			Timeout:  time.Second,
			Critical: true,
			Check:    db.Ping,
		})
	}
	if rdb != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Critical: true,
			Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}
	if fs != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				client, err := fs.Client(ctx)
				if err != nil {
					return err
				}
				_, err = client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func openFileStore(ctx context.Context, cfg config.Config) (platformstorage.Store, func(), error) {
	if bucket := strings.TrimSpace(cfg.Reports.Bucket); bucket != "" {
		client, err := cloudstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("storage client: %w", err)
		}
		store, err := platformstorage.NewGCSStore(client, bucket)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	}
	store, err := platformstorage.NewLocalStore(cfg.Reports.LocalDir)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

// openJobQueue selects Pub/Sub outside local environments or whenever an emulator
// is configured, and the in-process worker pool otherwise.
func openJobQueue(ctx context.Context, logger *zap.Logger, cfg config.Config, local bool) (jobQueue, func(), error) {
	emulator := strings.TrimSpace(cfg.PubSub.EmulatorHost)
	if local && emulator == "" {
		logger.Info("jobs: using in-process worker pool", zap.Int("workers", cfg.Jobs.Workers))
		return jobs.NewLocalQueue(cfg.Jobs.Workers, cfg.Jobs.QueueSize, logger.Named("jobs")), func() {}, nil
	}

	var clientOpts []option.ClientOption
	if emulator != "" {
		clientOpts = append(clientOpts,
			option.WithoutAuthentication(),
			option.WithEndpoint(emulator),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.JobsTopic)
	subscription := client.Subscription(cfg.PubSub.JobsSubscription)
	if emulator != "" {
		if err := ensureEmulatorResources(ctx, client, topic, subscription); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	queue, err := jobs.NewPubSubQueue(topic, subscription,
		jobs.WithPubSubLogger(logger.Named("jobs")),
		jobs.WithReceiveSettings(cfg.Jobs.Workers, cfg.Jobs.QueueSize),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	stop := func() {
		queue.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return queue, stop, nil
}

func ensureEmulatorResources(ctx context.Context, client *pubsub.Client, topic *pubsub.Topic, sub *pubsub.Subscription) error {
	exists, err := topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("pubsub topic: %w", err)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, topic.ID()); err != nil {
			return fmt.Errorf("pubsub create topic: %w", err)
		}
	}
	exists, err = sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("pubsub subscription: %w", err)
	}
	if !exists {
		if _, err := client.CreateSubscription(ctx, sub.ID(), pubsub.SubscriptionConfig{Topic: topic}); err != nil {
			return fmt.Errorf("pubsub create subscription: %w", err)
		}
	}
	return nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	authLogger := logger.Named("oidc")

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(authLogger),
		auth.WithOIDCRecorder(func(_ context.Context, _ bool, reason string, _ time.Duration) {
			metrics.OIDCVerification(reason)
		}),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		authLogger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		authLogger.Warn("auth: OIDC issuers not configured; any Google-signed issuer is accepted")
	}

	return validator.RequireOIDC(uniqueStrings([]string{audience}), issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to a non-empty value.
func requiredSecretNames(env map[string]string) []string {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	var required []string
	driver := strings.ToLower(lookup("API_DATABASE_DRIVER"))
	if driver == "" || driver == config.DatabaseDriverMySQL {
		required = append(required, "Database.DSN")
	}
	if lookup("API_TELEGRAM_CHAT_ID") != "" {
		required = append(required, "Telegram.BotToken")
	}
	if lookup("API_REDIS_PASSWORD") != "" {
		required = append(required, "Redis.Password")
	}
	return uniqueStrings(required)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
