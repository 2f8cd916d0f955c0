package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID": "poultry-dev",
		"API_DATABASE_DSN":        "app:pw@tcp(localhost:3306)/orders?parseTime=true",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Driver != DatabaseDriverMySQL {
		t.Errorf("expected mysql driver, got %s", cfg.Database.Driver)
	}
	if cfg.Firestore.ProjectID != "poultry-dev" || cfg.PubSub.ProjectID != "poultry-dev" {
		t.Errorf("expected firestore and pubsub projects to default to firebase project, got %s/%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Notifications.MaxRetries != 3 {
		t.Errorf("expected 3 notification retries, got %d", cfg.Notifications.MaxRetries)
	}
	if cfg.Notifications.RetryDelay != 30*time.Second {
		t.Errorf("expected 30s retry delay, got %s", cfg.Notifications.RetryDelay)
	}
	if cfg.Telegram.Timeout != 10*time.Second {
		t.Errorf("expected 10s telegram timeout, got %s", cfg.Telegram.Timeout)
	}
	if cfg.Telegram.Configured() {
		t.Errorf("telegram should not be configured without token and chat id")
	}
	if cfg.Business.Location() != time.UTC {
		t.Errorf("expected UTC business location, got %s", cfg.Business.Location())
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected no kafka brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.RateLimits.ReportsPerMinute != defaultRateLimitReports {
		t.Errorf("unexpected report rate limit: %d", cfg.RateLimits.ReportsPerMinute)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":              "9090",
		"API_SERVER_IDLE_TIMEOUT":      "2m",
		"API_FIREBASE_PROJECT_ID":      "poultry-prod",
		"API_DATABASE_DSN":             "secret://mysql/dsn",
		"API_DATABASE_MAX_OPEN_CONNS":  "40",
		"API_DATABASE_AUTO_MIGRATE":    "true",
		"API_REDIS_ADDR":               "redis:6379",
		"API_REDIS_PASSWORD":           "sm://redis/password",
		"API_TELEGRAM_BOT_TOKEN":       "secret://telegram/token",
		"API_TELEGRAM_CHAT_ID":         "-100123",
		"API_NOTIFY_MAX_RETRIES":       "5",
		"API_NOTIFY_RETRY_DELAY":       "10s",
		"API_BUSINESS_TIMEZONE":        "Asia/Jakarta",
		"API_KAFKA_BROKERS":            "kafka-1:9092, kafka-2:9092",
		"API_REPORTS_BUCKET":           "poultry-reports",
		"API_SECURITY_ENVIRONMENT":     "prod",
		"API_SECURITY_OIDC_AUDIENCES":  "prod=https://orders.example.com,stg=https://orders-stg.example.com",
		"API_IDEMPOTENCY_HEADER":       "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":          "48h",
		"API_REALTIME_ALLOWED_ORIGINS": "https://shop.example.com",
	}

	secrets := map[string]string{
		"secret://mysql/dsn":      "prod-dsn",
		"secret://redis/password": "redis-pw",
		"secret://telegram/token": "bot-token",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Database.DSN != "prod-dsn" || cfg.Database.MaxOpenConns != 40 || !cfg.Database.AutoMigrate {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Redis.Password != "redis-pw" {
		t.Errorf("expected legacy sm:// reference to resolve, got %q", cfg.Redis.Password)
	}
	if !cfg.Telegram.Configured() || cfg.Telegram.BotToken != "bot-token" {
		t.Errorf("expected telegram configured with resolved token, got %+v", cfg.Telegram)
	}
	if cfg.Notifications.MaxRetries != 5 || cfg.Notifications.RetryDelay != 10*time.Second {
		t.Errorf("unexpected notification config %+v", cfg.Notifications)
	}
	if cfg.Business.Location().String() != "Asia/Jakarta" {
		t.Errorf("unexpected business location %s", cfg.Business.Location())
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected kafka brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Security.OIDC.Audience != "https://orders.example.com" {
		t.Errorf("expected audience selected by environment, got %s", cfg.Security.OIDC.Audience)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
	if len(cfg.Realtime.AllowedOrigins) != 1 {
		t.Errorf("unexpected allowed origins %v", cfg.Realtime.AllowedOrigins)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=poultry-dot\nexport API_DATABASE_DRIVER=memory\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Database.Driver != DatabaseDriverMemory {
		t.Errorf("expected memory driver from dotenv, got %s", cfg.Database.Driver)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{"API_BUSINESS_TIMEZONE": "Mars/Olympus"}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := map[string]bool{}
	for _, f := range validation.Fields() {
		fields[f] = true
	}
	for _, want := range []string{"Firebase.ProjectID", "Database.DSN", "Business.Timezone"} {
		if !fields[want] {
			t.Errorf("expected %s in invalid fields %v", want, validation.Fields())
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_TELEGRAM_BOT_TOKEN"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://telegram/token=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Telegram.BotToken"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Telegram.BotToken")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Telegram.BotToken" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Telegram.BotToken"),
		WithPanicOnMissingSecrets(),
	)
}
