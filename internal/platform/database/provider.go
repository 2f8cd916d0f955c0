package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chicken-store/orders-api/internal/platform/config"
)

const defaultPingTimeout = 5 * time.Second

// Provider owns the shared gorm handle backed by MySQL.
type Provider struct {
	db *gorm.DB
}

// Option customises how the provider opens the database.
type Option func(*options)

type options struct {
	gormConfig  *gorm.Config
	pingTimeout time.Duration
	dialector   gorm.Dialector
}

// WithGormConfig overrides the gorm configuration.
func WithGormConfig(cfg *gorm.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.gormConfig = cfg
		}
	}
}

// WithDialector swaps the MySQL dialector, primarily for tests.
func WithDialector(d gorm.Dialector) Option {
	return func(o *options) {
		o.dialector = d
	}
}

// Open connects to MySQL, applies pool limits and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*Provider, error) {
	o := options{
		gormConfig: &gorm.Config{
			Logger:                 logger.Default.LogMode(logger.Silent),
			SkipDefaultTransaction: true,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		},
		pingTimeout: defaultPingTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	dialector := o.dialector
	if dialector == nil {
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			return nil, errors.New("database: dsn is required")
		}
		dialector = mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         191,
			SkipInitializeWithVersion: false,
		})
	}

	db, err := gorm.Open(dialector, o.gormConfig)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: underlying handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	provider := &Provider{db: db}
	pingCtx, cancel := context.WithTimeout(ctx, o.pingTimeout)
	defer cancel()
	if err := provider.Ping(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return provider, nil
}

// DB returns the shared gorm handle.
func (p *Provider) DB() *gorm.DB {
	if p == nil {
		return nil
	}
	return p.db
}

// Ping verifies the database is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if p == nil || p.db == nil {
		return errors.New("database: provider not initialised")
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Provider) Close(context.Context) error {
	if p == nil || p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
