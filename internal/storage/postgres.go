package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Postgres holds the optional request-log database. Rate limits and metrics
// never touch it.
type Postgres struct {
	DB *gorm.DB
}

type postgresOptions struct {
	maxIdleConns int
	maxOpenConns int
	connLifetime time.Duration
	logLevel     logger.LogLevel
	tables       []interface{}
}

type PostgresOption func(*postgresOptions)

// Request logs arrive in batches from a single writer, so the pool stays small
func WithPool(maxIdle, maxOpen int) PostgresOption {
	return func(o *postgresOptions) {
		if maxOpen > 0 {
			o.maxOpenConns = maxOpen
		}
		if maxIdle > 0 {
			o.maxIdleConns = maxIdle
		}
	}
}

func WithQueryLog(level logger.LogLevel) PostgresOption {
	return func(o *postgresOptions) { o.logLevel = level }
}

// Creates or alters the tables of the given models when the database opens
func WithMigration(tables ...interface{}) PostgresOption {
	return func(o *postgresOptions) { o.tables = append(o.tables, tables...) }
}

// NewPostgres connects to the database at dsn
func NewPostgres(dsn string, opts ...PostgresOption) (*Postgres, error) {
	return OpenPostgres(postgres.Open(dsn), opts...)
}

// OpenPostgres is NewPostgres over an already configured dialector
func OpenPostgres(dialector gorm.Dialector, opts ...PostgresOption) (*Postgres, error) {
	o := postgresOptions{
		maxIdleConns: 5,
		maxOpenConns: 20,
		connLifetime: time.Hour,
		logLevel:     logger.Warn,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxIdleConns > o.maxOpenConns {
		o.maxIdleConns = o.maxOpenConns
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(o.logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
		// Access records are independent rows
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open request log database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(o.maxOpenConns)
	sqlDB.SetMaxIdleConns(o.maxIdleConns)
	sqlDB.SetConnMaxLifetime(o.connLifetime)

	p := &Postgres{DB: db}
	if len(o.tables) > 0 {
		if err := db.AutoMigrate(o.tables...); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to migrate request log tables: %w", err)
		}
	}

	return p, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (p *Postgres) Close() error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
