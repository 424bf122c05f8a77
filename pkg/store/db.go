// Package store is the persistence layer for the job orchestration core:
// a thin repository per aggregate over a Postgres connection pool. The
// embedded migration creates every table, including devices,
// credentials, tags, and jobs, which are owned by an external
// collaborator; of those the core writes only jobs.status and the
// credential usage counters (success_count, failure_count, last_used).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" sql driver
)

// Config mirrors a conventional Postgres DSN plus pool tuning, following
// the same field set jordigilh-kubernaut's database.Config exposes
// (Host/Port/User/Password/Database/SSLMode/MaxOpenConns/MaxIdleConns).
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sane local-development defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "netraven",
		Database:        "netraven",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// DSN builds a libpq-style connection string from Config.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// DB wraps a connection pool. Every repository method borrows the pool
// for the duration of a single query or transaction; nothing holds a
// connection across a network call to a device.
type DB struct {
	*sqlx.DB
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx, letting repository
// functions run either against the pool directly or inside a caller's
// WithTx transaction (used by the config store's hash-then-insert check).
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Open connects to Postgres and applies pool tuning from cfg.
func Open(cfg Config) (*DB, error) {
	sqlxdb, err := sqlx.Connect("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	sqlxdb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlxdb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlxdb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlxdb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return &DB{DB: sqlxdb}, nil
}

// WithTx runs fn inside a transaction, committing on a nil return and
// rolling back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
