// Package db implements the Postgres record store for lists, members,
// pending messages and moderation tokens.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/migadu/listserv/pkg/metrics"
)

//go:embed schema.sql
var schema string

type Database struct {
	Pool *pgxpool.Pool
}

// PoolConfig holds configuration for the database connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewDatabase initializes a new database connection pool and applies the
// embedded schema. The schema is idempotent, so this is safe on every boot.
func NewDatabase(ctx context.Context, host, port, user, password, dbname string, tlsMode bool, poolConfig *PoolConfig) (*Database, error) {
	sslMode := "disable"
	if tlsMode {
		sslMode = "require"
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbname, sslMode)

	log.Printf("[DB] connecting to database: postgres://%s@%s:%s/%s?sslmode=%s",
		user, host, port, dbname, sslMode)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if poolConfig != nil {
		config.MaxConns = poolConfig.MaxConns
		config.MinConns = poolConfig.MinConns
		config.MaxConnLifetime = poolConfig.MaxConnLifetime
		config.MaxConnIdleTime = poolConfig.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	db := &Database{Pool: pool}

	if err := db.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (db *Database) migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, schema)
	return err
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// StartPoolMetrics starts a goroutine that periodically collects connection pool metrics
func (db *Database) StartPoolMetrics(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Pool.Stat()
				metrics.DBPoolTotalConns.Set(float64(stats.TotalConns()))
				metrics.DBPoolIdleConns.Set(float64(stats.IdleConns()))
				metrics.DBPoolInUseConns.Set(float64(stats.AcquiredConns()))
			}
		}
	}()
}

// isUniqueViolation reports whether err is a Postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a Postgres foreign key violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
