/*
Package postgres provides a PostgreSQL-backed ledger.Store using pgx.

PURPOSE:
  Multi-writer production persistence. Units of work run at READ COMMITTED
  and serialise on row locks: LockStream and the document locks issue
  SELECT ... FOR UPDATE, so every statement after the lock sees the latest
  committed rows.

ERROR MAPPING:
  40001 serialization_failure, 40P01 deadlock_detected, 55P03
  lock_not_available and 23505 unique_violation become ledger.ErrConflict
  and the unit of work is replayed.

USAGE:
  store, err := postgres.New(ctx, postgres.Config{DSN: os.Getenv("LEDGER_DATABASE_DSN")})
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/warp/storeledger/store/sqlstore"
)

// Dialect is the PostgreSQL flavour of the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:             "postgres",
	ForUpdate:        " FOR UPDATE",
	SerialPrimaryKey: "BIGSERIAL PRIMARY KEY",
	IsConflict:       isConflict,
}

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements ledger.Store using PostgreSQL.
type Store struct {
	*sqlstore.Store
}

// New connects, verifies the connection and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database dsn: %w", err)
	}

	db := sqlx.NewDb(stdlib.OpenDB(*connCfg), "pgx")
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{Store: sqlstore.New(db, Dialect)}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Reset truncates every ledger table. Used by tests against a shared database.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.DB().ExecContext(ctx, `TRUNCATE
		inventory_transactions, inventory_streams, document_sequences,
		master_ledger_events, transfer_lines, transfers, stock_count_lines, stock_counts`)
	return err
}

var conflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"23505": true, // unique_violation
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return conflictCodes[pgErr.Code]
}
