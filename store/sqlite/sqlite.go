/*
Package sqlite provides a SQLite-backed ledger.Store.

PURPOSE:
  Single-file (or in-memory) persistence for development, tests and
  single-node deployments. The SQL itself lives in store/sqlstore; this
  package opens the database, applies the schema and maps SQLite errors.

CONCURRENCY:
  SQLite has one writer at a time. The DSN asks for BEGIN IMMEDIATE so each
  unit of work takes the write lock up front, which is what makes LockStream
  and the document locks hold without FOR UPDATE. The pool is capped at one
  connection so ":memory:" databases are shared and writers queue in
  database/sql instead of failing with SQLITE_BUSY.

WAL MODE:
  File databases run in WAL (Write-Ahead Logging) mode for crash recovery
  and non-blocking readers.

ERROR MAPPING:
  SQLITE_BUSY / SQLITE_LOCKED and UNIQUE / PRIMARY KEY violations become
  ledger.ErrConflict so the unit of work is replayed.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/storeledger/store/sqlstore"
)

// Dialect is the SQLite flavour of the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:             "sqlite",
	SerialPrimaryKey: "INTEGER PRIMARY KEY AUTOINCREMENT",
	IsConflict:       isConflict,
}

// Store implements ledger.Store using SQLite.
type Store struct {
	*sqlstore.Store
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{Store: sqlstore.New(db, Dialect)}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
}

func isConflict(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return true
	case sqlite3.ErrConstraint:
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
