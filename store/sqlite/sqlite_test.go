package sqlite

import (
	"errors"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storeledger/ledger"
	"github.com/warp/storeledger/store/storetest"
)

func newTestStore(t *testing.T) ledger.Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestSQLite_FileDatabase(t *testing.T) {
	path := t.TempDir() + "/ledger.db"

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening runs the idempotent migration again
	store, err = New(path)
	require.NoError(t, err)
	defer store.Close()
}

func TestDSN(t *testing.T) {
	assert.Equal(t,
		":memory:?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000",
		dsn(":memory:"))
	assert.Equal(t,
		"file:x.db?cache=shared&_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000",
		dsn("file:x.db?cache=shared"))
}

func TestIsConflict(t *testing.T) {
	assert.True(t, isConflict(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isConflict(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}))
	assert.False(t, isConflict(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}))
	assert.False(t, isConflict(errors.New("disk on fire")))
}
