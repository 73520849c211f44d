package db

import (
	"github.com/dgraph-io/badger/v4"
)

// OpenBadger opens an embedded store with synchronous writes, so a committed
// transaction is on disk before Update returns.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLoggingLevel(badger.WARNING)
	return badger.Open(opts)
}
