// Package writer contains the Sink implementations the sync manager writes
// through: an in-memory sink for tests and local runs, and a PostgreSQL sink
// that maps units of work onto transactions and savepoints.
package writer

import (
	"database/sql"
	"fmt"

	"github.com/stacklok/recordsync/internal/config"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// NewSink creates the sink for job according to the configured storage type.
// db is only used, and then required, for PostgreSQL storage.
func NewSink(cfg *config.Config, db *sql.DB, job string) (pkgsync.Sink, error) {
	switch cfg.GetStorageType() {
	case config.StorageTypeMemory:
		return NewMemorySink(), nil
	case config.StorageTypePostgres:
		sink, err := NewPostgresSink(db, job)
		if err != nil {
			return nil, syncerr.Configuration("create sink", err)
		}
		return sink, nil
	default:
		return nil, syncerr.Configuration("create sink",
			fmt.Errorf("unsupported storage type: %s", cfg.GetStorageType()))
	}
}
