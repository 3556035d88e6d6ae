package status

import (
	"database/sql"
	"fmt"

	"github.com/stacklok/recordsync/internal/config"
)

// NewStatusPersistence picks the status store matching the configured storage
// type: PostgreSQL storage keeps statuses next to the entities, memory storage
// writes them to files under the status directory.
func NewStatusPersistence(cfg *config.Config, db *sql.DB) (StatusPersistence, error) {
	switch cfg.GetStorageType() {
	case config.StorageTypePostgres:
		if db == nil {
			return nil, fmt.Errorf("database handle is required when storage type is %s", config.StorageTypePostgres)
		}
		return NewDBStatusPersistence(db), nil
	default:
		return NewFileStatusPersistence(cfg.GetStatusDir()), nil
	}
}
