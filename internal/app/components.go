package app

import (
	"github.com/stacklok/recordsync/internal/db"
	"github.com/stacklok/recordsync/internal/status"
	"github.com/stacklok/recordsync/internal/sync/coordinator"
	"github.com/stacklok/recordsync/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// SyncCoordinator runs the scheduled and manual sync cycles
	SyncCoordinator coordinator.Coordinator

	// StatusPersistence stores per-job status
	StatusPersistence status.StatusPersistence

	// Telemetry holds the tracer and meter providers
	Telemetry *telemetry.Telemetry

	// Database is the database connection (optional)
	Database *db.Connection
}
