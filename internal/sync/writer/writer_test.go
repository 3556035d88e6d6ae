package writer

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/recordsync/internal/config"
	"github.com/stacklok/recordsync/internal/syncerr"
)

func TestNewSink(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tests := []struct {
		name         string
		storageType  string
		withDB       bool
		expectedType any
		expectError  bool
	}{
		{name: "default is memory", expectedType: &MemorySink{}},
		{name: "memory", storageType: config.StorageTypeMemory, expectedType: &MemorySink{}},
		{name: "postgres", storageType: config.StorageTypePostgres, withDB: true, expectedType: &postgresSink{}},
		{name: "postgres without database", storageType: config.StorageTypePostgres, expectError: true},
		{name: "unknown", storageType: "mongodb", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{Storage: config.StorageConfig{Type: tt.storageType}}
			handle := db
			if !tt.withDB {
				handle = nil
			}

			sink, err := NewSink(cfg, handle, "products")
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.expectedType, sink)
		})
	}
}
