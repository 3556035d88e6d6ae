package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/recordsync/internal/config"
	"github.com/stacklok/recordsync/internal/syncerr"
)

func TestDefaultSourceFactory_CreateSource(t *testing.T) {
	t.Parallel()

	factory := NewSourceFactory()

	tests := []struct {
		name         string
		job          *config.JobConfig
		expectedType any
		expectError  bool
	}{
		{
			name:         "api source",
			job:          &config.JobConfig{Name: "products", API: &config.APIConfig{Endpoint: "https://example.com/changes"}},
			expectedType: &apiSource{},
		},
		{
			name:         "file source",
			job:          &config.JobConfig{Name: "products", File: &config.FileConfig{Path: "changes.json"}},
			expectedType: &fileSource{},
		},
		{
			name:        "no source",
			job:         &config.JobConfig{Name: "products"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src, err := factory.CreateSource(tt.job)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
				assert.Nil(t, src)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.expectedType, src)
		})
	}
}
