package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/recordsync/internal/config"
)

func TestNewConnection_InvalidConfig(t *testing.T) {
	t.Parallel()

	valid := func() *config.DatabaseConfig {
		return &config.DatabaseConfig{Host: "localhost", Port: 5432, User: "recordsync", Database: "recordsync"}
	}

	tests := []struct {
		name          string
		cfg           func() *config.DatabaseConfig
		errorContains string
	}{
		{name: "nil config", cfg: func() *config.DatabaseConfig { return nil }, errorContains: "configuration is required"},
		{name: "missing host", cfg: func() *config.DatabaseConfig { c := valid(); c.Host = ""; return c }, errorContains: "host is required"},
		{name: "missing port", cfg: func() *config.DatabaseConfig { c := valid(); c.Port = 0; return c }, errorContains: "port is required"},
		{name: "missing user", cfg: func() *config.DatabaseConfig { c := valid(); c.User = ""; return c }, errorContains: "user is required"},
		{name: "missing database", cfg: func() *config.DatabaseConfig { c := valid(); c.Database = ""; return c }, errorContains: "name is required"},
		{
			name:          "invalid lifetime",
			cfg:           func() *config.DatabaseConfig { c := valid(); c.ConnMaxLifetime = "forever"; return c },
			errorContains: "invalid connection max lifetime",
		},
		{
			name:          "unreadable password file",
			cfg:           func() *config.DatabaseConfig { c := valid(); c.PasswordFile = "/nonexistent/password"; return c },
			errorContains: "failed to get database password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conn, err := NewConnection(context.Background(), tt.cfg())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
			assert.Nil(t, conn)
		})
	}
}

func TestConnection_NilHandle(t *testing.T) {
	t.Parallel()

	conn := &Connection{}
	require.Error(t, conn.Ping(context.Background()))
	require.NoError(t, conn.Close())
}
