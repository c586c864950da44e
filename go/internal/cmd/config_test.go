package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_DefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "SQLite")

	config, err := loadConfig(writeConfig(t, "room:\n  mode: async\n"))
	require.NoError(t, err)

	assert.Equal(t, "9090", config.Server.Port)
	assert.Equal(t, "sqlite", config.Store.Driver)
	assert.Equal(t, "roundsync.db", config.Store.SQLitePath)
	assert.Equal(t, "async", config.Room.Mode)
	assert.Equal(t, "inline", config.Relay.Mode)
	assert.Equal(t, []string{"*"}, config.Server.AllowedOrigins)
	assert.Equal(t, "secret", config.JWTSecret)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := map[string]struct {
		body   string
		secret string
	}{
		"missing secret":          {body: "store:\n  driver: memory\n"},
		"unknown driver":          {body: "store:\n  driver: mongo\n", secret: "s"},
		"outbox without postgres": {body: "store:\n  driver: sqlite\nrelay:\n  mode: outbox\n", secret: "s"},
		"unknown relay":           {body: "relay:\n  mode: kafka\n", secret: "s"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", tc.secret)
			t.Setenv("STORE_DRIVER", "")
			t.Setenv("RELAY_MODE", "")
			_, err := loadConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadContent(t *testing.T) {
	items, err := loadContent("")
	require.NoError(t, err)
	assert.Empty(t, items)

	path := filepath.Join(t.TempDir(), "content.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"c1","category":"cities","difficulty":2,"active":true}]`), 0o600))
	items, err = loadContent(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c1", items[0].ID)
	assert.Equal(t, 2, items[0].Difficulty)
}
