package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blockflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":8080"
database_url: postgres://file/db
log:
  level: debug
  format: json
scheduler:
  tick: 30s
  execution_timeout: 1m
`)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("SCHEDULER_TICK", "")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.ListenAddr)
	assert.Equal(t, "postgres://env/db", c.DatabaseURL)
	assert.Equal(t, 30*time.Second, c.Scheduler.Tick, "empty env values are ignored")
	assert.Equal(t, time.Minute, c.Scheduler.ExecutionTimeout)
	assert.Equal(t, "json", c.Log.Format)
}

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	t.Setenv("BLOCKFLOW_STORE", "memory")
	t.Setenv("DATABASE_URL", "")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":3000", c.ListenAddr)
	assert.Equal(t, StoreMemory, c.Store)
	assert.Equal(t, 10*time.Second, c.Scheduler.Tick)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BLOCKFLOW_STORE", "")

	_, err := Load("")
	assert.ErrorContains(t, err, "DATABASE_URL is not set")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config: read")

	_, err = Load(writeFile(t, "scheduler: [unclosed"))
	assert.ErrorContains(t, err, "config: parse")

	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("SCHEDULER_TICK", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "SCHEDULER_TICK")

	t.Setenv("SCHEDULER_TICK", "")
	t.Setenv("LOG_LEVEL", "loud")
	_, err = Load("")
	assert.ErrorContains(t, err, "log level")
}

func TestLogger(t *testing.T) {
	c := Default()
	c.Log.Format = "json"
	c.Log.Level = "warn"
	var buf bytes.Buffer
	log := c.Logger(&buf)

	log.Info("hidden")
	log.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
