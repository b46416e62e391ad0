package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"task-market/internal/models"
	"task-market/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", filepath.Join(t.TempDir(), "market.db"))
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"taskmarket"}, args...))
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "migrate")
	require.NoError(t, err)

	_, err = run(t, "migrate")
	assert.NoError(t, err, "migrating twice is a no-op")
}

func TestFundCommand(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "fund", "--account", "alice", "--amount", "500")
	require.NoError(t, err)
	assert.Equal(t, "alice free=500 reserved=0\n", out)

	out, err = run(t, "fund", "-a", "alice", "-n", "250")
	require.NoError(t, err)
	assert.Equal(t, "alice free=750 reserved=0\n", out, "balances persist between runs")

	_, err = run(t, "fund", "--account", "alice", "--amount", "lots")
	assert.Error(t, err)

	_, err = run(t, "fund", "--amount", "1")
	assert.Error(t, err, "account is required")
}

func TestTokenCommand(t *testing.T) {
	setupEnv(t)
	t.Setenv("JWT_SECRET", "cli-test-secret")

	out, err := run(t, "token", "--account", "bob")
	require.NoError(t, err)

	account, err := services.NewTokens("cli-test-secret", time.Minute).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, models.AccountID("bob"), account)
}

func TestTokenCommand_RefusedInProduction(t *testing.T) {
	setupEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "cli-test-secret")

	out, err := run(t, "token", "--account", "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "production")
	assert.Empty(t, out)
}

func TestUnknownLogLevelFallsBackToInfo(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "--log-level", "verbose", "migrate")
	assert.NoError(t, err)
}
