package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"wholesale-fulfillment/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDiscover_OrdersAndChecksums(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "002_more.sql", "SELECT 2;")
	writeFile(t, dir, "001_init.sql", "SELECT 1;")
	writeFile(t, dir, "README.md", "ignored")

	got, err := discover(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001", got[0].version)
	assert.Equal(t, "002", got[1].version)
	assert.Len(t, got[0].checksum, 64)
	assert.NotEqual(t, got[0].checksum, got[1].checksum)
}

func TestDiscover_RejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_a.sql", "SELECT 1;")
	writeFile(t, dir, "001_b.sql", "SELECT 1;")

	_, err := discover(dir)
	assert.ErrorContains(t, err, "duplicate migration version 001")
}

func TestDiscover_RejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "init.sql", "SELECT 1;")

	_, err := discover(dir)
	assert.Error(t, err)
}

func TestDiscover_ShippedMigrations(t *testing.T) {
	got, err := discover("../../migrations")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "001", got[0].version)
}

func TestInvalidateSettings_WithoutRedis(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger("info")
	logger.SetOutput(&buf)

	invalidateSettings(context.Background(), config.Config{}, nil, logger)
	assert.Empty(t, buf.String())
}

func TestInvalidateSettings_RedisDownIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger("info")
	logger.SetOutput(&buf)

	// Nothing listens on port 1.
	invalidateSettings(context.Background(), config.Config{RedisAddress: "127.0.0.1:1"}, nil, logger)
	assert.Contains(t, buf.String(), "redis unavailable")
}
