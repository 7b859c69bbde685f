package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/skillbox/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllMigrationsApply(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := db.OpenWithMigrations(ctx, filepath.Join(t.TempDir(), "storage.db"), All())
	require.NoError(t, err)
	defer sqlDB.Close()

	for _, table := range []string{
		"sop_runs", "sop_audit", "rate_limit_hits", "queue_items",
		"scheduled_jobs", "heartbeats", "code_index", "voice_calls",
	} {
		var exists bool
		err := sqlDB.Get(&exists, `SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name=?`, table)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

func TestAllMigrationsRollBack(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := db.OpenWithMigrations(ctx, filepath.Join(t.TempDir(), "storage.db"), All())
	require.NoError(t, err)
	defer sqlDB.Close()

	runner := db.NewMigrationRunner(sqlDB)
	for range All() {
		require.NoError(t, runner.Rollback(ctx, All()))
	}

	versions, err := runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestVersionsAreUnique(t *testing.T) {
	seen := map[int64]bool{}
	for _, m := range All() {
		assert.False(t, seen[m.Version], "duplicate version %d", m.Version)
		seen[m.Version] = true
		assert.NotEmpty(t, m.Description)
	}
}
