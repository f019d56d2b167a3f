package vigil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteBackendCreatesFile(t *testing.T) {
	b := newSQLiteBackend(t)
	_, err := os.Stat(b.config.Path)
	assert.NoError(t, err)

	var mode string
	require.NoError(t, b.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLiteBackendVersions(t *testing.T) {
	ctx := context.Background()
	b := newSQLiteBackend(t)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []string{"v1", "v2", "v3"} {
		require.NoError(t, b.RecordVersion(ctx, ModelInfo{
			Name:      "pump",
			Version:   v,
			Label:     "state",
			Grams:     2,
			Size:      100 + i,
			Encrypted: i == 2,
			SavedAt:   t0.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, b.RecordVersion(ctx, ModelInfo{Name: "fan", Version: "f1", Label: "state", SavedAt: t0}))

	infos, err := b.Versions(ctx, "pump")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "v3", infos[0].Version)
	assert.Equal(t, "v1", infos[2].Version)
	assert.True(t, infos[0].Encrypted)
	assert.False(t, infos[1].Encrypted)
	assert.Equal(t, 102, infos[0].Size)
	assert.True(t, infos[0].SavedAt.Equal(t0.Add(2*time.Hour)))

	infos, err = b.Versions(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, infos)

	// Version ids are unique.
	assert.Error(t, b.RecordVersion(ctx, ModelInfo{Name: "pump", Version: "v1", Label: "state", SavedAt: t0}))
}
