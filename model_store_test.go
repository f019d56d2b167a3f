package vigil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestModelStore(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewModelStore(backend, ModelStoreOptions{Logger: zaptest.NewLogger(t)})
			c := trainedForCodec(t)

			info, err := store.Save(ctx, "pump-1", c)
			require.NoError(t, err)
			assert.Equal(t, "pump-1", info.Name)
			assert.Equal(t, DefaultLabel, info.Label)
			assert.Equal(t, 2, info.Grams)
			assert.NotEmpty(t, info.Version)
			assert.False(t, info.Encrypted)

			loaded, err := store.Load(ctx, "pump-1", ClassifierOptions{})
			require.NoError(t, err)
			assert.Equal(t, "pump-1", loaded.Name())
			assert.Equal(t, c.Model(), loaded.Model())

			got, err := store.Info(ctx, "pump-1")
			require.NoError(t, err)
			assert.Equal(t, info.Version, got.Version)

			_, err = store.Save(ctx, "fan", c)
			require.NoError(t, err)
			infos, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, "fan", infos[0].Name)
			assert.Equal(t, "pump-1", infos[1].Name)

			versions, err := store.Versions(ctx, "pump-1")
			require.NoError(t, err)
			assert.Equal(t, info.Version, versions[0].Version)

			require.NoError(t, store.Delete(ctx, "pump-1"))
			_, err = store.Load(ctx, "pump-1", ClassifierOptions{})
			assert.ErrorIs(t, err, ErrModelNotFound)
			assert.ErrorIs(t, store.Delete(ctx, "pump-1"), ErrModelNotFound)
			_, err = store.Info(ctx, "pump-1")
			assert.ErrorIs(t, err, ErrModelNotFound)
		})
	}
}

func TestModelStoreRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	store := NewModelStore(NewMemoryBackend(), ModelStoreOptions{})
	c := trainedForCodec(t)

	for _, name := range []string{"", "../escape", "a/b", ".hidden", "a..b", "sp ace"} {
		_, err := store.Save(ctx, name, c)
		assert.ErrorIs(t, err, ErrConfiguration, name)
		_, err = store.Load(ctx, name, ClassifierOptions{})
		assert.ErrorIs(t, err, ErrConfiguration, name)
	}
}

func TestModelStoreEncryption(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	c := trainedForCodec(t)

	locked := NewModelStore(backend, ModelStoreOptions{Password: "hunter2"})
	info, err := locked.Save(ctx, "secret", c)
	require.NoError(t, err)
	assert.True(t, info.Encrypted)

	raw, err := backend.Read(ctx, modelKey("secret"))
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))

	loaded, err := locked.Load(ctx, "secret", ClassifierOptions{})
	require.NoError(t, err)
	assert.Equal(t, c.Model(), loaded.Model())

	_, err = NewModelStore(backend, ModelStoreOptions{}).Load(ctx, "secret", ClassifierOptions{})
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StoreErrorTypeRead, se.Type)

	_, err = NewModelStore(backend, ModelStoreOptions{Password: "wrong"}).Load(ctx, "secret", ClassifierOptions{})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StoreErrorTypeCorrupt, se.Type)
	assert.ErrorIs(t, err, ErrModelCorrupt)
	assert.ErrorIs(t, err, ErrDecrypt)

	// A password-protected store still reads plain models.
	plain := NewModelStore(backend, ModelStoreOptions{})
	_, err = plain.Save(ctx, "open", c)
	require.NoError(t, err)
	_, err = locked.Load(ctx, "open", ClassifierOptions{})
	assert.NoError(t, err)
}

func TestModelStoreCorruptBlob(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewModelStore(backend, ModelStoreOptions{})
	_, err := store.Save(ctx, "pump", trainedForCodec(t))
	require.NoError(t, err)

	require.NoError(t, backend.Write(ctx, modelKey("pump"), []byte("garbage")))
	_, err = store.Load(ctx, "pump", ClassifierOptions{})
	assert.ErrorIs(t, err, ErrModelCorrupt)
}

func TestModelStoreVersionHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := trainedForCodec(t)

	sqlite := NewModelStore(newSQLiteBackend(t), ModelStoreOptions{Now: clock})
	memory := NewModelStore(NewMemoryBackend(), ModelStoreOptions{Now: clock})

	var saved []string
	for i := 0; i < 3; i++ {
		info, err := sqlite.Save(ctx, "pump", c)
		require.NoError(t, err)
		_, err = memory.Save(ctx, "pump", c)
		require.NoError(t, err)
		saved = append(saved, info.Version)
		now = now.Add(time.Minute)
	}

	versions, err := sqlite.Versions(ctx, "pump")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, saved[len(saved)-1-i], v.Version)
	}
	assert.True(t, versions[0].SavedAt.Equal(now.Add(-time.Minute)))

	versions, err = memory.Versions(ctx, "pump")
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	// Deleting keeps the recorded history.
	require.NoError(t, sqlite.Delete(ctx, "pump"))
	versions, err = sqlite.Versions(ctx, "pump")
	require.NoError(t, err)
	assert.Len(t, versions, 3)

	_, err = sqlite.Versions(ctx, "never-saved")
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = memory.Versions(ctx, "never-saved")
	assert.ErrorIs(t, err, ErrModelNotFound)
}
