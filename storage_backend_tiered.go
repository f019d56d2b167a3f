package vigil

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// TieredBackend keeps a hot local copy in front of a cold remote backend.
// Writes go to both tiers; reads promote cold objects to the hot tier.
type TieredBackend struct {
	hot    StorageBackend
	cold   StorageBackend
	logger *zap.Logger
}

// NewTieredBackend creates a tiered storage backend. A nil logger logs
// nothing.
func NewTieredBackend(hot, cold StorageBackend, logger *zap.Logger) *TieredBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredBackend{
		hot:    hot,
		cold:   cold,
		logger: logger,
	}
}

func (t *TieredBackend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := t.hot.Read(ctx, key)
	if err == nil {
		return data, nil
	}

	data, err = t.cold.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := t.hot.Write(ctx, key, data); err != nil {
		t.logger.Warn("promoting object to hot tier failed", zap.String("key", key), zap.Error(err))
	}
	return data, nil
}

// Write stores the object in the cold tier first so the hot tier never
// holds data the cold tier lacks.
func (t *TieredBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := t.cold.Write(ctx, key, data); err != nil {
		return err
	}
	return t.hot.Write(ctx, key, data)
}

func (t *TieredBackend) Delete(ctx context.Context, key string) error {
	errHot := t.hot.Delete(ctx, key)
	errCold := t.cold.Delete(ctx, key)
	if errHot != nil && !IsNotExist(errHot) {
		return errHot
	}
	if errCold != nil && !IsNotExist(errCold) {
		return errCold
	}
	return nil
}

func (t *TieredBackend) List(ctx context.Context, prefix string) ([]string, error) {
	hotKeys, err := t.hot.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	coldKeys, err := t.cold.List(ctx, prefix)
	if err != nil {
		t.logger.Warn("listing cold tier failed", zap.String("prefix", prefix), zap.Error(err))
		return hotKeys, nil
	}

	seen := make(map[string]bool, len(hotKeys))
	for _, k := range hotKeys {
		seen[k] = true
	}
	for _, k := range coldKeys {
		if !seen[k] {
			hotKeys = append(hotKeys, k)
		}
	}
	sort.Strings(hotKeys)
	return hotKeys, nil
}

func (t *TieredBackend) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := t.hot.Exists(ctx, key)
	if err == nil && exists {
		return true, nil
	}
	return t.cold.Exists(ctx, key)
}

func (t *TieredBackend) Close() error {
	errHot := t.hot.Close()
	errCold := t.cold.Close()
	if errHot != nil {
		return errHot
	}
	return errCold
}
