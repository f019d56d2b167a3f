package vigil

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// OpenBackend opens the storage backend selected by cfg.Backend.
// The caller owns the returned backend and must Close it.
func OpenBackend(cfg StoreConfig, logger *zap.Logger) (StorageBackend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendFile:
		return NewFileBackend(cfg.Path)
	case BackendSQLite:
		sc := DefaultSQLiteBackendConfig()
		sc.Path = cfg.Path
		sc.Logger = logger
		return NewSQLiteBackend(sc)
	case BackendS3:
		s3cfg := cfg.S3
		s3cfg.Logger = logger
		return NewS3Backend(s3cfg)
	case BackendTiered:
		hot, err := NewFileBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		s3cfg := cfg.S3
		s3cfg.Logger = logger
		cold, err := NewS3Backend(s3cfg)
		if err != nil {
			return nil, err
		}
		return NewTieredBackend(hot, cold, logger), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
