package vigil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteBackendConfig configures the SQLite storage backend.
type SQLiteBackendConfig struct {
	// Path to the SQLite database file
	Path string

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int

	// MaxConnections is the max number of database connections
	MaxConnections int

	Logger *zap.Logger
}

// DefaultSQLiteBackendConfig returns default configuration.
func DefaultSQLiteBackendConfig() SQLiteBackendConfig {
	return SQLiteBackendConfig{
		Path:           "vigil.db",
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 4,
	}
}

// SQLiteBackend implements StorageBackend on a single SQLite file.
// Besides the object table it keeps a models table recording every saved
// model version, so the registry can be inspected with standard SQLite tools.
type SQLiteBackend struct {
	db     *sql.DB
	config SQLiteBackendConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool

	insertStmt  *sql.Stmt
	selectStmt  *sql.Stmt
	deleteStmt  *sql.Stmt
	existsStmt  *sql.Stmt
	versionStmt *sql.Stmt
}

// NewSQLiteBackend opens (or creates) a SQLite-based storage backend.
func NewSQLiteBackend(config SQLiteBackendConfig) (*SQLiteBackend, error) {
	def := DefaultSQLiteBackendConfig()
	if config.Path == "" {
		config.Path = def.Path
	}
	if config.JournalMode == "" {
		config.JournalMode = def.JournalMode
	}
	if config.Synchronous == "" {
		config.Synchronous = def.Synchronous
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = def.BusyTimeout
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = def.MaxConnections
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)&_pragma=synchronous(%s)",
		config.Path, config.BusyTimeout, config.JournalMode, config.Synchronous)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)

	backend := &SQLiteBackend{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := backend.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := backend.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.Debug("opened sqlite backend", zap.String("path", config.Path))
	return backend, nil
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			size INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS models (
			version TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			label TEXT NOT NULL,
			grams INTEGER NOT NULL,
			size INTEGER NOT NULL,
			encrypted INTEGER NOT NULL,
			saved_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_models_name ON models(name, saved_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO blobs (key, data, created_at, updated_at, size)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at,
			size = excluded.size
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.selectStmt, err = s.db.Prepare(`SELECT data FROM blobs WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare select statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM blobs WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.existsStmt, err = s.db.Prepare(`SELECT 1 FROM blobs WHERE key = ? LIMIT 1`)
	if err != nil {
		return fmt.Errorf("failed to prepare exists statement: %w", err)
	}

	s.versionStmt, err = s.db.Prepare(`
		INSERT INTO models (version, name, label, grams, size, encrypted, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare version statement: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrBackendClosed
	}
	return nil
}

func (s *SQLiteBackend) Read(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.selectStmt.QueryRowContext(ctx, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %s: %w", key, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (s *SQLiteBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	now := time.Now().UnixNano()
	if _, err := s.insertStmt.ExecContext(ctx, key, data, now, now, len(data)); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.deleteStmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM blobs WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	var exists int
	err := s.existsStmt.QueryRowContext(ctx, key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

// RecordVersion appends a row to the models table.
func (s *SQLiteBackend) RecordVersion(ctx context.Context, info ModelInfo) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.versionStmt.ExecContext(ctx,
		info.Version, info.Name, info.Label, info.Grams, info.Size, info.Encrypted, info.SavedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record model version: %w", err)
	}
	return nil
}

// Versions returns the recorded versions of a model, newest first.
func (s *SQLiteBackend) Versions(ctx context.Context, name string) ([]ModelInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, name, label, grams, size, encrypted, saved_at FROM models
		WHERE name = ?
		ORDER BY saved_at DESC, rowid DESC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query model versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []ModelInfo
	for rows.Next() {
		var info ModelInfo
		var savedAt int64
		if err := rows.Scan(&info.Version, &info.Name, &info.Label, &info.Grams, &info.Size, &info.Encrypted, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan model version: %w", err)
		}
		info.SavedAt = time.Unix(0, savedAt).UTC()
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DB exposes the underlying database handle.
func (s *SQLiteBackend) DB() *sql.DB {
	return s.db
}

func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{s.insertStmt, s.selectStmt, s.deleteStmt, s.existsStmt, s.versionStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}
