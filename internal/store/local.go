// Package store provides the durable SQLite layer: a generic TTL-aware blob
// table the response cache can write through to, and session rows for
// resuming sessions across processes. The in-memory implementations remain
// the defaults; this store is opt-in via configuration.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/louipr/spark-sub001/internal/types"
)

// LocalStore wraps a single SQLite connection. The mutex serializes access
// the same way the single-connection pool does; both guards are kept so
// read methods can use RLock.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

// NewLocalStore opens (or creates) the database at path.
func NewLocalStore(path string, logger *zap.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &LocalStore{db: db, dbPath: path, logger: logger.Named("store")}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.logger.Info("local store opened", zap.String("path", path))
	return s, nil
}

func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		ttl_seconds INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_accessed TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		access_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// -----------------------------------------------------------------------------
// Blob store (cache write-through, generic KV)
// -----------------------------------------------------------------------------

// PutBlob stores value under key. Idempotent per key.
func (s *LocalStore) PutBlob(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO blobs (key, value, ttl_seconds, created_at, last_accessed, access_count)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 0)`,
		key, value, int64(ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("failed to store blob: %w", err)
	}
	return nil
}

// GetBlob loads a blob and bumps its access bookkeeping. TTL-expired rows
// are removed and reported as not found.
func (s *LocalStore) GetBlob(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value []byte
	var ttlSeconds int64
	var createdAt time.Time
	err := s.db.QueryRow(
		"SELECT value, ttl_seconds, created_at FROM blobs WHERE key = ?", key,
	).Scan(&value, &ttlSeconds, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("blob %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob: %w", err)
	}

	if ttlSeconds > 0 && time.Since(createdAt) > time.Duration(ttlSeconds)*time.Second {
		_, _ = s.db.Exec("DELETE FROM blobs WHERE key = ?", key)
		return nil, fmt.Errorf("blob %s: %w", key, types.ErrNotFound)
	}

	_, _ = s.db.Exec(
		"UPDATE blobs SET access_count = access_count + 1, last_accessed = CURRENT_TIMESTAMP WHERE key = ?",
		key,
	)
	return value, nil
}

// DeleteBlob removes a blob; unknown keys are not an error.
func (s *LocalStore) DeleteBlob(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM blobs WHERE key = ?", key)
	return err
}

// ListBlobKeys returns every stored key, for diagnostics.
func (s *LocalStore) ListBlobKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT key FROM blobs ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// CleanupBlobs deletes every TTL-expired row and returns the count.
func (s *LocalStore) CleanupBlobs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM blobs
		 WHERE ttl_seconds > 0
		   AND (strftime('%s','now') - strftime('%s', created_at)) > ttl_seconds`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup blobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// -----------------------------------------------------------------------------
// Session persistence
// -----------------------------------------------------------------------------

// SaveSession upserts the full session payload.
func (s *LocalStore) SaveSession(sess *types.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, payload, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, string(payload), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession reads one session by id.
func (s *LocalStore) LoadSession(id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow("SELECT payload FROM sessions WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess types.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns summaries ordered most recently updated first.
func (s *LocalStore) ListSessions() ([]types.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT payload FROM sessions ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SessionSummary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var sess types.Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			s.logger.Warn("skipping corrupt session row", zap.Error(err))
			continue
		}
		out = append(out, types.SessionSummary{
			ID:         sess.ID,
			UserID:     sess.UserID,
			Stage:      sess.Workflow.Stage,
			Progress:   sess.Workflow.Progress,
			Iterations: sess.Context.IterationCount,
			UpdatedAt:  sess.UpdatedAt,
		})
	}
	return out, rows.Err()
}

// DeleteSession removes a session row; unknown ids are not an error.
func (s *LocalStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}
