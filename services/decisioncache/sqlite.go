package decisioncache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
	CREATE TABLE IF NOT EXISTS decision_cache (
		cache_key  TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decision_cache_expires_at ON decision_cache(expires_at);
`

// SQLStore keeps grants in an embedded SQLite database.
// Expired rows are filtered on read and removed by a periodic sweep.
type SQLStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// OpenSQLStore opens dsn with the modernc.org/sqlite driver and creates the schema
func OpenSQLStore(ctx context.Context, dsn string, ttl time.Duration, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	store := NewSQLStore(db, ttl, logger)
	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLStore wraps an open database. The schema must already exist or be
// created with InitSchema.
func NewSQLStore(db *sql.DB, ttl time.Duration, logger *zap.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// InitSchema creates the cache table
func (s *SQLStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize decision cache schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (bool, error) {
	query := `SELECT 1 FROM decision_cache WHERE cache_key = ? AND expires_at > ?`

	var found int
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixNano()).Scan(&found)
	if err != nil {
		s.misses.Add(1)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read decision cache: %w", err)
	}

	s.hits.Add(1)
	return true, nil
}

func (s *SQLStore) Set(ctx context.Context, key string) error {
	query := `
		INSERT INTO decision_cache (cache_key, expires_at)
		VALUES (?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET expires_at = excluded.expires_at
	`

	expiresAt := s.now().Add(s.ttl).UnixNano()
	if _, err := s.db.ExecContext(ctx, query, key, expiresAt); err != nil {
		return fmt.Errorf("failed to write decision cache: %w", err)
	}
	return nil
}

// Ping checks the database can answer a query
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("decision cache health check failed: %w", err)
	}
	return nil
}

// CleanupExpired deletes expired rows and returns how many were removed
func (s *SQLStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM decision_cache WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep decision cache: %w", err)
	}
	return result.RowsAffected()
}

// StartSweeper runs CleanupExpired every interval until Close
func (s *SQLStore) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				removed, err := s.CleanupExpired(context.Background())
				if err != nil {
					s.logger.Warn("decision cache sweep failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					s.logger.Debug("decision cache swept", zap.Int64("removed", removed))
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *SQLStore) Stats() Stats {
	hits, misses := s.hits.Load(), s.misses.Load()
	stats := Stats{
		Backend: BackendSQLite,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_cache WHERE expires_at > ?`, s.now().UnixNano()).Scan(&stats.Size); err != nil {
		s.logger.Warn("failed to count decision cache entries", zap.Error(err))
	}

	return stats
}

// Close stops the sweeper and closes the database
func (s *SQLStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return s.db.Close()
}
