package decisioncache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/upb/apiauth/models"
	"go.uber.org/zap"
)

// Backend names accepted by New
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

const (
	DefaultTTL           = 60 * time.Second
	DefaultSweepInterval = 30 * time.Second
	DefaultSQLiteDSN     = ":memory:"
)

// Store remembers which (principal, checksum) pairs were granted.
// Only grants are ever stored; absence means unknown.
type Store interface {
	// Get reports whether key holds an unexpired grant
	Get(ctx context.Context, key string) (bool, error)
	// Set records a grant for key, replacing any previous expiry
	Set(ctx context.Context, key string) error
	// Ping checks that the store is usable
	Ping(ctx context.Context) error
	Stats() Stats
	Close() error
}

// Stats represents cache statistics
type Stats struct {
	Backend string  `json:"backend"`
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Config selects and sizes the store
type Config struct {
	Backend string
	TTL     time.Duration
	// MaxEntries bounds the memory backend; 0 means unbounded
	MaxEntries    int
	SweepInterval time.Duration
	SQLiteDSN     string
}

// New creates the store named by config.Backend
func New(config Config, logger *zap.Logger) (Store, error) {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}

	switch config.Backend {
	case "", BackendMemory:
		logger.Debug("using in-memory decision cache",
			zap.Duration("ttl", config.TTL),
			zap.Int("max_entries", config.MaxEntries))
		return NewMemoryStore(config.MaxEntries, config.TTL), nil
	case BackendSQLite:
		if config.SQLiteDSN == "" {
			config.SQLiteDSN = DefaultSQLiteDSN
		}
		logger.Debug("using sqlite decision cache",
			zap.Duration("ttl", config.TTL),
			zap.String("dsn", config.SQLiteDSN))
		store, err := OpenSQLStore(context.Background(), config.SQLiteDSN, config.TTL, logger)
		if err != nil {
			return nil, err
		}
		store.StartSweeper(config.SweepInterval)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown decision cache backend: %q", config.Backend)
	}
}

// Hash returns the hex xxhash64 digest of content
func Hash(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 16)
}

// Checksum hashes the JSON encoding of requests. Order is significant.
func Checksum(requests []models.PermissionRequest) (string, error) {
	data, err := json.Marshal(requests)
	if err != nil {
		return "", fmt.Errorf("failed to encode permission requests: %w", err)
	}
	return Hash(string(data)), nil
}

// Key builds the cache key for a principal and checksum
func Key(principalID, checksum string) string {
	return principalID + "-" + checksum
}
