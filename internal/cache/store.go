package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is the persisted form of one cache entry: price and the resolution
// time in seconds since the epoch.
type Record struct {
	Price     float64 `json:"price"`
	Timestamp float64 `json:"timestamp"`
}

// Store persists the whole token -> Record mapping.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the persisted mapping, or an empty map if nothing was saved yet.
	Load(ctx context.Context) (map[string]Record, error)
	// Save replaces the persisted mapping.
	Save(ctx context.Context, records map[string]Record) error
	Close() error
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}

// FileStore keeps the mapping in a single JSON file.
type FileStore struct {
	mu   sync.RWMutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	records := map[string]Record{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse cache file: %w", err)
	}
	return records, nil
}

// Save writes atomically through a temp file and rename.
func (s *FileStore) Save(_ context.Context, records map[string]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// ErrStoreUnavailable marks a store whose backend could not be reached.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// DefaultRedisKey is where RedisStore keeps the JSON mapping.
const DefaultRedisKey = "priceresolver:prices"

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// URL like "redis://localhost:6379/0".
	URL string
	Key string
}

// RedisStore keeps the mapping as one JSON value so several processes can
// share a warm cache.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connect to redis: %w", ErrStoreUnavailable, err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Load(ctx context.Context) (map[string]Record, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("get cache from redis: %w", err)
	}
	records := map[string]Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse cache from redis: %w", err)
	}
	return records, nil
}

func (s *RedisStore) Save(ctx context.Context, records map[string]Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set cache in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
