package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// snapshotVersion guards against reading snapshots written by an
// incompatible build. The format is internal and free to change.
const snapshotVersion = 1

// ErrNoSnapshot indicates no snapshot exists yet. The service starts empty;
// this is not an error condition.
var ErrNoSnapshot = errors.New("no snapshot")

// snapshot is the persisted representation of the full live entry set plus
// aggregate stats.
type snapshot struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Hits    uint64            `json:"hits"`
	Misses  uint64            `json:"misses"`
	Entries map[string]*Entry `json:"entries"`
}

// SnapshotStore persists an opaque snapshot blob. Save must be atomic: a
// crash mid-save never leaves a partial snapshot visible to a later Load.
type SnapshotStore interface {
	Save(ctx context.Context, data []byte) error

	// Load returns the most recent snapshot, or ErrNoSnapshot when none
	// has been written yet.
	Load(ctx context.Context) ([]byte, error)
}

// FileStore persists snapshots to a single file using a
// write-to-temporary-file-then-rename sequence.
type FileStore struct {
	path string
}

// NewFileStore creates a snapshot store writing to the given path.
// Parent directories are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the blob to a temporary file in the target directory and
// renames it over the snapshot path.
func (s *FileStore) Save(ctx context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot file.
func (s *FileStore) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// RedisStore persists snapshots under a single Redis key. A SET of the
// whole blob replaces the previous snapshot atomically.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// DefaultRedisKey is the snapshot key used when none is given.
const DefaultRedisKey = "gengate:cache:snapshot"

// NewRedisStore creates a snapshot store backed by the given Redis client.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{redis: client, key: key}
}

// Save stores the blob under the snapshot key with no expiry.
func (s *RedisStore) Save(ctx context.Context, data []byte) error {
	if err := s.redis.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

// Load reads the blob stored under the snapshot key.
func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return data, nil
}
