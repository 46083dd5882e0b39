// Package cachefs implements the orchestration Cache's disk backend as
// content-addressed files under a root directory. The backend is free
// to choose the on-disk layout; this one shards by key prefix.
package cachefs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/manthysbr/auleOS/internal/core/ports"
)

// entryEnvelope wraps the stored bytes with an expiry so Read can honor
// TTL without relying on filesystem mtimes.
type entryEnvelope struct {
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Store is a filesystem-backed ports.CacheStorage implementation.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: dir}, nil
}

var _ ports.CacheStorage = (*Store)(nil)

func (s *Store) pathFor(key string) string {
	if len(key) < 2 {
		return filepath.Join(s.root, key)
	}
	return filepath.Join(s.root, key[:2], key+".json")
}

func (s *Store) Read(key string) ([]byte, bool, error) {
	path := s.pathFor(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var env entryEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, err
	}
	if !env.ExpiresAt.IsZero() && time.Now().After(env.ExpiresAt) {
		_ = os.Remove(path)
		return nil, false, nil
	}
	return env.Data, true, nil
}

func (s *Store) Write(key string, data []byte, ttl time.Duration) error {
	path := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	env := entryEnvelope{Data: data}
	if ttl > 0 {
		env.ExpiresAt = time.Now().Add(ttl)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func (s *Store) Delete(key string) error {
	err := os.Remove(s.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) ListKeys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		name := filepath.Base(path)
		keys = append(keys, name[:len(name)-len(".json")])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
