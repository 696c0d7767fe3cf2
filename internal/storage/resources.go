package storage

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// ResourceStore tracks produced audio files. Evicting an entry deletes its file.
type ResourceStore struct {
	store *ExpiringStore[types.Resource]
	ttl   time.Duration
}

func NewResourceStore(ttl time.Duration) *ResourceStore {
	s := &ResourceStore{
		store: NewExpiringStore[types.Resource]("resource"),
		ttl:   ttl,
	}
	s.store.SetRelease(func(_ string, r types.Resource) error {
		return removeFile(r.FilePath)
	})
	return s
}

func (s *ResourceStore) Store() *ExpiringStore[types.Resource] {
	return s.store
}

// Register takes ownership of filePath under id.
func (s *ResourceStore) Register(id, filePath, filename, format string) types.Resource {
	now := s.store.now()
	res := types.Resource{
		ID:        id,
		FilePath:  filePath,
		Filename:  filename,
		Format:    format,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.store.Put(id, res)
	return res
}

// Get returns a live resource whose file still exists. A vanished file
// drops the entry and reports not found.
func (s *ResourceStore) Get(id string) (types.Resource, error) {
	res, err := s.store.Get(id)
	if err != nil {
		return res, err
	}
	if _, err := os.Stat(res.FilePath); errors.Is(err, os.ErrNotExist) {
		s.store.Remove(id)
		return types.Resource{}, &types.NotFoundError{Kind: "resource", ID: id}
	}
	return res, nil
}

func (s *ResourceStore) Remove(id string) {
	s.store.Remove(id)
}

func (s *ResourceStore) Sweep() int {
	return s.store.Sweep()
}

// Paths returns the set of files currently owned by live resources.
func (s *ResourceStore) Paths() map[string]bool {
	paths := make(map[string]bool)
	s.store.Range(func(_ string, r types.Resource) bool {
		paths[filepath.Clean(r.FilePath)] = true
		return true
	})
	return paths
}

func removeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
