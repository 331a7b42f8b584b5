package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store is the opaque persistence collaborator used by bootstrap and the
// session-fatal paths. Keys are flat names, values are raw bytes.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// fileStore keeps one file per key under the data directory.
type fileStore struct {
	dir string
}

func NewFileStore(dir string) Store {
	return &fileStore{dir: dir}
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.dir, strings.ReplaceAll(key, "/", "_"))
}

func (s *fileStore) Get(key string) ([]byte, error) {
	return os.ReadFile(s.path(key))
}

func (s *fileStore) Set(key string, value []byte) error {
	if err := os.MkdirAll(s.dir, os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(s.path(key), value, 0644)
}

// setInactive flags the project so a supervisor won't restart it. Called on
// auth failures and hard invalid sessions.
func setInactive(store Store, uuid string) error {
	return store.Set("inactive", []byte(uuid+" "+time.Now().UTC().Format(time.RFC3339)+"\n"))
}
