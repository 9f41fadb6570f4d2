package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"ptz-panel/internal/ptz"
)

// FileStore keeps the record in a JSON file, written atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

// NewFileStore creates a store at path. The directory is created on first save.
func NewFileStore(path string, log *zap.Logger) *FileStore {
	return &FileStore{path: path, log: log.Named("settings.file")}
}

// Path returns the file used by this store
func (s *FileStore) Path() string { return s.path }

// Load reads the record. A missing or corrupt file yields Defaults.
func (s *FileStore) Load(_ context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Defaults(), fmt.Errorf("%w: reading %s: %w", ptz.ErrStorageUnavailable, s.path, err)
	}

	st := Defaults()
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("corrupt settings file, using defaults", zap.String("path", s.path), zap.Error(err))
		return Defaults(), nil
	}
	if st.FavoritePresets == nil {
		st.FavoritePresets = make(map[string]int)
	}
	return st, nil
}

// Save writes the record to a temp file and renames it into place.
func (s *FileStore) Save(_ context.Context, st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ptz.ErrStorageUnavailable, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ptz.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %w", ptz.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
