package favorites

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Klingon-tech/klingfolio/internal/storage"
)

// Persister loads and saves the serialized favorites collection.
// Load returns (nil, nil) when nothing has been saved yet.
type Persister interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// SettingsStore is the subset of *storage.Storage used for persistence.
type SettingsStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// SettingsPersister keeps the collection under a single settings key.
type SettingsPersister struct {
	store SettingsStore
	key   string
}

// NewSettingsPersister returns a persister writing to key. An empty key
// uses StorageKey.
func NewSettingsPersister(store SettingsStore, key string) *SettingsPersister {
	if key == "" {
		key = StorageKey
	}
	return &SettingsPersister{store: store, key: key}
}

// Load implements Persister.
func (p *SettingsPersister) Load() ([]byte, error) {
	value, err := p.store.GetSetting(p.key)
	if errors.Is(err, storage.ErrSettingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// Save implements Persister.
func (p *SettingsPersister) Save(data []byte) error {
	return p.store.SetSetting(p.key, string(data))
}

// FilePersister keeps the collection in a JSON file, replaced atomically on
// every save.
type FilePersister struct {
	path string
	mu   sync.Mutex
}

// NewFilePersister returns a persister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// DefaultFilePath returns the favorites file inside a data directory.
func DefaultFilePath(dataDir string) string {
	return filepath.Join(dataDir, StorageKey+".json")
}

// Load implements Persister.
func (p *FilePersister) Load() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read favorites file: %w", err)
	}
	return data, nil
}

// Save implements Persister.
func (p *FilePersister) Save(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return atomicWriteFile(p.path, data, 0600)
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"

	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
