package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Backend persists one named JSON document per logical store. The
// store never touches files directly; swapping in MemoryBackend gives
// tests a disk-free rule store.
type Backend interface {
	Load(name string, v any) error
	Save(name string, v any) error
}

// FileBackend stores each document as <dir>/<name>.json, written
// atomically: marshal to a temp file in the same directory, fsync,
// then rename over the target. A crash mid-write leaves the previous
// document intact.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the state directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

// Load reads the named document. A missing file is not an error: v is
// left untouched so the caller starts empty.
func (b *FileBackend) Load(name string, v any) error {
	data, err := os.ReadFile(b.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// Save atomically replaces the named document.
func (b *FileBackend) Save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(b.dir, name+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), b.path(name))
}

// MemoryBackend keeps documents in a map. Used by tests and by
// processes that run without a state directory.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(name string, v any) error {
	b.mu.Lock()
	data, ok := b.docs[name]
	b.mu.Unlock()

	if !ok {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (b *MemoryBackend) Save(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.docs[name] = data
	b.mu.Unlock()
	return nil
}
