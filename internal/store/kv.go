package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is the durable key-value contract everything persistence-shaped in
// this repository is written against, so any backend (Redis on the relay
// server, plain files on a laptop or phone-adjacent caller) can carry the
// pending-request and conversation state.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns all keys with the given prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// FileKV stores each key as a JSON file under a directory. Keys are
// namespaced with ':' which maps to '_' on disk.
type FileKV struct {
	dir string
}

// NewFileKV creates the directory if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, strings.ReplaceAll(key, ":", "_")+".json")
}

func (f *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	return os.WriteFile(f.path(key), value, 0644)
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileKV) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	diskPrefix := strings.ReplaceAll(prefix, ":", "_")
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		if !strings.HasPrefix(name, diskPrefix) {
			continue
		}
		// Restore the namespace separator for callers.
		keys = append(keys, prefix+strings.TrimPrefix(name, diskPrefix))
	}
	return keys, nil
}
