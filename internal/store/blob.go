package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a FileID has no blob on disk.
var ErrNotFound = errors.New("recording not found")

// BlobStore owns the managed directory of audio recordings. A FileID is the
// base filename of the blob inside that directory.
type BlobStore struct {
	dir   string
	mu    sync.RWMutex
	order []string // newest first
}

// OpenBlobStore creates the managed directory if needed and enumerates the
// recordings already present, newest first by modification time.
func OpenBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read blob directory: %w", err)
	}

	type blob struct {
		name    string
		modTime int64
	}
	var blobs []blob
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		blobs = append(blobs, blob{name: entry.Name(), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(blobs, func(i, j int) bool {
		return blobs[i].modTime > blobs[j].modTime
	})

	order := make([]string, 0, len(blobs))
	for _, b := range blobs {
		order = append(order, b.name)
	}

	return &BlobStore{dir: dir, order: order}, nil
}

// Save writes audio bytes under suggestedName, or under a generated UUID name
// when none is suggested. Returns the FileID of the stored blob.
func (bs *BlobStore) Save(data []byte, suggestedName string) (string, error) {
	name := sanitizeName(suggestedName)
	if name == "" {
		name = uuid.New().String() + ".wav"
	}

	path := filepath.Join(bs.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", name, err)
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	// Re-saving an existing FileID overwrites in place and keeps its slot.
	for _, existing := range bs.order {
		if existing == name {
			return name, nil
		}
	}
	bs.order = append([]string{name}, bs.order...)
	return name, nil
}

// Read returns the stored bytes for a FileID.
func (bs *BlobStore) Read(id string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(bs.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("read blob %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %s: %w", id, err)
	}
	return data, nil
}

// List returns all stored FileIDs, newest first.
func (bs *BlobStore) List() []string {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	out := make([]string, len(bs.order))
	copy(out, bs.order)
	return out
}

// Delete removes the blob for a FileID. Callers are responsible for purging
// derived annotation state afterwards.
func (bs *BlobStore) Delete(id string) error {
	path := filepath.Join(bs.dir, id)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete blob %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("delete blob %s: %w", id, err)
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	for i, existing := range bs.order {
		if existing == id {
			bs.order = append(bs.order[:i], bs.order[i+1:]...)
			break
		}
	}
	return nil
}

// sanitizeName strips path separators so a suggested filename cannot escape
// the managed directory.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "..", "_")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "." || name == "_" {
		return ""
	}
	return name
}
