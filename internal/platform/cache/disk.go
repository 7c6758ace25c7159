package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/quantrail/marketsizer/internal/platform/observability"
)

// diskFileExt is appended to every sanitized key.
const diskFileExt = ".json"

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// DiskStore persists cache entries one file per key under a root directory.
// Durability is best-effort: failed writes log and no-op, unreadable or
// corrupt files degrade to absent. Load does not apply TTL filtering; that
// is the caller's job, so inspection tooling can read raw entries.
type DiskStore struct {
	root   string
	logger *observability.Logger
}

// NewDiskStore creates the root directory if needed and returns the store.
func NewDiskStore(root string, logger *observability.Logger) (*DiskStore, error) {
	if root == "" {
		return nil, fmt.Errorf("disk store: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("disk store: create root %s: %w", root, err)
	}
	return &DiskStore{
		root:   root,
		logger: logger,
	}, nil
}

// Save writes the entry for key. Failures are logged, never returned:
// persistence is a bonus, the in-memory copy stays authoritative.
func (d *DiskStore) Save(key string, entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		d.logger.Warn("failed to serialize cache entry for persistence", "key", key, "error", err)
		return
	}

	if err := os.WriteFile(d.path(key), data, 0o644); err != nil {
		d.logger.Warn("failed to persist cache entry", "key", key, "error", err)
	}
}

// Load reads the raw entry for key. Returns ErrNotFound when the file does
// not exist or cannot be parsed.
func (d *DiskStore) Load(key string) (*Entry, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		d.logger.Warn("failed to read persisted cache entry", "key", key, "error", err)
		return nil, ErrNotFound
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		d.logger.Warn("corrupt persisted cache entry", "key", key, "error", err)
		return nil, ErrNotFound
	}

	return &entry, nil
}

// Remove deletes the file for key, if any.
func (d *DiskStore) Remove(key string) {
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("failed to remove persisted cache entry", "key", key, "error", err)
	}
}

// RemoveAll deletes every persisted entry under the root directory.
func (d *DiskStore) RemoveAll() {
	matches, err := filepath.Glob(filepath.Join(d.root, "*"+diskFileExt))
	if err != nil {
		d.logger.Warn("failed to enumerate persisted cache entries", "error", err)
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to remove persisted cache entry", "path", m, "error", err)
		}
	}
}

// path maps a cache key to its file, replacing filesystem-unsafe characters.
func (d *DiskStore) path(key string) string {
	return filepath.Join(d.root, unsafeKeyChars.ReplaceAllString(key, "_")+diskFileExt)
}
