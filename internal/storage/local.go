package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/runstore"
)

// LocalArchive writes run records under a directory.
type LocalArchive struct {
	dir    string
	prefix string
}

// NewLocalArchive creates an archive rooted at dir.
func NewLocalArchive(dir, prefix string) *LocalArchive {
	return &LocalArchive{dir: dir, prefix: prefix}
}

// Archive saves the run and its results and returns the key.
func (l *LocalArchive) Archive(ctx context.Context, run *runstore.Run, results []dispatch.SendResult) (string, error) {
	data, err := json.MarshalIndent(Record{Run: run, Results: results}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling run %s: %w", run.ID, err)
	}

	key := runKey(l.prefix, run)
	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing archive %s: %w", path, err)
	}
	return key, nil
}

// Load reads an archived run by key.
func (l *LocalArchive) Load(ctx context.Context, key string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling archive %s: %w", key, err)
	}
	return &rec, nil
}
