// Package storage archives finished runs so their results outlive the run
// store TTL. Archives go to S3 in production and to a local directory in
// development.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/runstore"
)

var (
	ErrUnknownType     = errors.New("storage: unknown archive type")
	ErrArchiveNotFound = errors.New("storage: archive not found")
)

// Record is one archived run.
type Record struct {
	Run     *runstore.Run         `json:"run"`
	Results []dispatch.SendResult `json:"results"`
}

// Archive stores and loads run records by key.
type Archive interface {
	Archive(ctx context.Context, run *runstore.Run, results []dispatch.SendResult) (string, error)
	Load(ctx context.Context, key string) (*Record, error)
}

// New returns the archive for cfg, or nil when archiving is disabled.
// s3Client is only used for the "s3" type.
func New(cfg config.ArchiveConfig, s3Client ObjectStore) (Archive, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "local":
		if cfg.LocalPath == "" {
			return nil, fmt.Errorf("storage: local archive needs local_path")
		}
		return NewLocalArchive(cfg.LocalPath, cfg.Prefix), nil
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("storage: s3 archive needs bucket")
		}
		if s3Client == nil {
			return nil, fmt.Errorf("storage: s3 archive needs an S3 client")
		}
		return NewS3Archive(s3Client, cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}

// runKey lays runs out by creation day.
func runKey(prefix string, run *runstore.Run) string {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return fmt.Sprintf("%sruns/%s/%s.json", prefix, run.CreatedAt.UTC().Format("2006/01/02"), run.ID)
}
