// Package archive pushes finished artifacts to durable object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/whisper-darkly/sticky-blackbox/logger"
	"github.com/whisper-darkly/sticky-blackbox/units"
)

// ErrDisabled is returned by Upload when no object store is configured.
// It is an expected condition, not a failure.
var ErrDisabled = errors.New("uploads disabled")

// Store is the object storage backend.
type Store interface {
	// Put writes size bytes from body to key.
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	// Location renders key as a human-readable URI for logs.
	Location(key string) string
}

// Uploader moves local files into a Store, deleting the local copy only once
// the store has confirmed the write. It holds no per-upload state and is
// safe for concurrent use.
type Uploader struct {
	store Store // nil = disabled
	log   *logger.Logger
}

// NewUploader creates an Uploader. A nil store disables uploads.
func NewUploader(store Store, log *logger.Logger) *Uploader {
	if log == nil {
		log = logger.Discard()
	}
	return &Uploader{store: store, log: log}
}

// Enabled reports whether uploads reach a store.
func (u *Uploader) Enabled() bool { return u.store != nil }

// Upload sends localPath to key and removes the local file on success.
// A missing or empty file is skipped and reported as success. On failure
// the local file is left untouched for manual recovery.
func (u *Uploader) Upload(ctx context.Context, localPath, key string) error {
	if u.store == nil {
		return ErrDisabled
	}

	fi, err := os.Stat(localPath)
	if err != nil || fi.Size() == 0 {
		u.log.Debug("upload skipped, %s is missing or empty", localPath)
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		u.log.Error("upload %s: %v", localPath, err)
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	err = u.store.Put(ctx, key, f, fi.Size())
	f.Close()
	if err != nil {
		u.log.Error("upload %s to %s failed, keeping local copy: %v", localPath, u.store.Location(key), err)
		return fmt.Errorf("upload %s: %w", localPath, err)
	}

	if err := os.Remove(localPath); err != nil {
		u.log.Warn("uploaded %s but could not remove it: %v", localPath, err)
	}

	u.log.Event("UPLOAD",
		logger.KV{Key: "file", Value: localPath},
		logger.KV{Key: "location", Value: u.store.Location(key)},
		logger.KV{Key: "size", Value: units.FormatBytes(fi.Size())})
	return nil
}

// Key builds the remote key for localPath under prefix. Redundant slashes in
// prefix are collapsed; an empty prefix puts the object at the bucket root.
func Key(prefix, localPath string) string {
	base := filepath.Base(localPath)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return path.Join(prefix, base)
}
