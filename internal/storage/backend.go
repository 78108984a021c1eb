package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("file not found")

// Backend is the storage abstraction file uploads are written through.
// BunBase only ships a filesystem implementation — the storage root is
// always a local directory resolved to an absolute path at startup (spec
// §4.8); pluggable backends (S3 and friends) are a Non-goal. The interface
// still exists so the file service stays decoupled from filesystem
// specifics and tests can substitute a fake.
type Backend interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// DeleteDir removes key (and everything beneath it, if it names a
	// directory) within bucket. Used to drop a record's entire file
	// directory in one call on record delete (spec §4.8).
	DeleteDir(ctx context.Context, bucket, key string) error
}
