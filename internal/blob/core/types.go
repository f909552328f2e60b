// Package core defines the abstractions for ciphertext archival backends
// used by the engine layer.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete archival backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3" // S3 / MinIO compatible
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory" // in-memory (tests)
)

// Info describes a stored ciphertext object.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store provides a thin object-store abstraction for immutable ciphertext
// payloads. Writes are create-only: a key can be written at most once.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// ErrExists is returned when a create-only write targets an existing key.
var ErrExists = errors.New("blobstore: object already exists")

// ErrNotFound is returned when the key references no stored object.
var ErrNotFound = errors.New("blobstore: object not found")
