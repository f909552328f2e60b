// Package blob re-exports the ciphertext archive abstractions and selects a
// backend from the environment.
package blob

import (
	"context"
	"fmt"
	"os"

	"cipherflow/internal/blob/core"
	infraFS "cipherflow/internal/infra/blob/fs"
	infraMemory "cipherflow/internal/infra/blob/memory"
	infraS3 "cipherflow/internal/infra/blob/s3"
)

type (
	// Driver identifies an archive backend driver.
	Driver = core.Driver
	// Info describes stored object metadata.
	Info = core.Info
	// Store is the interface for archive backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrExists indicates a create-only write hit an existing key.
var ErrExists = core.ErrExists

// ErrNotFound indicates the key references no stored object.
var ErrNotFound = core.ErrNotFound

// NewFilesystem constructs a filesystem archive rooted at path.
func NewFilesystem(root string) (Store, error) { return infraFS.New(root) }

// NewMemory constructs an in-memory archive.
func NewMemory() Store { return infraMemory.New() }

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed archive from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return infraS3.New(ctx, cfg) }

// Open selects an archive implementation using environment variables.
//
//	CIPHERFLOW_BLOB_DRIVER: fs|s3|memory (default fs)
//	CIPHERFLOW_BLOB_FS_ROOT: directory root when driver=fs (default ./ciphertexts)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("CIPHERFLOW_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("CIPHERFLOW_BLOB_FS_ROOT"))
	case DriverS3:
		return infraS3.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
