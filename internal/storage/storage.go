// Package storage provides object storage for uploaded artifact bundles.
package storage

import (
	"context"
	"io"

	lumerr "github.com/lumenapm/lumen/internal/errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = lumerr.New(lumerr.ErrCategoryStorage, lumerr.CodeObjectNotFound, "object not found")
	ErrUploadFailed   = lumerr.New(lumerr.ErrCategoryStorage, lumerr.CodeUploadFailed, "upload failed")
	ErrDownloadFailed = lumerr.New(lumerr.ErrCategoryStorage, lumerr.CodeDownloadFailed, "download failed")
)

// ObjectStorage abstracts the blob store holding bundle archives.
// Implementations include S3 and local filesystem for development.
type ObjectStorage interface {
	// Put stores an object, replacing any existing object at the path.
	Put(ctx context.Context, objectPath string, r io.Reader) error

	// Get opens an object for streaming reads. The caller owns the
	// returned reader and must close it.
	Get(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Fetch downloads an object to a local file. Bundle archives are ZIP
	// containers and need random access, so lookups fetch to disk before
	// opening.
	Fetch(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks whether an object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// List returns all object paths under the given prefix. Used by
	// cleanup to detect orphaned archives.
	List(ctx context.Context, prefix string) ([]string, error)
}
