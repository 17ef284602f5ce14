// Package blob defines the streaming blob storage abstraction used to offload spooled bodies
// and the registry of its implementations.
package blob

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Storage encapsulates API for connecting to blob storage.
//
// The underlying storage system must provide read-after-write consistency: a blob written using
// PutBlob() must be immediately readable using OpenBlob(), GetMetadata() and ListBlobs(), and
// partially-written blobs must never be observable.
type Storage interface {
	// PutBlob uploads the blob with given data to the storage or replaces existing blob with the provided id.
	// The length is the exact number of bytes that will be read from data.
	PutBlob(ctx context.Context, blobID ID, data io.Reader, length int64) error

	// OpenBlob returns a reader of the full contents of a blob with given ID.
	OpenBlob(ctx context.Context, blobID ID) (io.ReadCloser, error)

	// GetMetadata returns Metadata about single blob.
	GetMetadata(ctx context.Context, blobID ID) (Metadata, error)

	// DeleteBlob removes the blob from storage. Future OpenBlob() operations will fail with ErrBlobNotFound.
	DeleteBlob(ctx context.Context, blobID ID) error

	// ListBlobs invokes the provided callback for each blob in the storage.
	// Iteration continues until the callback returns an error or until all matching blobs have been reported.
	ListBlobs(ctx context.Context, blobIDPrefix ID, cb func(bm Metadata) error) error

	// ConnectionInfo returns JSON-serializable data structure containing information required to
	// connect to storage.
	ConnectionInfo() ConnectionInfo

	// DisplayName of the storage used for quick identification by humans.
	DisplayName() string

	// Close releases all resources associated with storage.
	Close(ctx context.Context) error
}

// ID is a string that represents blob identifier.
type ID string

// Metadata represents metadata about a single BLOB in a storage.
type Metadata struct {
	BlobID    ID        `json:"id"`
	Length    int64     `json:"length"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Metadata) String() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// ErrBlobNotFound is returned when a BLOB cannot be found in storage.
var ErrBlobNotFound = errors.New("BLOB not found")

// ErrInvalidLength is returned when the number of bytes read from the source of PutBlob
// does not match the declared length.
var ErrInvalidLength = errors.New("invalid length")

// ListAllBlobs returns Metadata for all blobs in a given storage that have the provided name prefix.
func ListAllBlobs(ctx context.Context, st Storage, prefix ID) ([]Metadata, error) {
	var result []Metadata

	err := st.ListBlobs(ctx, prefix, func(bm Metadata) error {
		result = append(result, bm)
		return nil
	})

	return result, err
}

// EnsureLengthExactly returns ErrInvalidLength when actual does not match expected.
func EnsureLengthExactly(actual, expected int64) error {
	if actual != expected {
		return errors.Wrapf(ErrInvalidLength, "got %v bytes, expected %v", actual, expected)
	}

	return nil
}
