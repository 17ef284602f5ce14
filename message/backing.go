package message

import (
	"context"
	"io"
)

// Backing is the storage holding the bytes of a body. A body owns its backing exclusively.
type Backing interface {
	// Reader opens a new independent reader of the stored bytes. It fails with ErrNotFound after Delete.
	Reader(ctx context.Context) (io.ReadCloser, error)

	// Length returns the number of stored bytes, -1 if it is not known without reading them.
	Length() int64

	// Delete releases the stored bytes. Deleting twice is a no-op.
	Delete(ctx context.Context) error

	// Location describes where the bytes are stored, for humans.
	Location() string
}

// StorageProvider stores the contents of a source stream and returns their backing.
//
// Store must drain src to its end. On failure nothing is left behind in the provider's storage.
type StorageProvider interface {
	Store(ctx context.Context, src io.Reader) (Backing, error)
}
