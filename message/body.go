// Package message implements the body model of MIME messages whose payloads are spooled
// out of memory, to temporary files by default.
//
// Bodies do not clean up after themselves: the owner of a message must call Dispose,
// which cascades through entities and multiparts down to the backing storage.
package message

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"

	"github.com/kopia/mimespool/logging"
)

var log = logging.Module("mimespool/message")

var tracer = otel.Tracer("mimespool/message")

// Body is the payload of an entity.
type Body interface {
	// Parent returns the entity containing the body, nil if none. It never performs I/O.
	Parent() *Entity

	// SetParent links the body to its entity. It does not affect the lifetime of either.
	SetParent(e *Entity)

	// Dispose releases the storage of the body and of everything it contains.
	Dispose(ctx context.Context) error
}

// SingleBody is a body made of a single stream of bytes.
type SingleBody interface {
	Body
	io.WriterTo

	// Reader returns a new reader of the body contents, which the caller must close.
	Reader(ctx context.Context) (io.ReadCloser, error)

	// CopyTo writes the body contents to w.
	CopyTo(ctx context.Context, w io.Writer) (int64, error)

	// Length returns the number of bytes in the body.
	Length() int64
}
