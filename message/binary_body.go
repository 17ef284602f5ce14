package message

import (
	"context"
	"encoding/hex"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/iocopy"
	"github.com/kopia/mimespool/internal/tempstore"
)

// BinaryBody is a body whose bytes are held by a Backing, a temporary file by default.
// Once constructed its contents never change; they can be read any number of times until
// the body is disposed.
type BinaryBody struct {
	parent atomic.Pointer[Entity]

	digest string

	// serializes Offload calls, held for the duration of the upload.
	offloadMu sync.Mutex

	mu sync.Mutex
	// +checklocks:mu
	backing Backing
	// +checklocks:mu
	disposed bool
}

var _ SingleBody = (*BinaryBody)(nil)

// FromStream drains src into storage obtained from the provider and returns the resulting body.
// On failure no body is returned, nothing is left in the provider's storage and the error
// matches ErrIOFailure.
func FromStream(ctx context.Context, provider StorageProvider, src io.Reader) (*BinaryBody, error) {
	ctx, span := tracer.Start(ctx, "BinaryBody.FromStream")
	defer span.End()

	h := blake3.New()

	b, err := provider.Store(ctx, io.TeeReader(src, h))
	if err != nil {
		err = newIOFailure("spool body", err)
		recordError(span, err)

		return nil, err
	}

	body := &BinaryBody{
		backing: b,
		digest:  hex.EncodeToString(h.Sum(nil)),
	}

	span.SetAttributes(
		attribute.Int64("body.length", b.Length()),
		attribute.String("body.location", b.Location()),
	)

	log(ctx).Debugf("spooled %v bytes to %v", b.Length(), b.Location())

	return body, nil
}

// NewBinaryBody spools src into a new temporary file of the provided storage,
// named attachment<unique>.bin.
func NewBinaryBody(ctx context.Context, st *tempstore.Storage, src io.Reader) (*BinaryBody, error) {
	return FromStream(ctx, &TempFileStorageProvider{Storage: st}, src)
}

// NewBinaryBodyFromBacking returns a body over bytes already stored elsewhere.
// The body takes ownership of the backing. The digest may be empty if unknown.
func NewBinaryBodyFromBacking(b Backing, digest string) *BinaryBody {
	return &BinaryBody{backing: b, digest: digest}
}

// Parent implements Body.
func (b *BinaryBody) Parent() *Entity {
	return b.parent.Load()
}

// SetParent implements Body.
func (b *BinaryBody) SetParent(e *Entity) {
	b.parent.Store(e)
}

// Digest returns the hex-encoded BLAKE3-256 digest of the contents, computed while spooling.
func (b *BinaryBody) Digest() string {
	return b.digest
}

// Length returns the number of bytes in the body.
func (b *BinaryBody) Length() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.backing.Length()
}

// Location describes where the contents are stored.
func (b *BinaryBody) Location() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.backing.Location()
}

// Disposed returns true once the body has been disposed.
func (b *BinaryBody) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.disposed
}

func (b *BinaryBody) currentBacking() (Backing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return nil, errors.Wrap(ErrNotFound, "body has been disposed")
	}

	return b.backing, nil
}

// Reader returns a new independent reader of the contents. The caller must close it.
func (b *BinaryBody) Reader(ctx context.Context) (io.ReadCloser, error) {
	bk, err := b.currentBacking()
	if err != nil {
		return nil, err
	}

	return bk.Reader(ctx) //nolint:wrapcheck
}

// WriteTo writes the contents to w, implementing io.WriterTo.
func (b *BinaryBody) WriteTo(w io.Writer) (int64, error) {
	return b.CopyTo(context.Background(), w)
}

// CopyTo writes the contents to w. The reader it opens is always released. When the copy
// fails midway w may have received part of the contents.
func (b *BinaryBody) CopyTo(ctx context.Context, w io.Writer) (int64, error) {
	ctx, span := tracer.Start(ctx, "BinaryBody.WriteTo")
	defer span.End()

	rc, err := b.Reader(ctx)
	if err != nil {
		recordError(span, err)
		return 0, err
	}

	defer rc.Close() //nolint:errcheck

	n, err := iocopy.Copy(w, rc)
	span.SetAttributes(attribute.Int64("body.bytes_written", n))

	if err != nil {
		err = newIOFailure("write body", err)
		recordError(span, err)

		return n, err
	}

	return n, nil
}

// Dispose deletes the backing storage. Afterwards stream operations fail with ErrNotFound.
// Disposing twice is a no-op.
func (b *BinaryBody) Dispose(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return nil
	}

	if err := b.backing.Delete(ctx); err != nil {
		return errors.Wrap(err, "unable to dispose body")
	}

	b.disposed = true

	log(ctx).Debugf("disposed body at %v", b.backing.Location())

	return nil
}

// Offload moves the contents of the body to a new blob in st and releases its previous storage.
// Readers opened before the move keep reading the previous storage where it permits.
// The body remains readable while the upload is in progress.
func (b *BinaryBody) Offload(ctx context.Context, st blob.Storage, prefix blob.ID) (blob.ID, error) {
	ctx, span := tracer.Start(ctx, "BinaryBody.Offload")
	defer span.End()

	b.offloadMu.Lock()
	defer b.offloadMu.Unlock()

	old, err := b.currentBacking()
	if err != nil {
		recordError(span, err)
		return "", err
	}

	nb, err := uploadBacking(ctx, st, prefix, old)
	if err != nil {
		recordError(span, err)
		return "", err
	}

	if err := b.swapBacking(old, nb); err != nil {
		if derr := nb.Delete(ctx); derr != nil {
			log(ctx).Errorf("unable to remove %v: %v", nb.Location(), derr)
		}

		recordError(span, err)

		return "", err
	}

	if err := old.Delete(ctx); err != nil {
		log(ctx).Errorf("unable to release %v after offload: %v", old.Location(), err)
	}

	span.SetAttributes(attribute.String("blob.id", string(nb.id)))
	log(ctx).Debugf("offloaded %v bytes from %v to %v", nb.Length(), old.Location(), nb.Location())

	return nb.id, nil
}

// swapBacking replaces old with nb unless the body was disposed in the meantime.
func (b *BinaryBody) swapBacking(old, nb Backing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return errors.Wrap(ErrNotFound, "body was disposed during offload")
	}

	if b.backing != old {
		return errors.New("body storage changed during offload")
	}

	b.backing = nb

	return nil
}

// BlobID returns the ID of the blob holding the contents, if the body lives in blob storage.
func (b *BinaryBody) BlobID() (blob.ID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bb, ok := b.backing.(interface{ BlobID() blob.ID }); ok && !b.disposed {
		return bb.BlobID(), true
	}

	return "", false
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Offload moves the contents of body to a new blob in st, see BinaryBody.Offload.
func Offload(ctx context.Context, body *BinaryBody, st blob.Storage) (blob.ID, error) {
	return body.Offload(ctx, st, "")
}
