package message

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/iocopy"
)

// BlobStorageProvider stores bodies in blob storage. The body is first staged with
// Staging, which determines its length, and uploaded from there.
type BlobStorageProvider struct {
	Storage blob.Storage
	Staging StorageProvider

	// Prefix is prepended to generated blob IDs.
	Prefix blob.ID
}

// Store implements StorageProvider.
func (p *BlobStorageProvider) Store(ctx context.Context, src io.Reader) (Backing, error) {
	staged, err := p.Staging.Store(ctx, src)
	if err != nil {
		return nil, err
	}

	defer func() {
		if derr := staged.Delete(ctx); derr != nil {
			log(ctx).Errorf("unable to remove staged body %v: %v", staged.Location(), derr)
		}
	}()

	return uploadBacking(ctx, p.Storage, p.Prefix, staged)
}

// uploadBacking copies the contents of b to a new blob. A failed upload leaves no blob behind.
func uploadBacking(ctx context.Context, st blob.Storage, prefix blob.ID, b Backing) (*blobBacking, error) {
	id := prefix + blob.ID(uuid.NewString())

	length := b.Length()
	if length < 0 {
		n, err := measureBacking(ctx, b)
		if err != nil {
			return nil, err
		}

		length = n
	}

	rc, err := b.Reader(ctx)
	if err != nil {
		return nil, err
	}

	defer rc.Close() //nolint:errcheck

	if err := st.PutBlob(ctx, id, rc, length); err != nil {
		return nil, newIOFailure("upload "+string(id), err)
	}

	return &blobBacking{st: st, id: id, length: length}, nil
}

// measureBacking counts the bytes of a backing whose length is not known up front,
// such as a compressed spool file adopted from another process.
func measureBacking(ctx context.Context, b Backing) (int64, error) {
	rc, err := b.Reader(ctx)
	if err != nil {
		return 0, err
	}

	defer rc.Close() //nolint:errcheck

	n, err := iocopy.Copy(io.Discard, rc)
	if err != nil {
		return 0, newIOFailure("measure "+b.Location(), err)
	}

	return n, nil
}

// NewBlobBacking returns the backing of an existing blob.
func NewBlobBacking(ctx context.Context, st blob.Storage, id blob.ID) (Backing, error) {
	md, err := st.GetMetadata(ctx, id)
	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "blob %v", id)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "unable to get metadata of %v", id)
	}

	return &blobBacking{st: st, id: id, length: md.Length}, nil
}

type blobBacking struct {
	st     blob.Storage
	id     blob.ID
	length int64
}

func (b *blobBacking) Reader(ctx context.Context) (io.ReadCloser, error) {
	rc, err := b.st.OpenBlob(ctx, b.id)
	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "blob %v", b.id)
	}

	return rc, errors.Wrapf(err, "unable to open blob %v", b.id)
}

func (b *blobBacking) Length() int64 {
	return b.length
}

func (b *blobBacking) Delete(ctx context.Context) error {
	if err := b.st.DeleteBlob(ctx, b.id); err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
		return errors.Wrapf(err, "unable to delete blob %v", b.id)
	}

	return nil
}

func (b *blobBacking) Location() string {
	return fmt.Sprintf("%v/%v", b.st.DisplayName(), b.id)
}

// BlobID returns the ID of the blob holding the bytes.
func (b *blobBacking) BlobID() blob.ID {
	return b.id
}
