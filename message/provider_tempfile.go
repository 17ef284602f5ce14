package message

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/iocopy"
	"github.com/kopia/mimespool/internal/tempstore"
)

// Default name parts of spooled body files.
const (
	DefaultPrefix = "attachment"
	DefaultSuffix = ".bin"
)

// TempFileStorageProvider spools bodies into temporary files.
type TempFileStorageProvider struct {
	Storage *tempstore.Storage

	// Prefix and Suffix of generated file names, DefaultPrefix and DefaultSuffix when empty.
	Prefix string
	Suffix string
}

// Store implements StorageProvider.
func (p *TempFileStorageProvider) Store(ctx context.Context, src io.Reader) (Backing, error) {
	prefix, suffix := p.Prefix, p.Suffix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	if suffix == "" {
		suffix = DefaultSuffix
	}

	root, err := p.Storage.RootPath(ctx)
	if err != nil {
		return nil, newIOFailure("temporary storage", err)
	}

	f, err := root.CreateTemporaryFile(ctx, prefix, suffix)
	if err != nil {
		return nil, newIOFailure("create spool file", err)
	}

	w, err := f.OpenForWrite()
	if err != nil {
		if derr := f.Delete(); derr != nil {
			log(ctx).Errorf("unable to remove %v: %v", f.Path(), derr)
		}

		return nil, newIOFailure("open spool file", err)
	}

	if _, err := iocopy.Copy(w, src); err != nil {
		if aerr := w.Abort(); aerr != nil {
			log(ctx).Errorf("unable to remove partially written %v: %v", f.Path(), aerr)
		}

		return nil, newIOFailure("spool", err)
	}

	if err := w.Close(); err != nil {
		if derr := f.Delete(); derr != nil {
			log(ctx).Errorf("unable to remove %v: %v", f.Path(), derr)
		}

		return nil, newIOFailure("seal spool file", err)
	}

	return &tempFileBacking{f}, nil
}

type tempFileBacking struct {
	f *tempstore.File
}

func (b *tempFileBacking) Reader(ctx context.Context) (io.ReadCloser, error) {
	//nolint:wrapcheck
	return b.f.OpenForRead()
}

func (b *tempFileBacking) Length() int64 {
	return b.f.Size()
}

func (b *tempFileBacking) Delete(ctx context.Context) error {
	return errors.Wrap(b.f.Delete(), "unable to delete spool file")
}

func (b *tempFileBacking) Location() string {
	return b.f.Path()
}

// File returns the temporary file holding the bytes.
func (b *tempFileBacking) File() *tempstore.File {
	return b.f
}
