// Package filesystem implements filesystem-based Storage.
package filesystem

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/iocopy"
	"github.com/kopia/mimespool/internal/retry"
	"github.com/kopia/mimespool/logging"
)

var log = logging.Module("blob/filesystem")

const (
	fsStorageType           = "filesystem"
	fsStorageChunkSuffix    = ".f"
	tempFileRandomSuffixLen = 8

	fsDefaultFileMode os.FileMode = 0o600
	fsDefaultDirMode  os.FileMode = 0o700
)

type fsStorage struct {
	Options
}

func isRetriable(err error) bool {
	if err == nil {
		return false
	}

	if os.IsNotExist(err) || os.IsExist(err) {
		return false
	}

	var pe *os.PathError
	if errors.As(err, &pe) {
		return true
	}

	var le *os.LinkError

	return errors.As(err, &le)
}

func (fs *fsStorage) blobPath(id blob.ID) (string, error) {
	s := string(id)
	if s == "" || strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return "", errors.Errorf("invalid blob ID %q", id)
	}

	return filepath.Join(fs.Path, s+fsStorageChunkSuffix), nil
}

func (fs *fsStorage) OpenBlob(ctx context.Context, id blob.ID) (io.ReadCloser, error) {
	path, err := fs.blobPath(id)
	if err != nil {
		return nil, err
	}

	f, err := retry.WithExponentialBackoff(ctx, "OpenBlob:"+path, func() (*os.File, error) {
		//nolint:wrapcheck,gosec
		return os.Open(path)
	}, isRetriable)
	if os.IsNotExist(err) {
		return nil, blob.ErrBlobNotFound
	}

	//nolint:wrapcheck
	return f, err
}

func (fs *fsStorage) GetMetadata(ctx context.Context, id blob.ID) (blob.Metadata, error) {
	path, err := fs.blobPath(id)
	if err != nil {
		return blob.Metadata{}, err
	}

	//nolint:wrapcheck
	return retry.WithExponentialBackoff(ctx, "GetMetadata:"+path, func() (blob.Metadata, error) {
		fi, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return blob.Metadata{}, blob.ErrBlobNotFound
			}

			//nolint:wrapcheck
			return blob.Metadata{}, err
		}

		return blob.Metadata{
			BlobID:    id,
			Length:    fi.Size(),
			Timestamp: fi.ModTime(),
		}, nil
	}, isRetriable)
}

func (fs *fsStorage) PutBlob(ctx context.Context, id blob.ID, data io.Reader, length int64) error {
	path, err := fs.blobPath(id)
	if err != nil {
		return err
	}

	tempFile, err := fs.createTempFileWithData(path, data, length)
	if err != nil {
		return err
	}

	if err := os.Rename(tempFile, path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			log(ctx).Errorf("can't remove temp file: %v", removeErr)
		}

		return errors.Wrapf(err, "can't rename %v", tempFile)
	}

	return nil
}

// createTempFileWithData creates a temporary file, writes exactly length bytes of data to it,
// syncs and closes it. The temporary file is removed on any error.
func (fs *fsStorage) createTempFileWithData(path string, data io.Reader, length int64) (name string, err error) {
	randSuffix := make([]byte, tempFileRandomSuffixLen)
	if _, err := rand.Read(randSuffix); err != nil {
		return "", errors.Wrap(err, "can't get random bytes for temporary filename")
	}

	tempFile := fmt.Sprintf("%s.tmp.%x", path, randSuffix)

	f, err := fs.createTempFileAndDir(tempFile)
	if err != nil {
		return "", errors.Wrap(err, "cannot create temporary file")
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "can't close temporary file")
		}

		// remove temp file when any of the operations fail
		if err != nil {
			name = ""

			os.Remove(tempFile) //nolint:errcheck
		}
	}()

	n, err := iocopy.Copy(f, data)
	if err != nil {
		return "", errors.Wrap(err, "can't write temporary file")
	}

	if err = blob.EnsureLengthExactly(n, length); err != nil {
		return "", err
	}

	if err = f.Sync(); err != nil {
		return "", errors.Wrap(err, "can't sync temporary file data")
	}

	return tempFile, nil
}

func (fs *fsStorage) createTempFileAndDir(tempFile string) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL

	f, err := os.OpenFile(tempFile, flags, fs.fileMode()) //nolint:gosec
	if os.IsNotExist(err) {
		if err = os.MkdirAll(filepath.Dir(tempFile), fs.dirMode()); err != nil {
			return nil, errors.Wrap(err, "cannot create directory")
		}

		//nolint:wrapcheck,gosec
		return os.OpenFile(tempFile, flags, fs.fileMode())
	}

	//nolint:wrapcheck
	return f, err
}

func (fs *fsStorage) DeleteBlob(ctx context.Context, id blob.ID) error {
	path, err := fs.blobPath(id)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return retry.WithExponentialBackoffNoValue(ctx, "DeleteBlob:"+path, func() error {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}

		//nolint:wrapcheck
		return err
	}, isRetriable)
}

func (fs *fsStorage) ListBlobs(ctx context.Context, prefix blob.ID, callback func(blob.Metadata) error) error {
	entries, err := retry.WithExponentialBackoff(ctx, "ReadDir:"+fs.Path, func() ([]os.DirEntry, error) {
		//nolint:wrapcheck
		return os.ReadDir(fs.Path)
	}, isRetriable)
	if err != nil {
		return errors.Wrap(err, "error listing directory")
	}

	for _, e := range entries {
		name := e.Name()

		if !e.Type().IsRegular() || !strings.HasSuffix(name, fsStorageChunkSuffix) {
			continue
		}

		id := blob.ID(strings.TrimSuffix(name, fsStorageChunkSuffix))
		if !strings.HasPrefix(string(id), string(prefix)) {
			continue
		}

		fi, err := e.Info()
		if os.IsNotExist(err) {
			// deleted since it was listed.
			continue
		}

		if err != nil {
			return errors.Wrapf(err, "unable to stat %v", name)
		}

		if err := callback(blob.Metadata{
			BlobID:    id,
			Length:    fi.Size(),
			Timestamp: fi.ModTime(),
		}); err != nil {
			return err
		}
	}

	return nil
}

func (fs *fsStorage) ConnectionInfo() blob.ConnectionInfo {
	return blob.ConnectionInfo{
		Type:   fsStorageType,
		Config: &fs.Options,
	}
}

func (fs *fsStorage) DisplayName() string {
	return fmt.Sprintf("Filesystem: %v", fs.Path)
}

func (fs *fsStorage) Close(ctx context.Context) error {
	return nil
}

// New creates new filesystem-backed storage in a specified directory, creating it if needed.
func New(ctx context.Context, opts *Options) (blob.Storage, error) {
	if opts.Path == "" {
		return nil, errors.New("path must be specified")
	}

	if err := os.MkdirAll(opts.Path, opts.dirMode()); err != nil {
		return nil, errors.Wrap(err, "cannot create storage path")
	}

	if _, err := os.Stat(opts.Path); err != nil {
		return nil, errors.Wrap(err, "cannot access storage path")
	}

	log(ctx).Debugf("opened filesystem storage at %v", opts.Path)

	return &fsStorage{*opts}, nil
}

func init() {
	blob.AddSupportedStorage(fsStorageType, Options{}, New)
}
