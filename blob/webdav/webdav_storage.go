// Package webdav implements WebDAV-based Storage.
package webdav

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/studio-b12/gowebdav"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/retry"
	"github.com/kopia/mimespool/internal/tlsutil"
	"github.com/kopia/mimespool/logging"
)

var log = logging.Module("blob/webdav")

const (
	davStorageType       = "webdav"
	fsStorageChunkSuffix = ".f"

	defaultFilePerm = 0o600
)

// davStorage implements blob.Storage on top of a remote WebDAV collection.
// Blobs are stored as flat files, the same way the filesystem storage lays them out.
type davStorage struct {
	Options

	cli *gowebdav.Client
}

func (d *davStorage) blobPath(id blob.ID) (string, error) {
	s := string(id)
	if s == "" || strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return "", errors.Errorf("invalid blob ID %q", id)
	}

	return "/" + s + fsStorageChunkSuffix, nil
}

func (d *davStorage) translateError(err error) error {
	switch {
	case err == nil:
		return nil

	case gowebdav.IsErrNotFound(err):
		return blob.ErrBlobNotFound

	default:
		return err
	}
}

func (d *davStorage) OpenBlob(ctx context.Context, id blob.ID) (io.ReadCloser, error) {
	p, err := d.blobPath(id)
	if err != nil {
		return nil, err
	}

	//nolint:wrapcheck
	return retry.WithExponentialBackoff(ctx, "OpenBlob("+p+")", func() (io.ReadCloser, error) {
		rc, err := d.cli.ReadStream(p)
		return rc, d.translateError(err)
	}, isRetriable)
}

func (d *davStorage) GetMetadata(ctx context.Context, id blob.ID) (blob.Metadata, error) {
	p, err := d.blobPath(id)
	if err != nil {
		return blob.Metadata{}, err
	}

	fi, err := retry.WithExponentialBackoff(ctx, "GetMetadata("+p+")", func() (os.FileInfo, error) {
		fi, err := d.cli.Stat(p)
		return fi, d.translateError(err)
	}, isRetriable)
	if err != nil {
		return blob.Metadata{}, err //nolint:wrapcheck
	}

	return blob.Metadata{
		BlobID:    id,
		Length:    fi.Size(),
		Timestamp: fi.ModTime(),
	}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	return n, err //nolint:wrapcheck
}

func (d *davStorage) PutBlob(ctx context.Context, id blob.ID, data io.Reader, length int64) error {
	p, err := d.blobPath(id)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%v-%v", p, rand.Int63()) //nolint:gosec

	cr := &countingReader{r: data}

	err = d.translateError(d.cli.WriteStream(tmpPath, cr, defaultFilePerm))
	if err == nil {
		err = blob.EnsureLengthExactly(cr.n, length)
	}

	if err == nil {
		err = d.translateError(d.cli.Rename(tmpPath, p, true))
	}

	if err != nil {
		if rerr := d.cli.Remove(tmpPath); rerr != nil && !gowebdav.IsErrNotFound(rerr) {
			log(ctx).Errorf("unable to remove temporary file %v: %v", tmpPath, rerr)
		}

		return errors.Wrapf(err, "error writing %v", p)
	}

	return nil
}

func (d *davStorage) DeleteBlob(ctx context.Context, id blob.ID) error {
	p, err := d.blobPath(id)
	if err != nil {
		return err
	}

	err = retry.WithExponentialBackoffNoValue(ctx, "DeleteBlob("+p+")", func() error {
		return d.translateError(d.cli.Remove(p))
	}, isRetriable)

	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil
	}

	return err //nolint:wrapcheck
}

func (d *davStorage) ListBlobs(ctx context.Context, prefix blob.ID, callback func(blob.Metadata) error) error {
	entries, err := retry.WithExponentialBackoff(ctx, "ReadDir", func() ([]os.FileInfo, error) {
		entries, err := d.cli.ReadDir("/")
		return entries, d.translateError(err)
	}, isRetriable)
	if err != nil {
		return errors.Wrap(err, "error reading WebDAV dir")
	}

	for _, fi := range entries {
		name := fi.Name()
		if fi.IsDir() || !strings.HasSuffix(name, fsStorageChunkSuffix) {
			continue
		}

		id := blob.ID(strings.TrimSuffix(name, fsStorageChunkSuffix))
		if !strings.HasPrefix(string(id), string(prefix)) {
			continue
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

func (d *davStorage) ConnectionInfo() blob.ConnectionInfo {
	return blob.ConnectionInfo{
		Type:   davStorageType,
		Config: &d.Options,
	}
}

func (d *davStorage) DisplayName() string {
	return fmt.Sprintf("WebDAV: %v", d.URL)
}

func (d *davStorage) Close(ctx context.Context) error {
	return nil
}

func isRetriable(err error) bool {
	switch {
	case err == nil:
		return false

	case errors.Is(err, blob.ErrBlobNotFound):
		return false

	case gowebdav.IsErrCode(err, http.StatusTooManyRequests):
		return true

	default:
		var se gowebdav.StatusError
		if errors.As(err, &se) {
			return se.Status >= http.StatusInternalServerError
		}

		return true
	}
}

// New creates new WebDAV-backed storage in a specified URL.
func New(ctx context.Context, opts *Options) (blob.Storage, error) {
	if opts.URL == "" {
		return nil, errors.New("URL must be specified")
	}

	cli := gowebdav.NewClient(opts.URL, opts.Username, opts.Password)

	if opts.TrustedServerCertificateFingerprint != "" {
		cli.SetTransport(tlsutil.TransportTrustingSingleCertificate(opts.TrustedServerCertificateFingerprint))
	}

	return &davStorage{
		Options: *opts,
		cli:     cli,
	}, nil
}

func init() {
	blob.AddSupportedStorage(davStorageType, Options{}, New)
}
