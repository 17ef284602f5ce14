// Package gcs implements Storage based on Google Cloud Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	gcsclient "cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/clock"
	"github.com/kopia/mimespool/internal/iocopy"
)

const (
	gcsStorageType  = "gcs"
	writerChunkSize = 1 << 20
	contentType     = "application/octet-stream"
)

type gcsStorage struct {
	Options

	storageClient *gcsclient.Client
	bucket        *gcsclient.BucketHandle
}

func (gcs *gcsStorage) OpenBlob(ctx context.Context, b blob.ID) (io.ReadCloser, error) {
	reader, err := gcs.bucket.Object(gcs.getObjectNameString(b)).NewReader(ctx)
	if err != nil {
		return nil, translateError(err)
	}

	return reader, nil
}

func (gcs *gcsStorage) GetMetadata(ctx context.Context, b blob.ID) (blob.Metadata, error) {
	attrs, err := gcs.bucket.Object(gcs.getObjectNameString(b)).Attrs(ctx)
	if err != nil {
		return blob.Metadata{}, errors.Wrap(translateError(err), "Attrs")
	}

	return blob.Metadata{
		BlobID:    b,
		Length:    attrs.Size,
		Timestamp: attrs.Created,
	}, nil
}

func translateError(err error) error {
	var ae *googleapi.Error

	if errors.As(err, &ae) && ae.Code == 404 {
		return blob.ErrBlobNotFound
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, gcsclient.ErrObjectNotExist):
		return blob.ErrBlobNotFound
	default:
		return errors.Wrap(err, "unexpected GCS error")
	}
}

func (gcs *gcsStorage) PutBlob(ctx context.Context, b blob.ID, data io.Reader, length int64) error {
	ctx, cancel := context.WithCancel(ctx)

	writer := gcs.bucket.Object(gcs.getObjectNameString(b)).NewWriter(ctx)
	writer.ChunkSize = writerChunkSize
	writer.ContentType = contentType

	n, err := iocopy.Copy(writer, data)
	if err == nil {
		err = blob.EnsureLengthExactly(n, length)
	}

	if err != nil {
		// cancel context before closing the writer causes it to abandon the upload.
		cancel()

		_ = writer.Close() // failing already, ignore the error

		return translateError(err)
	}

	defer cancel()

	// calling close before cancel() causes it to commit the upload.
	return translateError(writer.Close())
}

func (gcs *gcsStorage) DeleteBlob(ctx context.Context, b blob.ID) error {
	err := translateError(gcs.bucket.Object(gcs.getObjectNameString(b)).Delete(ctx))
	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil
	}

	return err
}

func (gcs *gcsStorage) getObjectNameString(blobID blob.ID) string {
	return gcs.Prefix + string(blobID)
}

func (gcs *gcsStorage) ListBlobs(ctx context.Context, prefix blob.ID, callback func(blob.Metadata) error) error {
	lst := gcs.bucket.Objects(ctx, &gcsclient.Query{
		Prefix: gcs.getObjectNameString(prefix),
	})

	oa, err := lst.Next()
	for err == nil {
		bm := blob.Metadata{
			BlobID:    blob.ID(oa.Name[len(gcs.Prefix):]),
			Length:    oa.Size,
			Timestamp: oa.Created,
		}

		if cberr := callback(bm); cberr != nil {
			return cberr
		}

		oa, err = lst.Next()
	}

	if !errors.Is(err, iterator.Done) {
		return errors.Wrap(err, "ListBlobs")
	}

	return nil
}

func (gcs *gcsStorage) ConnectionInfo() blob.ConnectionInfo {
	return blob.ConnectionInfo{
		Type:   gcsStorageType,
		Config: &gcs.Options,
	}
}

func (gcs *gcsStorage) DisplayName() string {
	return fmt.Sprintf("GCS: %v", gcs.BucketName)
}

func (gcs *gcsStorage) Close(ctx context.Context) error {
	return errors.Wrap(gcs.storageClient.Close(), "error closing GCS storage")
}

func tokenSourceFromCredentialsFile(ctx context.Context, fn string, scopes ...string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(fn) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, "error reading credentials file")
	}

	return tokenSourceFromCredentialsJSON(ctx, data, scopes...)
}

func tokenSourceFromCredentialsJSON(ctx context.Context, data json.RawMessage, scopes ...string) (oauth2.TokenSource, error) {
	//nolint:staticcheck
	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, errors.Wrap(err, "google.CredentialsFromJSON")
	}

	return creds.TokenSource, nil
}

// New creates new Google Cloud Storage-backed storage with specified options:
//
// - the 'BucketName' field is required and all other parameters are optional.
//
// Without explicit credentials the connection uses Application Default Credentials.
func New(ctx context.Context, opt *Options) (blob.Storage, error) {
	if opt.BucketName == "" {
		return nil, errors.New("bucket name must be specified")
	}

	var (
		ts  oauth2.TokenSource
		err error
	)

	scope := gcsclient.ScopeReadWrite
	if opt.ReadOnly {
		scope = gcsclient.ScopeReadOnly
	}

	switch {
	case len(opt.ServiceAccountCredentialJSON) > 0:
		ts, err = tokenSourceFromCredentialsJSON(ctx, opt.ServiceAccountCredentialJSON, scope)
	case opt.ServiceAccountCredentialsFile != "":
		ts, err = tokenSourceFromCredentialsFile(ctx, opt.ServiceAccountCredentialsFile, scope)
	default:
		ts, err = google.DefaultTokenSource(ctx, scope)
	}

	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize token source")
	}

	cli, err := gcsclient.NewClient(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create GCS client")
	}

	gcs := &gcsStorage{
		Options:       *opt,
		storageClient: cli,
		bucket:        cli.Bucket(opt.BucketName),
	}

	// verify GCS connection is functional by listing blobs in a bucket, which will fail if the bucket
	// does not exist. We list with a prefix that will not exist, to avoid iterating through any objects.
	nonExistentPrefix := fmt.Sprintf("mimespool-gcs-storage-initializing-%v", clock.Now().UnixNano())
	if err := gcs.ListBlobs(ctx, blob.ID(nonExistentPrefix), func(_ blob.Metadata) error {
		return nil
	}); err != nil {
		cli.Close() //nolint:errcheck
		return nil, errors.Wrap(err, "unable to list from the bucket")
	}

	return gcs, nil
}

func init() {
	blob.AddSupportedStorage(gcsStorageType, Options{}, New)
}
