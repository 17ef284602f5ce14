// Package s3 implements Storage based on an S3 bucket.
package s3

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/retry"
)

const (
	s3storageType = "s3"
	contentType   = "application/octet-stream"
)

type s3Storage struct {
	Options

	cli *minio.Client
}

func (s *s3Storage) OpenBlob(ctx context.Context, b blob.ID) (io.ReadCloser, error) {
	// StatObject first since GetObject does not report missing objects until the first read.
	if _, err := s.GetMetadata(ctx, b); err != nil {
		return nil, err
	}

	o, err := s.cli.GetObject(ctx, s.BucketName, s.getObjectNameString(b), minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(errors.Wrap(err, "GetObject"))
	}

	return o, nil
}

func isRetriableError(err error) bool {
	var me minio.ErrorResponse

	if errors.As(err, &me) {
		// retry on server errors, not on client errors
		return me.StatusCode >= http.StatusInternalServerError
	}

	// retry http transport errors, unfortunately no other way to detect them
	return strings.Contains(strings.ToLower(err.Error()), "http")
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var me minio.ErrorResponse

	if errors.As(err, &me) {
		if me.StatusCode == http.StatusNotFound || me.Code == "NoSuchKey" {
			return blob.ErrBlobNotFound
		}
	}

	return err
}

func (s *s3Storage) GetMetadata(ctx context.Context, b blob.ID) (blob.Metadata, error) {
	v, err := retry.WithExponentialBackoff(ctx, fmt.Sprintf("GetMetadata(%v)", b), func() (blob.Metadata, error) {
		oi, err := s.cli.StatObject(ctx, s.BucketName, s.getObjectNameString(b), minio.StatObjectOptions{})
		if err != nil {
			return blob.Metadata{}, errors.Wrap(err, "StatObject")
		}

		return blob.Metadata{
			BlobID:    b,
			Length:    oi.Size,
			Timestamp: oi.LastModified,
		}, nil
	}, isRetriableError)

	return v, translateError(err)
}

func (s *s3Storage) PutBlob(ctx context.Context, b blob.ID, data io.Reader, length int64) error {
	// the reader can only be consumed once, so uploads are not retried here.
	info, err := s.cli.PutObject(ctx, s.BucketName, s.getObjectNameString(b), data, length, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return errors.Wrapf(translateError(err), "PutObject(%v)", b)
	}

	return blob.EnsureLengthExactly(info.Size, length)
}

func (s *s3Storage) DeleteBlob(ctx context.Context, b blob.ID) error {
	err := retry.WithExponentialBackoffNoValue(ctx, fmt.Sprintf("DeleteBlob(%q)", b), func() error {
		//nolint:wrapcheck
		return s.cli.RemoveObject(ctx, s.BucketName, s.getObjectNameString(b), minio.RemoveObjectOptions{})
	}, isRetriableError)

	err = translateError(err)
	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil
	}

	return err
}

func (s *s3Storage) getObjectNameString(b blob.ID) string {
	return s.Prefix + string(b)
}

func (s *s3Storage) ListBlobs(ctx context.Context, prefix blob.ID, callback func(blob.Metadata) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	oi := s.cli.ListObjects(ctx, s.BucketName, minio.ListObjectsOptions{
		Prefix:    s.getObjectNameString(prefix),
		Recursive: true,
	})

	for o := range oi {
		if err := o.Err; err != nil {
			return errors.Wrap(err, "ListObjects")
		}

		bm := blob.Metadata{
			BlobID:    blob.ID(o.Key[len(s.Prefix):]),
			Length:    o.Size,
			Timestamp: o.LastModified,
		}

		if err := callback(bm); err != nil {
			return err
		}
	}

	return nil
}

func (s *s3Storage) ConnectionInfo() blob.ConnectionInfo {
	return blob.ConnectionInfo{
		Type:   s3storageType,
		Config: &s.Options,
	}
}

func (s *s3Storage) Close(ctx context.Context) error {
	return nil
}

func (s *s3Storage) String() string {
	return fmt.Sprintf("s3://%v/%v", s.BucketName, s.Prefix)
}

func (s *s3Storage) DisplayName() string {
	return fmt.Sprintf("S3: %v %v", s.Endpoint, s.BucketName)
}

func getCustomTransport(insecureSkipVerify bool) *http.Transport {
	//nolint:gosec
	return &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify}}
}

// New creates new S3-backed storage with specified options:
//
// - the 'BucketName' field is required and all other parameters are optional.
func New(ctx context.Context, opt *Options) (blob.Storage, error) {
	if opt.BucketName == "" {
		return nil, errors.New("bucket name must be specified")
	}

	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opt.AccessKeyID, opt.SecretAccessKey, opt.SessionToken),
		Secure: !opt.DoNotUseTLS,
		Region: opt.Region,
	}

	if opt.DoNotVerifyTLS {
		minioOpts.Transport = getCustomTransport(true)
	}

	cli, err := minio.New(opt.Endpoint, minioOpts)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create client")
	}

	ok, err := cli.BucketExists(ctx, opt.BucketName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to determine if bucket %q exists", opt.BucketName)
	}

	if !ok {
		return nil, errors.Errorf("bucket %q does not exist", opt.BucketName)
	}

	return &s3Storage{
		Options: *opt,
		cli:     cli,
	}, nil
}

func init() {
	blob.AddSupportedStorage(s3storageType, Options{}, New)
}
