// Package b2 implements Storage based on an Backblaze B2 bucket.
package b2

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/kothar/go-backblaze.v0"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/retry"
)

const (
	b2storageType = "b2"
)

type b2Storage struct {
	Options

	cli    *backblaze.B2
	bucket *backblaze.Bucket
}

func (s *b2Storage) OpenBlob(ctx context.Context, id blob.ID) (io.ReadCloser, error) {
	fileName := s.getObjectNameString(id)

	r, err := retry.WithExponentialBackoff(ctx, "OpenBlob:"+fileName, func() (io.ReadCloser, error) {
		_, r, err := s.bucket.DownloadFileRangeByName(fileName, nil)
		if err != nil {
			return nil, errors.Wrap(err, "DownloadFileRangeByName")
		}

		return r, nil
	}, isRetriableError)
	if err != nil {
		return nil, translateError(err)
	}

	return r, nil
}

func (s *b2Storage) resolveFileID(fileName string) (string, error) {
	resp, err := s.bucket.ListFileVersions(fileName, "", 1)
	if err != nil {
		return "", errors.Wrap(err, "ListFileVersions")
	}

	if len(resp.Files) > 0 {
		if resp.Files[0].Name == fileName && resp.Files[0].Action == backblaze.Upload {
			return resp.Files[0].ID, nil
		}
	}

	return "", nil
}

func (s *b2Storage) GetMetadata(ctx context.Context, id blob.ID) (blob.Metadata, error) {
	fileName := s.getObjectNameString(id)

	fileID, err := s.resolveFileID(fileName)
	if err != nil {
		return blob.Metadata{}, translateError(err)
	}

	if fileID == "" {
		return blob.Metadata{}, blob.ErrBlobNotFound
	}

	fi, err := s.bucket.GetFileInfo(fileID)
	if err != nil {
		return blob.Metadata{}, errors.Wrap(translateError(err), "GetFileInfo")
	}

	return blob.Metadata{
		BlobID:    id,
		Length:    fi.ContentLength,
		Timestamp: time.Unix(0, fi.UploadTimestamp*int64(time.Millisecond)),
	}, nil
}

func isRetriableError(err error) bool {
	var b2err *backblaze.B2Error

	if errors.As(err, &b2err) {
		return b2err.Status >= http.StatusInternalServerError || b2err.Status == http.StatusTooManyRequests
	}

	return false
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var b2err *backblaze.B2Error
	if errors.As(err, &b2err) {
		switch b2err.Status {
		case http.StatusNotFound:
			// Normal "not found". That's fine.
			return blob.ErrBlobNotFound

		case http.StatusBadRequest:
			if b2err.Code == "already_hidden" || b2err.Code == "no_such_file" {
				// Special case when hiding a file that is already hidden. It's basically
				// not found.
				return blob.ErrBlobNotFound
			}

			if b2err.Code == "bad_request" && strings.HasPrefix(b2err.Message, "Bad fileId") {
				// returned in GetMetadata() when fileId is not found.
				return blob.ErrBlobNotFound
			}
		}
	}

	return err
}

func (s *b2Storage) PutBlob(ctx context.Context, id blob.ID, data io.Reader, length int64) error {
	fileName := s.getObjectNameString(id)

	lr := &io.LimitedReader{R: data, N: length + 1}

	f, err := s.bucket.UploadFile(fileName, nil, lr)
	if err != nil {
		return translateError(err)
	}

	if err := blob.EnsureLengthExactly(f.ContentLength, length); err != nil {
		s.DeleteBlob(ctx, id) //nolint:errcheck
		return err
	}

	return nil
}

func (s *b2Storage) DeleteBlob(ctx context.Context, id blob.ID) error {
	_, err := s.bucket.HideFile(s.getObjectNameString(id))
	err = translateError(err)

	if errors.Is(err, blob.ErrBlobNotFound) {
		// Deleting failed because it already is deleted? Fine.
		return nil
	}

	return err
}

func (s *b2Storage) getObjectNameString(id blob.ID) string {
	return s.Prefix + string(id)
}

func (s *b2Storage) ListBlobs(ctx context.Context, prefix blob.ID, callback func(blob.Metadata) error) error {
	const maxFileQuery = 1000

	fullPrefix := s.getObjectNameString(prefix)
	nextFile := ""

	for {
		resp, err := s.bucket.ListFileNamesWithPrefix(nextFile, maxFileQuery, fullPrefix, "")
		if err != nil {
			return errors.Wrap(err, "ListFileNamesWithPrefix")
		}

		for i := range resp.Files {
			f := &resp.Files[i]
			bm := blob.Metadata{
				BlobID:    blob.ID(f.Name[len(s.Prefix):]),
				Length:    f.ContentLength,
				Timestamp: time.Unix(0, f.UploadTimestamp*int64(time.Millisecond)),
			}

			if err := callback(bm); err != nil {
				return err
			}
		}

		nextFile = resp.NextFileName

		if nextFile == "" {
			break
		}
	}

	return nil
}

func (s *b2Storage) ConnectionInfo() blob.ConnectionInfo {
	return blob.ConnectionInfo{
		Type:   b2storageType,
		Config: &s.Options,
	}
}

func (s *b2Storage) DisplayName() string {
	return fmt.Sprintf("B2: %v", s.BucketName)
}

func (s *b2Storage) Close(ctx context.Context) error {
	return nil
}

func (s *b2Storage) String() string {
	return fmt.Sprintf("b2://%s/%s", s.BucketName, s.Prefix)
}

// New creates new B2-backed storage with specified options.
func New(ctx context.Context, opt *Options) (blob.Storage, error) {
	if opt.BucketName == "" {
		return nil, errors.New("bucket name must be specified")
	}

	cli, err := backblaze.NewB2(backblaze.Credentials{KeyID: opt.KeyID, ApplicationKey: opt.Key})
	if err != nil {
		return nil, errors.Wrap(err, "unable to create client")
	}

	bucket, err := cli.Bucket(opt.BucketName)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open bucket %q", opt.BucketName)
	}

	if bucket == nil {
		return nil, errors.Errorf("bucket not found: %s", opt.BucketName)
	}

	return &b2Storage{
		Options: *opt,
		cli:     cli,
		bucket:  bucket,
	}, nil
}

func init() {
	blob.AddSupportedStorage(b2storageType, Options{}, New)
}
