// Package logging implements wrapper around Storage that logs all activity.
package logging

import (
	"context"
	"io"
	"time"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/clock"
	"github.com/kopia/mimespool/logging"
)

type loggingStorage struct {
	base   blob.Storage
	logger logging.Logger
	prefix string
}

func (s *loggingStorage) OpenBlob(ctx context.Context, id blob.ID) (io.ReadCloser, error) {
	t0 := clock.Now()
	rc, err := s.base.OpenBlob(ctx, id)
	dt := clock.Since(t0)

	s.logger.Debugw(s.prefix+"OpenBlob",
		"blobID", id,
		"error", err,
		"duration", dt,
	)

	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return &loggingReader{ReadCloser: rc, s: s, id: id, started: t0}, nil
}

// loggingReader reports the number of bytes consumed from a blob when it is closed.
type loggingReader struct {
	io.ReadCloser

	s       *loggingStorage
	id      blob.ID
	n       int64
	started time.Time
}

func (r *loggingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n += int64(n)

	return n, err //nolint:wrapcheck
}

func (r *loggingReader) Close() error {
	err := r.ReadCloser.Close()

	r.s.logger.Debugw(r.s.prefix+"CloseBlob",
		"blobID", r.id,
		"bytesRead", r.n,
		"error", err,
		"duration", clock.Since(r.started),
	)

	return err //nolint:wrapcheck
}

func (s *loggingStorage) GetMetadata(ctx context.Context, id blob.ID) (blob.Metadata, error) {
	t0 := clock.Now()
	result, err := s.base.GetMetadata(ctx, id)
	dt := clock.Since(t0)

	s.logger.Debugw(s.prefix+"GetMetadata",
		"blobID", id,
		"result", result,
		"error", err,
		"duration", dt,
	)

	return result, err //nolint:wrapcheck
}

func (s *loggingStorage) PutBlob(ctx context.Context, id blob.ID, data io.Reader, length int64) error {
	t0 := clock.Now()
	err := s.base.PutBlob(ctx, id, data, length)
	dt := clock.Since(t0)

	s.logger.Debugw(s.prefix+"PutBlob",
		"blobID", id,
		"length", length,
		"error", err,
		"duration", dt,
	)

	return err //nolint:wrapcheck
}

func (s *loggingStorage) DeleteBlob(ctx context.Context, id blob.ID) error {
	t0 := clock.Now()
	err := s.base.DeleteBlob(ctx, id)
	dt := clock.Since(t0)

	s.logger.Debugw(s.prefix+"DeleteBlob",
		"blobID", id,
		"error", err,
		"duration", dt,
	)

	return err //nolint:wrapcheck
}

func (s *loggingStorage) ListBlobs(ctx context.Context, prefix blob.ID, callback func(blob.Metadata) error) error {
	t0 := clock.Now()
	cnt := 0

	err := s.base.ListBlobs(ctx, prefix, func(bi blob.Metadata) error {
		cnt++
		return callback(bi)
	})

	s.logger.Debugw(s.prefix+"ListBlobs",
		"prefix", prefix,
		"resultCount", cnt,
		"error", err,
		"duration", clock.Since(t0),
	)

	return err //nolint:wrapcheck
}

func (s *loggingStorage) Close(ctx context.Context) error {
	t0 := clock.Now()
	err := s.base.Close(ctx)
	dt := clock.Since(t0)

	s.logger.Debugw(s.prefix+"Close",
		"error", err,
		"duration", dt,
	)

	return err //nolint:wrapcheck
}

func (s *loggingStorage) ConnectionInfo() blob.ConnectionInfo {
	return s.base.ConnectionInfo()
}

func (s *loggingStorage) DisplayName() string {
	return s.base.DisplayName()
}

// NewWrapper returns a Storage wrapper that logs all storage commands.
func NewWrapper(wrapped blob.Storage, logger logging.Logger, prefix string) blob.Storage {
	return &loggingStorage{base: wrapped, logger: logger, prefix: prefix}
}
