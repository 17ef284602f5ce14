package message_test

import (
	"bytes"
	"context"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/blob/blobtesting"
	"github.com/kopia/mimespool/internal/tempstore"
	"github.com/kopia/mimespool/internal/testlogging"
	"github.com/kopia/mimespool/internal/testutil"
	"github.com/kopia/mimespool/message"
)

func TestMemoryProviderLimit(t *testing.T) {
	ctx := testlogging.Context(t)
	p := &message.MemoryStorageProvider{MaxBytes: 10}

	b, err := message.FromStream(ctx, p, strings.NewReader("0123456789"))
	require.NoError(t, err)
	require.Contains(t, b.Location(), "memory")

	_, err = message.FromStream(ctx, p, strings.NewReader("0123456789a"))
	require.ErrorIs(t, err, message.ErrTooLarge)
	require.ErrorIs(t, err, message.ErrIOFailure)

	require.NoError(t, b.Dispose(ctx))

	_, err = b.Reader(ctx)
	require.ErrorIs(t, err, message.ErrNotFound)
}

func TestThresholdProvider(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, dir := newStorage(t, tempstore.Options{})

	p := &message.ThresholdStorageProvider{
		Threshold: 100,
		Next:      &message.TempFileStorageProvider{Storage: st, Prefix: "big", Suffix: "dat"},
	}

	small, err := message.FromStream(ctx, p, bytes.NewReader(randomBytes(t, 100)))
	require.NoError(t, err)
	require.Contains(t, small.Location(), "memory")
	require.Equal(t, 0, testutil.CountFiles(t, dir))

	data := randomBytes(t, 101)

	big, err := message.FromStream(ctx, p, bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(big.Location(), ".dat"), big.Location())
	require.Equal(t, 1, testutil.CountFiles(t, dir))
	require.Equal(t, data, readAll(ctx, t, big))

	require.NoError(t, small.Dispose(ctx))
	require.NoError(t, big.Dispose(ctx))
	require.Equal(t, 0, testutil.CountFiles(t, dir))
}

func TestBlobProvider(t *testing.T) {
	ctx := testlogging.Context(t)

	data := blobtesting.DataMap{}
	bs := blobtesting.NewMapStorage(data, nil, nil)

	p := &message.BlobStorageProvider{
		Storage: bs,
		Staging: &message.MemoryStorageProvider{},
		Prefix:  "body-",
	}

	content := randomBytes(t, 5000)

	b, err := message.FromStream(ctx, p, bytes.NewReader(content))
	require.NoError(t, err)
	require.Len(t, data, 1)
	require.EqualValues(t, 5000, b.Length())
	require.Equal(t, content, readAll(ctx, t, b))

	for id := range data {
		require.True(t, strings.HasPrefix(string(id), "body-"), id)

		existing, err := message.NewBlobBacking(ctx, bs, id)
		require.NoError(t, err)
		require.EqualValues(t, 5000, existing.Length())
	}

	require.NoError(t, b.Dispose(ctx))
	require.Empty(t, data)

	_, err = message.NewBlobBacking(ctx, bs, "no-such-blob")
	require.ErrorIs(t, err, message.ErrNotFound)
}

func TestOffload(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, dir := newStorage(t, tempstore.Options{})

	data := blobtesting.DataMap{}
	bs := blobtesting.NewMapStorage(data, nil, nil)

	content := randomBytes(t, 200000)

	b, err := message.NewBinaryBody(ctx, st, bytes.NewReader(content))
	require.NoError(t, err)

	digest := b.Digest()

	id, err := message.Offload(ctx, b, bs)
	require.NoError(t, err)
	require.Equal(t, content, data[id])
	require.Equal(t, 0, testutil.CountFiles(t, dir))

	require.Equal(t, content, readAll(ctx, t, b))
	require.Equal(t, digest, b.Digest())
	require.EqualValues(t, len(content), b.Length())

	// fetching the blob back as a new body.
	bk, err := message.NewBlobBacking(ctx, bs, id)
	require.NoError(t, err)

	fetched := message.NewBinaryBodyFromBacking(bk, "")
	require.Equal(t, content, readAll(ctx, t, fetched))

	require.NoError(t, b.Dispose(ctx))
	require.NotContains(t, data, id)

	_, err = message.Offload(ctx, b, bs)
	require.ErrorIs(t, err, message.ErrNotFound)
}

func TestOffloadFailureKeepsBody(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, dir := newStorage(t, tempstore.Options{})

	b, err := message.NewBinaryBody(ctx, st, strings.NewReader("keep me"))
	require.NoError(t, err)

	defer b.Dispose(ctx)

	_, err = b.Offload(ctx, failingBlobStorage{blobtesting.NewMapStorage(blobtesting.DataMap{}, nil, nil)}, "")
	require.ErrorIs(t, err, errBoom)
	require.ErrorIs(t, err, message.ErrIOFailure)

	require.Equal(t, 1, testutil.CountFiles(t, dir))
	require.Equal(t, "keep me", string(readAll(ctx, t, b)))
}

func TestSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := testlogging.Context(t)
	st, _ := newStorage(t, tempstore.Options{})

	b, err := message.NewBinaryBody(ctx, st, strings.NewReader("traced"))
	require.NoError(t, err)

	_, err = b.WriteTo(&bytes.Buffer{})
	require.NoError(t, err)

	_, err = message.NewBinaryBody(ctx, st, &failingReader{})
	require.Error(t, err)

	require.NoError(t, b.Dispose(ctx))

	var names []string

	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}

	require.Equal(t, []string{"BinaryBody.FromStream", "BinaryBody.WriteTo", "BinaryBody.FromStream"}, names)

	failed := sr.Ended()[2]
	require.Equal(t, codes.Error, failed.Status().Code)
	require.NotEmpty(t, failed.Events())
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errBoom
}

type failingBlobStorage struct {
	blob.Storage
}

func (failingBlobStorage) PutBlob(ctx context.Context, id blob.ID, data io.Reader, length int64) error {
	return errBoom
}

// slowBlobStorage holds PutBlob until release is closed.
type slowBlobStorage struct {
	blob.Storage

	started chan struct{}
	release chan struct{}
}

func newSlowBlobStorage(st blob.Storage) *slowBlobStorage {
	return &slowBlobStorage{
		Storage: st,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (s *slowBlobStorage) PutBlob(ctx context.Context, id blob.ID, data io.Reader, length int64) error {
	s.started <- struct{}{}
	<-s.release

	return s.Storage.PutBlob(ctx, id, data, length) //nolint:wrapcheck
}

type offloadResult struct {
	id  blob.ID
	err error
}

func startOffload(ctx context.Context, b *message.BinaryBody, st blob.Storage) <-chan offloadResult {
	done := make(chan offloadResult, 1)

	go func() {
		id, err := b.Offload(ctx, st, "o-")
		done <- offloadResult{id, err}
	}()

	return done
}

func TestReadDuringOffload(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, dir := newStorage(t, tempstore.Options{})

	data := blobtesting.DataMap{}
	bs := newSlowBlobStorage(blobtesting.NewMapStorage(data, nil, nil))

	content := randomBytes(t, 50000)

	b, err := message.NewBinaryBody(ctx, st, bytes.NewReader(content))
	require.NoError(t, err)

	defer b.Dispose(ctx)

	done := startOffload(ctx, b, bs)
	<-bs.started

	read := make(chan []byte, 1)

	go func() {
		var buf bytes.Buffer

		if _, err := b.CopyTo(ctx, &buf); err != nil {
			read <- nil
			return
		}

		read <- buf.Bytes()
	}()

	select {
	case got := <-read:
		require.Equal(t, content, got)
	case <-time.After(10 * time.Second):
		t.Fatal("body is not readable while upload is in progress")
	}

	require.EqualValues(t, len(content), b.Length())
	require.Equal(t, 1, testutil.CountFiles(t, dir))

	close(bs.release)

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, content, data[r.id])
	require.Equal(t, 0, testutil.CountFiles(t, dir))

	id, ok := b.BlobID()
	require.True(t, ok)
	require.Equal(t, r.id, id)
}

func TestDisposeDuringOffload(t *testing.T) {
	ctx := testlogging.Context(t)

	data := blobtesting.DataMap{}
	bs := newSlowBlobStorage(blobtesting.NewMapStorage(data, nil, nil))

	b, err := message.FromStream(ctx, &message.MemoryStorageProvider{}, strings.NewReader("short-lived"))
	require.NoError(t, err)

	done := startOffload(ctx, b, bs)
	<-bs.started

	require.NoError(t, b.Dispose(ctx))

	close(bs.release)

	r := <-done
	require.ErrorIs(t, r.err, message.ErrNotFound)
	require.Empty(t, data)

	_, ok := b.BlobID()
	require.False(t, ok)
}

func TestThresholdProviderInvalid(t *testing.T) {
	ctx := testlogging.Context(t)

	for _, p := range []*message.ThresholdStorageProvider{
		{Threshold: 10},
		{Threshold: -1, Next: &message.MemoryStorageProvider{}},
		{Threshold: math.MaxInt64, Next: &message.MemoryStorageProvider{}},
	} {
		_, err := message.FromStream(ctx, p, strings.NewReader("abc"))
		require.Error(t, err, "%+v", p)
	}
}

// unknownLengthProvider stores bodies in memory but does not report their length.
type unknownLengthProvider struct{}

func (unknownLengthProvider) Store(ctx context.Context, src io.Reader) (message.Backing, error) {
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	return unknownLengthBacking(b), nil
}

type unknownLengthBacking []byte

func (b unknownLengthBacking) Reader(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (unknownLengthBacking) Length() int64                    { return -1 }
func (unknownLengthBacking) Delete(ctx context.Context) error { return nil }
func (unknownLengthBacking) Location() string                 { return "unknown" }

func TestUploadOfUnknownLength(t *testing.T) {
	ctx := testlogging.Context(t)

	data := blobtesting.DataMap{}
	p := &message.BlobStorageProvider{
		Storage: blobtesting.NewMapStorage(data, nil, nil),
		Staging: unknownLengthProvider{},
	}

	content := randomBytes(t, 3000)

	b, err := message.FromStream(ctx, p, bytes.NewReader(content))
	require.NoError(t, err)
	require.EqualValues(t, len(content), b.Length())

	id, ok := b.BlobID()
	require.True(t, ok)
	require.Equal(t, content, data[id])
}
