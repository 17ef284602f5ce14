package message_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/kopia/mimespool/internal/iocopy"
	"github.com/kopia/mimespool/internal/releasable"
	"github.com/kopia/mimespool/internal/tempstore"
	"github.com/kopia/mimespool/internal/testlogging"
	"github.com/kopia/mimespool/internal/testutil"
	"github.com/kopia/mimespool/message"
)

var errBoom = errors.New("boom")

func newStorage(t *testing.T, opts tempstore.Options) (*tempstore.Storage, string) {
	t.Helper()

	if opts.Dir == "" {
		opts.Dir = filepath.Join(testutil.TempDirectory(t), "spool")
	}

	st, err := tempstore.NewStorage(opts)
	require.NoError(t, err)

	return st, opts.Dir
}

func trackHandles(t *testing.T) {
	t.Helper()

	releasable.EnableTracking(tempstore.HandleKind)

	t.Cleanup(func() {
		require.NoError(t, releasable.Verify())
		releasable.DisableTracking(tempstore.HandleKind)
	})
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

func readAll(ctx context.Context, t *testing.T, b message.SingleBody) []byte {
	t.Helper()

	r, err := b.Reader(ctx)
	require.NoError(t, err)

	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	return data
}

func providers(t *testing.T) map[string]message.StorageProvider {
	t.Helper()

	plain, _ := newStorage(t, tempstore.Options{})
	compressed, _ := newStorage(t, tempstore.Options{Compression: "s2-default"})

	return map[string]message.StorageProvider{
		"tempfile":            &message.TempFileStorageProvider{Storage: plain},
		"tempfile-compressed": &message.TempFileStorageProvider{Storage: compressed},
		"memory":              &message.MemoryStorageProvider{},
		"threshold": &message.ThresholdStorageProvider{
			Threshold: 1000,
			Next:      &message.TempFileStorageProvider{Storage: plain},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	bufSize := iocopy.BufSize

	lengths := []int{0, 1, 11, 999, 1000, 1001, bufSize - 1, bufSize, bufSize + 1, 3*bufSize + 17}

	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range lengths {
				data := randomBytes(t, n)

				b, err := message.FromStream(ctx, p, bytes.NewReader(data))
				require.NoError(t, err)

				require.EqualValues(t, n, b.Length())
				require.Equal(t, data, readAll(ctx, t, b), "length %v", n)

				// read access is repeatable.
				for range 2 {
					var buf bytes.Buffer

					written, err := b.WriteTo(&buf)
					require.NoError(t, err)
					require.EqualValues(t, n, written)
					require.Len(t, buf.Bytes(), n)
					require.True(t, bytes.Equal(data, buf.Bytes()), "length %v", n)
				}

				require.NoError(t, b.Dispose(ctx))
			}
		})
	}
}

func TestHelloWorldAttachment(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, dir := newStorage(t, tempstore.Options{})

	b, err := message.NewBinaryBody(ctx, st, strings.NewReader("hello world"))
	require.NoError(t, err)

	fname := filepath.Base(b.Location())
	require.True(t, strings.HasPrefix(fname, "attachment"), fname)
	require.True(t, strings.HasSuffix(fname, ".bin"), fname)
	require.Equal(t, dir, filepath.Dir(b.Location()))

	fi, err := os.Stat(b.Location())
	require.NoError(t, err)
	require.EqualValues(t, 11, fi.Size())
	require.EqualValues(t, 11, b.Length())

	require.Equal(t, "hello world", string(readAll(ctx, t, b)))

	want := blake3.Sum256([]byte("hello world"))
	require.Equal(t, hex.EncodeToString(want[:]), b.Digest())

	require.NoError(t, b.Dispose(ctx))
	require.Equal(t, 0, testutil.CountFiles(t, dir))
}

func TestFailingSourceLeavesNothingBehind(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)

	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			src := io.MultiReader(
				bytes.NewReader(randomBytes(t, 200000)),
				iotest.ErrReader(errBoom),
			)

			b, err := message.FromStream(ctx, p, src)
			require.ErrorIs(t, err, message.ErrIOFailure)
			require.ErrorIs(t, err, errBoom)
			require.Nil(t, b)
		})
	}

	// also fails before the first byte.
	st, dir := newStorage(t, tempstore.Options{})

	b, err := message.NewBinaryBody(ctx, st, iotest.ErrReader(errBoom))
	require.ErrorIs(t, err, message.ErrIOFailure)
	require.Nil(t, b)

	require.Equal(t, 0, testutil.CountFiles(t, dir))
	require.Empty(t, st.LiveFiles())
}

func TestStorageUnavailableIsIOFailure(t *testing.T) {
	ctx := testlogging.Context(t)

	notADir := filepath.Join(testutil.TempDirectory(t), "file")
	require.NoError(t, os.WriteFile(notADir, nil, 0o600))

	st, err := tempstore.NewStorage(tempstore.Options{Dir: filepath.Join(notADir, "spool")})
	require.NoError(t, err)

	_, err = message.NewBinaryBody(ctx, st, strings.NewReader("x"))
	require.ErrorIs(t, err, message.ErrIOFailure)
	require.ErrorIs(t, err, tempstore.ErrStorageUnavailable)
}

type failingWriter struct {
	n int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n <= 0 {
		return 0, errBoom
	}

	if len(p) > w.n {
		n := w.n
		w.n = 0

		return n, errBoom
	}

	w.n -= len(p)

	return len(p), nil
}

func TestWriteToFailingSink(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, _ := newStorage(t, tempstore.Options{})

	b, err := message.NewBinaryBody(ctx, st, bytes.NewReader(randomBytes(t, 300000)))
	require.NoError(t, err)

	defer b.Dispose(ctx)

	n, err := b.WriteTo(&failingWriter{n: 1000})
	require.ErrorIs(t, err, message.ErrIOFailure)
	require.ErrorIs(t, err, errBoom)
	require.EqualValues(t, 1000, n)

	// the body remains readable.
	var buf bytes.Buffer

	_, err = b.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, 300000, buf.Len())
}

func TestDispose(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, dir := newStorage(t, tempstore.Options{})

	b, err := message.NewBinaryBody(ctx, st, strings.NewReader("some data"))
	require.NoError(t, err)
	require.False(t, b.Disposed())
	require.Equal(t, 1, testutil.CountFiles(t, dir))

	require.NoError(t, b.Dispose(ctx))
	require.True(t, b.Disposed())
	require.Equal(t, 0, testutil.CountFiles(t, dir))

	_, err = b.Reader(ctx)
	require.ErrorIs(t, err, message.ErrNotFound)

	_, err = b.WriteTo(io.Discard)
	require.ErrorIs(t, err, message.ErrNotFound)

	// disposing again is a no-op.
	require.NoError(t, b.Dispose(ctx))
}

func TestConcurrentConstruction(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, dir := newStorage(t, tempstore.Options{})

	const n = 100

	var (
		wg     sync.WaitGroup
		bodies [n]*message.BinaryBody
		errs   [n]error
	)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			bodies[i], errs[i] = message.NewBinaryBody(ctx, st, strings.NewReader(strings.Repeat("x", i)))
		}()
	}

	wg.Wait()

	seen := map[string]bool{}

	for i := range n {
		require.NoError(t, errs[i])
		require.False(t, seen[bodies[i].Location()])
		seen[bodies[i].Location()] = true

		require.Equal(t, strings.Repeat("x", i), string(readAll(ctx, t, bodies[i])))
	}

	require.Equal(t, n, testutil.CountFiles(t, dir))

	for _, b := range bodies {
		require.NoError(t, b.Dispose(ctx))
	}

	require.Equal(t, 0, testutil.CountFiles(t, dir))
}

func TestConcurrentReaders(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	st, _ := newStorage(t, tempstore.Options{})
	data := randomBytes(t, 500000)

	b, err := message.NewBinaryBody(ctx, st, bytes.NewReader(data))
	require.NoError(t, err)

	defer b.Dispose(ctx)

	var (
		wg   sync.WaitGroup
		errs [10]error
	)

	for i := range errs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			var buf bytes.Buffer

			if _, err := b.WriteTo(&buf); err != nil {
				errs[i] = err
				return
			}

			if !bytes.Equal(buf.Bytes(), data) {
				errs[i] = errors.New("contents mismatch")
			}
		}()
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestParent(t *testing.T) {
	ctx := testlogging.Context(t)

	b, err := message.FromStream(ctx, &message.MemoryStorageProvider{}, strings.NewReader("x"))
	require.NoError(t, err)
	require.Nil(t, b.Parent())

	e := message.NewEntity(nil)
	b.SetParent(e)
	require.Same(t, e, b.Parent())

	// the parent link does not keep the body alive or dispose it.
	b.SetParent(nil)
	require.Nil(t, b.Parent())
	require.False(t, b.Disposed())
}
