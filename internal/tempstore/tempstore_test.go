package tempstore_test

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"

	"github.com/kopia/mimespool/internal/clock"
	"github.com/kopia/mimespool/internal/compression"
	"github.com/kopia/mimespool/internal/metrics"
	"github.com/kopia/mimespool/internal/releasable"
	"github.com/kopia/mimespool/internal/tempstore"
	"github.com/kopia/mimespool/internal/testlogging"
	"github.com/kopia/mimespool/internal/testutil"
)

func newStorage(t *testing.T, opts tempstore.Options) *tempstore.Storage {
	t.Helper()

	if opts.Dir == "" {
		opts.Dir = filepath.Join(testutil.TempDirectory(t), "spool")
	}

	s, err := tempstore.NewStorage(opts)
	require.NoError(t, err)

	return s
}

func trackHandles(t *testing.T) {
	t.Helper()

	releasable.EnableTracking(tempstore.HandleKind)

	t.Cleanup(func() {
		require.NoError(t, releasable.Verify())
		releasable.DisableTracking(tempstore.HandleKind)
	})
}

func writeFile(t *testing.T, f *tempstore.File, data []byte) {
	t.Helper()

	w, err := f.OpenForWrite()
	require.NoError(t, err)

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readFile(t *testing.T, f *tempstore.File) []byte {
	t.Helper()

	r, err := f.OpenForRead()
	require.NoError(t, err)

	defer r.Close()

	b, err := io.ReadAll(r)
	require.NoError(t, err)

	return b
}

func TestRootPathCreatesDirectoryOnce(t *testing.T) {
	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	var (
		wg    sync.WaitGroup
		paths [16]*tempstore.Path
		errs  [16]error
	)

	for i := range paths {
		wg.Add(1)

		go func() {
			defer wg.Done()

			paths[i], errs[i] = s.RootPath(ctx)
		}()
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	for _, p := range paths {
		require.Same(t, paths[0], p)
	}

	fi, err := os.Stat(paths[0].Dir())
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
	}

	// no probe files left behind.
	require.Equal(t, 0, testutil.CountFiles(t, paths[0].Dir()))
}

func TestRootPathUnavailable(t *testing.T) {
	ctx := testlogging.Context(t)

	notADir := filepath.Join(testutil.TempDirectory(t), "file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o600))

	s := newStorage(t, tempstore.Options{Dir: filepath.Join(notADir, "spool")})

	_, err := s.RootPath(ctx)
	require.ErrorIs(t, err, tempstore.ErrStorageUnavailable)

	// the failure is cached.
	_, err2 := s.RootPath(ctx)
	require.ErrorIs(t, err2, tempstore.ErrStorageUnavailable)
	require.Equal(t, err.Error(), err2.Error())
}

func TestInvalidCompression(t *testing.T) {
	_, err := tempstore.NewStorage(tempstore.Options{Compression: "no-such"})
	require.ErrorIs(t, err, compression.ErrUnknownCompressor)
}

func TestCreateTemporaryFileName(t *testing.T) {
	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(f.Name(), "attachment"))
	require.True(t, strings.HasSuffix(f.Name(), ".bin"))
	require.Greater(t, len(f.Name()), len("attachment.bin"))
	require.Equal(t, filepath.Join(root.Dir(), f.Name()), f.Path())

	// suffix without a dot gets one.
	f2, err := root.CreateTemporaryFile(ctx, "x", "bin")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(f2.Name(), ".bin"))

	// new files exist and are empty.
	n, err := f.Length()
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	_, err = root.CreateTemporaryFile(ctx, "a/b", ".bin")
	require.ErrorIs(t, err, tempstore.ErrStorageUnavailable)

	_, err = root.CreateTemporaryFile(ctx, "a", "..")
	require.ErrorIs(t, err, tempstore.ErrStorageUnavailable)
}

func TestCreateTemporaryFileConcurrentUniqueness(t *testing.T) {
	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	const count = 1000

	var (
		wg    sync.WaitGroup
		names [count]string
	)

	for i := range count {
		wg.Add(1)

		go func() {
			defer wg.Done()

			f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
			if err != nil {
				t.Error(err)
				return
			}

			names[i] = f.Name()
		}()
	}

	wg.Wait()

	seen := map[string]bool{}
	for _, n := range names {
		require.NotEmpty(t, n)
		require.False(t, seen[n], "duplicate name %v", n)
		seen[n] = true
	}

	require.Equal(t, count, testutil.CountFiles(t, root.Dir()))
	require.Len(t, s.LiveFiles(), count)
}

func TestSubPath(t *testing.T) {
	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	sub, err := root.Sub("parts")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root.Dir(), "parts"), sub.Dir())

	f, err := sub.CreateTemporaryFile(ctx, "p", ".bin")
	require.NoError(t, err)
	require.Equal(t, sub.Dir(), filepath.Dir(f.Path()))

	_, err = root.Sub("..")
	require.ErrorIs(t, err, tempstore.ErrStorageUnavailable)

	_, err = root.Sub("")
	require.ErrorIs(t, err, tempstore.ErrStorageUnavailable)
}

func TestFileRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":       {},
		"hello-world": []byte("hello world"),
		"multi-buf":   bytes.Repeat([]byte("0123456789abcdef"), 3*65536/16+1234),
	}

	for _, comp := range []compression.Name{"", "zstd", "s2-default", "pgzip", "lz4"} {
		for name, data := range cases {
			t.Run(string(comp)+"/"+name, func(t *testing.T) {
				trackHandles(t)

				ctx := testlogging.Context(t)
				s := newStorage(t, tempstore.Options{Compression: comp})

				root, err := s.RootPath(ctx)
				require.NoError(t, err)

				f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
				require.NoError(t, err)
				require.False(t, f.Sealed())

				writeFile(t, f, data)
				require.True(t, f.Sealed())
				require.Equal(t, int64(len(data)), f.Size())

				// every read returns the full contents.
				require.Equal(t, data, readFile(t, f))
				require.Equal(t, data, readFile(t, f))

				if comp == "" {
					n, err := f.Length()
					require.NoError(t, err)
					require.Equal(t, int64(len(data)), n)
				}
			})
		}
	}
}

func TestCompressionShrinksSpool(t *testing.T) {
	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{Compression: "zstd"})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)

	data := make([]byte, 1<<20)
	writeFile(t, f, data)

	n, err := f.Length()
	require.NoError(t, err)
	require.Less(t, n, int64(len(data)))
	require.Equal(t, data, readFile(t, f))
}

func TestOpenForWriteOnlyOnce(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)

	w, err := f.OpenForWrite()
	require.NoError(t, err)

	// while writing.
	_, err = f.OpenForWrite()
	require.ErrorIs(t, err, tempstore.ErrAlreadyWritten)

	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("more"))
	require.Error(t, err)

	// after sealing.
	_, err = f.OpenForWrite()
	require.ErrorIs(t, err, tempstore.ErrAlreadyWritten)

	require.Equal(t, []byte("abc"), readFile(t, f))
}

func TestDelete(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)
	writeFile(t, f, []byte("hello"))

	require.NoError(t, f.Delete())
	require.True(t, f.Deleted())

	_, err = os.Stat(f.Path())
	require.True(t, os.IsNotExist(err))

	// idempotent.
	require.NoError(t, f.Delete())

	_, err = f.OpenForRead()
	require.ErrorIs(t, err, tempstore.ErrNotFound)

	_, err = f.OpenForWrite()
	require.ErrorIs(t, err, tempstore.ErrNotFound)

	_, err = f.Length()
	require.ErrorIs(t, err, tempstore.ErrNotFound)

	require.Empty(t, s.LiveFiles())
}

func TestDeleteRemovedExternally(t *testing.T) {
	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)

	require.NoError(t, os.Remove(f.Path()))

	_, err = f.OpenForRead()
	require.ErrorIs(t, err, tempstore.ErrNotFound)

	require.NoError(t, f.Delete())
}

func TestAbort(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)

	w, err := f.OpenForWrite()
	require.NoError(t, err)

	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	require.NoError(t, w.Abort())
	require.True(t, f.Deleted())
	require.Equal(t, 0, testutil.CountFiles(t, root.Dir()))
}

func TestReadAfterDeleteOnUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("open files cannot be deleted on windows")
	}

	trackHandles(t)

	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)
	writeFile(t, f, []byte("hello world"))

	r, err := f.OpenForRead()
	require.NoError(t, err)

	require.NoError(t, f.Delete())

	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), b)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestConcurrentReaders(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)

	data := bytes.Repeat([]byte("x"), 300000)
	writeFile(t, f, data)

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			r, err := f.OpenForRead()
			if err != nil {
				t.Error(err)
				return
			}

			defer r.Close()

			b, err := io.ReadAll(r)
			if err != nil || !bytes.Equal(b, data) {
				t.Errorf("invalid read: %v", err)
			}
		}()
	}

	wg.Wait()
}

func TestCapacityGuard(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skip("free space check not supported")
	}

	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{MinFreeBytes: math.MaxInt64})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	_, err = root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.ErrorIs(t, err, tempstore.ErrStorageUnavailable)

	free, err := s.FreeSpace(ctx)
	require.NoError(t, err)
	require.Positive(t, free)
}

func TestMetrics(t *testing.T) {
	ctx := testlogging.Context(t)
	reg := metrics.NewRegistry()
	s := newStorage(t, tempstore.Options{Metrics: reg})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)

	w, err := f.OpenForWrite()
	require.NoError(t, err)
	require.Equal(t, int64(1), reg.Snapshot(false).Gauges["tempstore_open_handles"])

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Delete())

	snap := reg.Snapshot(false)
	require.Equal(t, int64(1), snap.Counters["tempstore_files_created"])
	require.Equal(t, int64(1), snap.Counters["tempstore_files_deleted"])
	require.Equal(t, int64(5), snap.Counters["tempstore_bytes_written"])
	require.Equal(t, int64(0), snap.Gauges["tempstore_open_handles"])
}

func TestSweep(t *testing.T) {
	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour)

	orphan := filepath.Join(root.Dir(), "attachment0000000000000000.bin")
	require.NoError(t, os.WriteFile(orphan, []byte("orphan"), 0o600))
	require.NoError(t, os.Chtimes(orphan, old, old))

	fresh := filepath.Join(root.Dir(), "attachment1111111111111111.bin")
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0o600))

	// live files are never swept, regardless of age.
	live, err := root.CreateTemporaryFile(ctx, "attachment", ".bin")
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(live.Path(), old, old))

	var removed []string

	st, err := s.Sweep(ctx, tempstore.SweepOptions{
		MinAge: 24 * time.Hour,
		DryRun: true,
		OnRemove: func(p string, _ int64) {
			removed = append(removed, p)
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{orphan}, removed)
	require.Equal(t, 1, st.Removed)
	require.FileExists(t, orphan)

	st, err = s.Sweep(ctx, tempstore.SweepOptions{MinAge: 24 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, 3, st.Scanned)
	require.Equal(t, 1, st.Removed)
	require.Equal(t, int64(len("orphan")), st.RemovedBytes)
	require.Equal(t, 2, st.Retained)
	require.NoFileExists(t, orphan)
	require.FileExists(t, fresh)
	require.FileExists(t, live.Path())

	count, total, err := s.Usage(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, int64(len("fresh")), total)
}

func TestSweepAgesByClock(t *testing.T) {
	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	p := filepath.Join(root.Dir(), "attachment2222222222222222.bin")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	st, err := s.Sweep(ctx, tempstore.SweepOptions{MinAge: 24 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, 0, st.Removed)

	future := time.Now().Add(48 * time.Hour)
	defer clock.Override(func() time.Time { return future })()

	st, err = s.Sweep(ctx, tempstore.SweepOptions{MinAge: 24 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, 1, st.Removed)
	require.NoFileExists(t, p)
}

func TestSweepInProgress(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("lock semantics differ on windows")
	}

	ctx := testlogging.Context(t)
	s := newStorage(t, tempstore.Options{})

	root, err := s.RootPath(ctx)
	require.NoError(t, err)

	fl := flock.New(filepath.Join(root.Dir(), ".sweep.lock"))

	ok, err := fl.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	defer fl.Unlock()

	_, err = s.Sweep(ctx, tempstore.SweepOptions{})
	require.ErrorIs(t, err, tempstore.ErrSweepInProgress)
}

func TestOpenExisting(t *testing.T) {
	trackHandles(t)

	ctx := testlogging.Context(t)
	data := bytes.Repeat([]byte("spooled by another process "), 1000)

	dir := filepath.Join(testutil.TempDirectory(t), "spool")

	// written with compression, read back by a storage that has none configured.
	writer := newStorage(t, tempstore.Options{Dir: dir, Compression: "zstd"})

	root, err := writer.RootPath(ctx)
	require.NoError(t, err)

	f, err := root.CreateTemporaryFile(ctx, "attachment", "bin")
	require.NoError(t, err)
	writeFile(t, f, data)

	reader := newStorage(t, tempstore.Options{Dir: dir})

	root2, err := reader.RootPath(ctx)
	require.NoError(t, err)

	plain, err := root2.CreateTemporaryFile(ctx, "plain", "bin")
	require.NoError(t, err)
	writeFile(t, plain, []byte("abc"))

	f2, err := root2.Open(ctx, f.Name())
	require.NoError(t, err)
	require.True(t, f2.Sealed())
	require.EqualValues(t, -1, f2.Size())
	require.Equal(t, data, readFile(t, f2))

	p2, err := root2.Open(ctx, plain.Name())
	require.NoError(t, err)
	require.EqualValues(t, 3, p2.Size())
	require.Equal(t, []byte("abc"), readFile(t, p2))

	_, err = p2.OpenForWrite()
	require.ErrorIs(t, err, tempstore.ErrAlreadyWritten)

	_, err = root2.Open(ctx, "no-such-file")
	require.ErrorIs(t, err, tempstore.ErrNotFound)

	_, err = root2.Open(ctx, "../escape")
	require.ErrorIs(t, err, tempstore.ErrNotFound)

	require.NoError(t, f2.Delete())
	require.NoError(t, f.Delete())
	require.NoError(t, p2.Delete())
	require.NoError(t, plain.Delete())
}
