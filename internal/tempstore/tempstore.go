// Package tempstore manages private temporary files used to spool large payloads to disk.
//
// A Storage owns a root directory which is resolved (and created) once, on first use.
// Paths are directory scopes under the root and create uniquely-named Files.
// Each File may be written exactly once and read any number of times until it is deleted.
package tempstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/compression"
	"github.com/kopia/mimespool/internal/metrics"
	"github.com/kopia/mimespool/logging"
)

var log = logging.Module("mimespool/tempstore")

const (
	// DefaultDirName is the name of the directory created under os.TempDir() when Options.Dir is empty.
	DefaultDirName = "mimespool"

	dirMode  os.FileMode = 0o700
	fileMode os.FileMode = 0o600
)

// Errors returned by tempstore. They are wrapped with additional context and must be matched using errors.Is().
var (
	ErrStorageUnavailable = errors.New("temporary storage unavailable")
	ErrAlreadyWritten     = errors.New("temporary file has already been written")
	ErrNotFound           = errors.New("temporary file not found")
)

// Options configures temporary storage.
type Options struct {
	// Dir is the root directory for temporary files; defaults to $TMPDIR/mimespool.
	Dir string `json:"dir,omitempty"`

	// MinFreeBytes refuses to create new temporary files when the volume holding Dir has less free space.
	MinFreeBytes int64 `json:"minFreeBytes,omitempty"`

	// Compression optionally compresses spooled contents using the named compressor.
	Compression compression.Name `json:"compression,omitempty"`

	// Metrics receives spool counters, may be nil.
	Metrics *metrics.Registry `json:"-"`
}

// Storage is the factory of temporary directory scopes.
// It is safe for concurrent use; the root directory is resolved at most once.
type Storage struct {
	opts       Options
	compressor compression.Compressor
	m          *storageMetrics

	rootOnce sync.Once
	root     *Path
	rootErr  error

	liveMu sync.Mutex
	// +checklocks:liveMu
	live map[string]*File
}

// NewStorage returns new Storage with the provided options. No I/O happens until RootPath is called.
func NewStorage(opts Options) (*Storage, error) {
	s := &Storage{
		opts: opts,
		m:    newStorageMetrics(opts.Metrics),
		live: map[string]*File{},
	}

	if opts.Compression != "" {
		c, err := compression.Get(opts.Compression)
		if err != nil {
			return nil, errors.Wrap(err, "invalid spool compression")
		}

		s.compressor = c
	}

	return s, nil
}

// Options returns the options the storage was created with.
func (s *Storage) Options() Options {
	return s.opts
}

func (s *Storage) rootDir() string {
	if s.opts.Dir != "" {
		return s.opts.Dir
	}

	return filepath.Join(os.TempDir(), DefaultDirName)
}

// RootPath returns the directory scope of the storage root, creating the directory
// and verifying that it is writable on first call. The outcome of the first call is
// cached and returned by all subsequent calls.
func (s *Storage) RootPath(ctx context.Context) (*Path, error) {
	s.rootOnce.Do(func() {
		s.root, s.rootErr = s.resolveRoot(ctx)
	})

	return s.root, s.rootErr
}

func (s *Storage) resolveRoot(ctx context.Context) (*Path, error) {
	dir, err := filepath.Abs(s.rootDir())
	if err != nil {
		return nil, errors.Wrapf(ErrStorageUnavailable, "invalid root %q: %v", s.rootDir(), err)
	}

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, errors.Wrapf(ErrStorageUnavailable, "unable to create %v: %v", dir, err)
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, errors.Wrapf(ErrStorageUnavailable, "%v is not writable: %v", dir, err)
	}

	probe.Close()           //nolint:errcheck
	os.Remove(probe.Name()) //nolint:errcheck

	log(ctx).Debugf("temporary storage root: %v", dir)

	return &Path{storage: s, dir: dir}, nil
}

// LiveFiles returns the paths of all files created by this storage that have not been deleted.
func (s *Storage) LiveFiles() []string {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	var res []string
	for p := range s.live {
		res = append(res, p)
	}

	return res
}

func (s *Storage) addLive(f *File) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	s.live[f.path] = f
}

func (s *Storage) removeLive(f *File) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	delete(s.live, f.path)
}

func (s *Storage) isLive(path string) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	_, ok := s.live[path]

	return ok
}

// checkCapacity returns ErrStorageUnavailable when free space of dir is below Options.MinFreeBytes.
func (s *Storage) checkCapacity(dir string) error {
	if s.opts.MinFreeBytes <= 0 {
		return nil
	}

	free, err := freeSpace(dir)
	if errors.Is(err, errCapacityUnsupported) {
		return nil
	}

	if err != nil {
		return errors.Wrapf(ErrStorageUnavailable, "unable to determine free space of %v: %v", dir, err)
	}

	if free < s.opts.MinFreeBytes {
		return errors.Wrapf(ErrStorageUnavailable, "only %v bytes free in %v, need %v", free, dir, s.opts.MinFreeBytes)
	}

	return nil
}

// FreeSpace returns the number of bytes available to unprivileged users on the volume holding the root.
func (s *Storage) FreeSpace(ctx context.Context) (int64, error) {
	root, err := s.RootPath(ctx)
	if err != nil {
		return 0, err
	}

	return freeSpace(root.dir)
}
