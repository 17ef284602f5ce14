package tempstore

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/compression"
	"github.com/kopia/mimespool/internal/releasable"
	"github.com/kopia/mimespool/logging"
)

// HandleKind is the releasable kind used to track open temporary file descriptors.
const HandleKind releasable.ItemKind = "tempstore-handle"

type fileState int

const (
	stateWritable fileState = iota // created, never opened for writing
	stateWriting                   // a FileWriter is open
	stateSealed                    // writer closed, contents final
	stateDeleted                   // removed from disk, terminal
)

func (s fileState) String() string {
	switch s {
	case stateWritable:
		return "writable"
	case stateWriting:
		return "writing"
	case stateSealed:
		return "sealed"
	case stateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// File is a single temporary file. It can be opened for writing exactly once and for reading
// any number of times, until it is deleted.
type File struct {
	storage *Storage
	path    string
	name    string
	log     logging.Logger

	// compressed is true when contents are stored with a compression header.
	compressed bool

	mu sync.Mutex
	// +checklocks:mu
	state fileState
	// +checklocks:mu
	size int64
}

// Path returns the absolute path of the file.
func (f *File) Path() string {
	return f.path
}

// Name returns the generated file name.
func (f *File) Name() string {
	return f.name
}

// Size returns the number of logical (uncompressed) bytes written to the file.
// It is -1 for compressed files adopted with Path.Open.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.size
}

// Sealed returns true if the file has been written and its writer closed.
func (f *File) Sealed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state == stateSealed
}

// Deleted returns true if the file has been deleted.
func (f *File) Deleted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state == stateDeleted
}

// Length returns the number of bytes the file occupies on disk.
func (f *File) Length() (int64, error) {
	if f.Deleted() {
		return 0, errors.Wrap(ErrNotFound, f.path)
	}

	fi, err := os.Stat(f.path)
	if os.IsNotExist(err) {
		return 0, errors.Wrap(ErrNotFound, f.path)
	}

	if err != nil {
		return 0, errors.Wrapf(err, "unable to stat %v", f.path)
	}

	return fi.Size(), nil
}

// OpenForWrite opens the file for writing. It can only succeed once per file: subsequent calls
// fail with ErrAlreadyWritten, calls after deletion fail with ErrNotFound.
// The returned writer must be closed (or aborted) to release the underlying descriptor.
func (f *File) OpenForWrite() (*FileWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case stateDeleted:
		return nil, errors.Wrap(ErrNotFound, f.path)
	case stateWriting, stateSealed:
		return nil, errors.Wrapf(ErrAlreadyWritten, "%v is %v", f.path, f.state)
	case stateWritable:
	}

	fd, err := os.OpenFile(f.path, os.O_WRONLY|os.O_TRUNC, fileMode)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, f.path)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %v for writing", f.path)
	}

	f.storage.trackOpen(fd)

	w := &FileWriter{f: f, fd: fd, out: fd}

	if c := f.storage.compressor; c != nil {
		cw, err := compression.NewWriter(c, fd)
		if err != nil {
			f.storage.closeTracked(fd) //nolint:errcheck
			return nil, errors.Wrapf(err, "unable to initialize compression of %v", f.path)
		}

		w.compressor = cw
		w.out = cw
	}

	f.state = stateWriting

	return w, nil
}

// OpenForRead opens a new independent reader of the file contents. It fails with ErrNotFound
// if the file has been deleted. The caller must close the returned reader.
func (f *File) OpenForRead() (io.ReadCloser, error) {
	if f.Deleted() {
		return nil, errors.Wrap(ErrNotFound, f.path)
	}

	fd, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, f.path)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %v for reading", f.path)
	}

	f.storage.trackOpen(fd)

	r := &fileReader{s: f.storage, fd: fd, in: fd}

	if f.compressed {
		// a file that was never written has no compression header.
		if fi, err := fd.Stat(); err == nil && fi.Size() == 0 {
			return r, nil
		}

		dr, err := compression.NewReader(fd)
		if err != nil {
			f.storage.closeTracked(fd) //nolint:errcheck
			return nil, errors.Wrapf(err, "unable to initialize decompression of %v", f.path)
		}

		r.decompressor = dr
		r.in = dr
	}

	return r, nil
}

// Delete removes the file from disk. Deleting a file that has already been deleted is a no-op.
// Readers opened before deletion remain usable where the OS permits it.
func (f *File) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == stateDeleted {
		return nil
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unable to delete %v", f.path)
	}

	f.state = stateDeleted
	f.storage.removeLive(f)
	f.storage.m.filesDeleted.Add(1)
	f.log.Debugf("deleted temporary file %v", f.path)

	return nil
}

// FileWriter is the single writer of a temporary file.
type FileWriter struct {
	f          *File
	fd         *os.File
	compressor io.WriteCloser
	out        io.Writer

	written int64
	closed  bool
}

// Write implements io.Writer.
func (w *FileWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.Errorf("write to closed temporary file %v", w.f.path)
	}

	n, err := w.out.Write(p)
	w.written += int64(n)

	//nolint:wrapcheck
	return n, err
}

// Close flushes and closes the writer and seals the file. The descriptor is released even if
// flushing fails. Closing an already closed writer is a no-op.
func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true

	var flushErr error

	if w.compressor != nil {
		flushErr = w.compressor.Close()
	}

	closeErr := w.f.storage.closeTracked(w.fd)

	w.f.mu.Lock()
	deleted := w.f.state == stateDeleted

	if !deleted {
		w.f.state = stateSealed
		w.f.size = w.written
	}
	w.f.mu.Unlock()

	w.f.storage.m.bytesWritten.Add(w.written)

	switch {
	case flushErr != nil:
		return errors.Wrapf(flushErr, "unable to flush %v", w.f.path)
	case closeErr != nil:
		return errors.Wrapf(closeErr, "unable to close %v", w.f.path)
	case deleted:
		return errors.Wrapf(ErrNotFound, "%v was deleted while being written", w.f.path)
	default:
		return nil
	}
}

// Abort closes the writer and deletes the file, discarding any data written so far.
func (w *FileWriter) Abort() error {
	closeErr := w.Close()

	if err := w.f.Delete(); err != nil {
		return err
	}

	if closeErr != nil && !errors.Is(closeErr, ErrNotFound) {
		w.f.log.Debugf("error closing aborted file %v: %v", w.f.path, closeErr)
	}

	return nil
}

type fileReader struct {
	s            *Storage
	fd           *os.File
	decompressor io.ReadCloser
	in           io.Reader

	closed bool
}

func (r *fileReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, os.ErrClosed
	}

	//nolint:wrapcheck
	return r.in.Read(p)
}

func (r *fileReader) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true

	if r.decompressor != nil {
		r.decompressor.Close() //nolint:errcheck
	}

	return r.s.closeTracked(r.fd)
}

func (s *Storage) trackOpen(fd *os.File) {
	releasable.Created(HandleKind, fd)
	s.m.openHandles.Add(1)
}

func (s *Storage) closeTracked(fd *os.File) error {
	releasable.Released(HandleKind, fd)
	s.m.openHandles.Add(-1)

	//nolint:wrapcheck
	return fd.Close()
}
