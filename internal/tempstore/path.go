package tempstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/compression"
)

const (
	disambiguatorBytes = 8
	maxCreateAttempts  = 10
)

// Path is a directory scope under the storage root in which temporary files are created.
type Path struct {
	storage *Storage
	dir     string
}

// Dir returns the absolute directory of the path.
func (p *Path) Dir() string {
	return p.dir
}

// Sub returns a nested directory scope, creating the directory if needed.
func (p *Path) Sub(name string) (*Path, error) {
	if !isValidNameComponent(name) || name == "" {
		return nil, errors.Wrapf(ErrStorageUnavailable, "invalid directory name %q", name)
	}

	dir := filepath.Join(p.dir, name)

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, errors.Wrapf(ErrStorageUnavailable, "unable to create %v: %v", dir, err)
	}

	return &Path{storage: p.storage, dir: dir}, nil
}

// CreateTemporaryFile creates a new empty file named <prefix><disambiguator><suffix>.
// The suffix gets a leading dot if it does not have one. The name is unique within the path,
// even when called concurrently.
func (p *Path) CreateTemporaryFile(ctx context.Context, prefix, suffix string) (*File, error) {
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}

	if !isValidNameComponent(prefix) || !isValidNameComponent(suffix) {
		return nil, errors.Wrapf(ErrStorageUnavailable, "invalid temporary file name %q/%q", prefix, suffix)
	}

	if err := p.storage.checkCapacity(p.dir); err != nil {
		return nil, err
	}

	for range maxCreateAttempts {
		d, err := newDisambiguator()
		if err != nil {
			return nil, errors.Wrapf(ErrStorageUnavailable, "unable to generate file name: %v", err)
		}

		name := prefix + d + suffix
		full := filepath.Join(p.dir, name)

		fd, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_EXCL, fileMode) //nolint:gosec
		if os.IsExist(err) {
			log(ctx).Debugf("name collision on %v, retrying", full)
			continue
		}

		if err != nil {
			return nil, errors.Wrapf(ErrStorageUnavailable, "unable to create %v: %v", full, err)
		}

		if err := fd.Close(); err != nil {
			os.Remove(full) //nolint:errcheck
			return nil, errors.Wrapf(ErrStorageUnavailable, "unable to close %v: %v", full, err)
		}

		f := &File{
			storage:    p.storage,
			path:       full,
			name:       name,
			log:        log(ctx),
			compressed: p.storage.compressor != nil,
		}

		p.storage.addLive(f)
		p.storage.m.filesCreated.Add(1)

		log(ctx).Debugf("created temporary file %v", full)

		return f, nil
	}

	return nil, errors.Wrapf(ErrStorageUnavailable, "unable to find unique name in %v after %v attempts", p.dir, maxCreateAttempts)
}

// Open returns a sealed handle to an existing file in the path, such as one spooled by
// another process. Compressed contents are detected from the file header.
func (p *Path) Open(ctx context.Context, name string) (*File, error) {
	if !isValidNameComponent(name) || name == "" {
		return nil, errors.Wrapf(ErrNotFound, "invalid file name %q", name)
	}

	full := filepath.Join(p.dir, name)

	fd, err := os.Open(full) //nolint:gosec
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, full)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %v", full)
	}

	defer fd.Close() //nolint:errcheck

	fi, err := fd.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "unable to stat %v", full)
	}

	if !fi.Mode().IsRegular() {
		return nil, errors.Wrapf(ErrNotFound, "%v is not a regular file", full)
	}

	var hdr [4]byte

	n, _ := io.ReadFull(fd, hdr[:])
	compressed := compression.HasKnownHeader(hdr[:n])

	f := &File{
		storage:    p.storage,
		path:       full,
		name:       name,
		log:        log(ctx),
		compressed: compressed,
		state:      stateSealed,
		size:       fi.Size(),
	}

	if compressed {
		f.size = -1
	}

	p.storage.addLive(f)

	return f, nil
}

func newDisambiguator() (string, error) {
	var b [disambiguatorBytes]byte

	if _, err := rand.Read(b[:]); err != nil {
		//nolint:wrapcheck
		return "", err
	}

	return hex.EncodeToString(b[:]), nil
}

func isValidNameComponent(s string) bool {
	return !strings.ContainsAny(s, `/\`) && s != "." && s != ".." && !strings.ContainsRune(s, 0)
}
