package tempstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/clock"
)

const sweepLockName = ".sweep.lock"

// ErrSweepInProgress is returned when another process is sweeping the same root.
var ErrSweepInProgress = errors.New("sweep already in progress")

// SweepStats summarizes the outcome of Sweep.
type SweepStats struct {
	Scanned      int   `json:"scanned"`
	Removed      int   `json:"removed"`
	RemovedBytes int64 `json:"removedBytes"`
	Retained     int   `json:"retained"`
	Errors       int   `json:"errors"`
}

// SweepOptions controls Sweep.
type SweepOptions struct {
	// MinAge is the minimum age of a file (by modification time) to be considered orphaned.
	MinAge time.Duration

	// DryRun reports what would be removed without removing anything.
	DryRun bool

	// OnRemove is invoked for each file that was (or would be) removed.
	OnRemove func(path string, size int64)
}

// Sweep removes spool files under the root that are older than MinAge and are not live
// in this process, such as files left behind by crashed processes.
// Concurrent sweeps of the same root are serialized with an advisory file lock.
func (s *Storage) Sweep(ctx context.Context, opt SweepOptions) (SweepStats, error) {
	var st SweepStats

	root, err := s.RootPath(ctx)
	if err != nil {
		return st, err
	}

	lockFile := filepath.Join(root.dir, sweepLockName)
	fl := flock.New(lockFile)

	ok, err := fl.TryLock()
	if err != nil {
		return st, errors.Wrapf(err, "unable to lock %v", lockFile)
	}

	if !ok {
		return st, errors.Wrap(ErrSweepInProgress, root.dir)
	}

	defer fl.Unlock() //nolint:errcheck

	t0 := clock.Now()
	cutoff := t0.Add(-opt.MinAge)

	err = filepath.WalkDir(root.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		name := d.Name()
		if name == sweepLockName || strings.HasPrefix(name, ".probe-") {
			return nil
		}

		st.Scanned++

		fi, err := d.Info()
		if err != nil {
			st.Errors++
			return nil
		}

		if s.isLive(p) || fi.ModTime().After(cutoff) {
			st.Retained++
			return nil
		}

		if !opt.DryRun {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				log(ctx).Errorf("unable to remove orphaned spool file %v: %v", p, err)

				st.Errors++

				return nil
			}
		}

		st.Removed++
		st.RemovedBytes += fi.Size()

		if opt.OnRemove != nil {
			opt.OnRemove(p, fi.Size())
		}

		return nil
	})
	if err != nil {
		return st, errors.Wrapf(err, "error sweeping %v", root.dir)
	}

	log(ctx).Debugf("finished sweeping %v in %v: removed %v files (%v bytes), retained %v", root.dir, clock.Since(t0), st.Removed, st.RemovedBytes, st.Retained)

	return st, nil
}

// Usage returns the number of spool files under the root and their total on-disk size.
func (s *Storage) Usage(ctx context.Context) (count int, totalBytes int64, err error) {
	root, err := s.RootPath(ctx)
	if err != nil {
		return 0, 0, err
	}

	err = filepath.WalkDir(root.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() || d.Name() == sweepLockName {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		count++
		totalBytes += fi.Size()

		return nil
	})

	return count, totalBytes, errors.Wrapf(err, "unable to scan %v", root.dir)
}
