//go:build linux || darwin || freebsd

package tempstore

import (
	"golang.org/x/sys/unix"
)

func freeSpace(dir string) (int64, error) {
	var st unix.Statfs_t

	if err := unix.Statfs(dir, &st); err != nil {
		//nolint:wrapcheck
		return 0, err
	}

	//nolint:unconvert,gosec
	return int64(st.Bavail) * int64(st.Bsize), nil
}
