//go:build !linux && !darwin && !freebsd

package tempstore

func freeSpace(dir string) (int64, error) {
	return 0, errCapacityUnsupported
}
