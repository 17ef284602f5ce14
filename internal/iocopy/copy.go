// Package iocopy is a wrapper around io.Copy() that recycles shared buffers.
package iocopy

import (
	"io"
	"sync"
)

// BufSize is the size (in bytes) of the shared copy buffers.
const BufSize = 65536

//nolint:gochecknoglobals
var bufferPool = sync.Pool{
	New: func() interface{} {
		p := make([]byte, BufSize)

		return &p
	},
}

// GetBuffer allocates new temporary buffer suitable for copying data.
func GetBuffer() []byte {
	//nolint:forcetypeassert
	return *bufferPool.Get().(*[]byte)
}

// ReleaseBuffer releases the buffer back to the pool.
func ReleaseBuffer(buf []byte) {
	bufferPool.Put(&buf)
}

// Copy is equivalent to io.Copy() but uses a pooled buffer.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuffer()
	defer ReleaseBuffer(buf)

	//nolint:wrapcheck
	return io.CopyBuffer(dst, src, buf)
}

// JustCopy is just like Copy() but does not return the number of bytes.
func JustCopy(dst io.Writer, src io.Reader) error {
	_, err := Copy(dst, src)

	return err
}
