package message

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/iocopy"
)

// ErrTooLarge is returned by MemoryStorageProvider when a body exceeds its limit.
var ErrTooLarge = errors.New("body too large to keep in memory")

// MemoryStorageProvider keeps bodies in memory.
type MemoryStorageProvider struct {
	// MaxBytes limits the size of a single body, unlimited when zero.
	MaxBytes int64
}

// Store implements StorageProvider.
func (p *MemoryStorageProvider) Store(ctx context.Context, src io.Reader) (Backing, error) {
	var buf bytes.Buffer

	if p.MaxBytes <= 0 {
		if _, err := iocopy.Copy(&buf, src); err != nil {
			return nil, newIOFailure("read body", err)
		}

		return newMemoryBacking(buf.Bytes()), nil
	}

	n, err := iocopy.Copy(&buf, io.LimitReader(src, p.MaxBytes+1))
	if err != nil {
		return nil, newIOFailure("read body", err)
	}

	if n > p.MaxBytes {
		return nil, errors.Wrapf(ErrTooLarge, "more than %v bytes", p.MaxBytes)
	}

	return newMemoryBacking(buf.Bytes()), nil
}

type memoryBacking struct {
	mu sync.Mutex
	// +checklocks:mu
	data []byte
	// +checklocks:mu
	deleted bool

	length int64
}

func newMemoryBacking(b []byte) *memoryBacking {
	return &memoryBacking{data: b, length: int64(len(b))}
}

func (b *memoryBacking) Reader(ctx context.Context) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deleted {
		return nil, errors.Wrap(ErrNotFound, "in-memory body")
	}

	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *memoryBacking) Length() int64 {
	return b.length
}

func (b *memoryBacking) Delete(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deleted = true
	b.data = nil

	return nil
}

func (b *memoryBacking) Location() string {
	return fmt.Sprintf("memory (%v bytes)", b.length)
}
