package message

import (
	"bytes"
	"context"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/iocopy"
)

// ThresholdStorageProvider keeps bodies of up to Threshold bytes in memory and passes
// larger ones to Next. Threshold must be non-negative and Next must be set.
type ThresholdStorageProvider struct {
	Threshold int64
	Next      StorageProvider
}

// Store implements StorageProvider.
func (p *ThresholdStorageProvider) Store(ctx context.Context, src io.Reader) (Backing, error) {
	if p.Next == nil {
		return nil, errors.New("threshold storage provider has no next provider")
	}

	if p.Threshold < 0 || p.Threshold == math.MaxInt64 {
		return nil, errors.Errorf("invalid memory threshold %v", p.Threshold)
	}

	var head bytes.Buffer

	n, err := iocopy.Copy(&head, io.LimitReader(src, p.Threshold+1))
	if err != nil {
		return nil, newIOFailure("read body", err)
	}

	if n <= p.Threshold {
		return newMemoryBacking(head.Bytes()), nil
	}

	log(ctx).Debugf("body exceeds %v bytes, spilling over", p.Threshold)

	return p.Next.Store(ctx, io.MultiReader(&head, src))
}
