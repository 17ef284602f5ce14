// Package blobtesting implements an in-memory blob storage and helpers for verifying
// blob.Storage implementations.
package blobtesting

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/clock"
)

// DataMap is a map of blob ID to their contents.
type DataMap map[blob.ID][]byte

type mapStorage struct {
	// +checklocks:mutex
	data DataMap
	// +checklocks:mutex
	keyTime map[blob.ID]time.Time
	timeNow func() time.Time
	mutex   sync.RWMutex
}

func (s *mapStorage) PutBlob(ctx context.Context, id blob.ID, data io.Reader, length int64) error {
	var buf bytes.Buffer

	n, err := io.Copy(&buf, data)
	if err != nil {
		return errors.Wrap(err, "error reading blob data")
	}

	if err := blob.EnsureLengthExactly(n, length); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.keyTime[id] = s.timeNow()
	s.data[id] = buf.Bytes()

	return nil
}

func (s *mapStorage) OpenBlob(ctx context.Context, id blob.ID) (io.ReadCloser, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, ok := s.data[id]
	if !ok {
		return nil, blob.ErrBlobNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *mapStorage) GetMetadata(ctx context.Context, id blob.ID) (blob.Metadata, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, ok := s.data[id]
	if !ok {
		return blob.Metadata{}, blob.ErrBlobNotFound
	}

	return blob.Metadata{
		BlobID:    id,
		Length:    int64(len(data)),
		Timestamp: s.keyTime[id],
	}, nil
}

func (s *mapStorage) DeleteBlob(ctx context.Context, id blob.ID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.data, id)
	delete(s.keyTime, id)

	return nil
}

func (s *mapStorage) ListBlobs(ctx context.Context, prefix blob.ID, callback func(blob.Metadata) error) error {
	s.mutex.RLock()

	var keys []blob.ID

	for k := range s.data {
		if strings.HasPrefix(string(k), string(prefix)) {
			keys = append(keys, k)
		}
	}

	s.mutex.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		bm, err := s.GetMetadata(ctx, k)
		if errors.Is(err, blob.ErrBlobNotFound) {
			continue
		}

		if err := callback(bm); err != nil {
			return err
		}
	}

	return nil
}

func (s *mapStorage) ConnectionInfo() blob.ConnectionInfo {
	// unsupported
	return blob.ConnectionInfo{}
}

func (s *mapStorage) DisplayName() string {
	return "Map"
}

func (s *mapStorage) Close(ctx context.Context) error {
	return nil
}

// NewMapStorage returns an implementation of Storage backed by the contents of given map.
// Used primarily for testing.
func NewMapStorage(data DataMap, keyTime map[blob.ID]time.Time, timeNow func() time.Time) blob.Storage {
	if keyTime == nil {
		keyTime = make(map[blob.ID]time.Time)
	}

	if timeNow == nil {
		timeNow = clock.Now
	}

	return &mapStorage{data: data, keyTime: keyTime, timeNow: timeNow}
}
