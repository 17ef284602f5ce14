package blobtesting

import (
	"bytes"
	"context"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kopia/mimespool/blob"
)

// AssertGetBlob asserts that the specified BLOB has correct content.
func AssertGetBlob(ctx context.Context, t *testing.T, s blob.Storage, blobID blob.ID, expected []byte) {
	t.Helper()

	r, err := s.OpenBlob(ctx, blobID)
	require.NoErrorf(t, err, "OpenBlob(%v)", blobID)

	defer r.Close() //nolint:errcheck

	b, err := io.ReadAll(r)
	require.NoErrorf(t, err, "reading %v", blobID)

	if !bytes.Equal(b, expected) {
		t.Errorf("OpenBlob(%v) returned %x, but expected %x", blobID, b, expected)
	}

	bm, err := s.GetMetadata(ctx, blobID)
	require.NoErrorf(t, err, "GetMetadata(%v)", blobID)
	require.Equal(t, int64(len(expected)), bm.Length)
}

// AssertGetBlobNotFound asserts that OpenBlob() for specified blobID returns ErrBlobNotFound.
func AssertGetBlobNotFound(ctx context.Context, t *testing.T, s blob.Storage, blobID blob.ID) {
	t.Helper()

	r, err := s.OpenBlob(ctx, blobID)
	if err == nil {
		r.Close() //nolint:errcheck
	}

	require.ErrorIsf(t, err, blob.ErrBlobNotFound, "OpenBlob(%v)", blobID)
}

// AssertGetMetadataNotFound asserts that GetMetadata() for specified blobID returns ErrBlobNotFound.
func AssertGetMetadataNotFound(ctx context.Context, t *testing.T, s blob.Storage, blobID blob.ID) {
	t.Helper()

	_, err := s.GetMetadata(ctx, blobID)
	require.ErrorIsf(t, err, blob.ErrBlobNotFound, "GetMetadata(%v)", blobID)
}

// AssertListResults asserts that the list results with given prefix return the specified list of names.
func AssertListResults(ctx context.Context, t *testing.T, s blob.Storage, prefix blob.ID, want ...blob.ID) {
	t.Helper()

	var names []blob.ID

	require.NoError(t, s.ListBlobs(ctx, prefix, func(e blob.Metadata) error {
		names = append(names, e.BlobID)
		return nil
	}))

	require.Equal(t, sorted(want), sorted(names), "ListBlobs(%v)", prefix)
}

func sorted(s []blob.ID) []blob.ID {
	x := append([]blob.ID(nil), s...)
	sort.Slice(x, func(i, j int) bool {
		return x[i] < x[j]
	})

	return x
}
