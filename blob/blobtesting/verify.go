package blobtesting

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kopia/mimespool/blob"
)

// VerifyStorage verifies the behavior of the specified storage.
//
//nolint:thelper
func VerifyStorage(ctx context.Context, t *testing.T, r blob.Storage) {
	blocks := []struct {
		blk      blob.ID
		contents []byte
	}{
		{blk: "abcdbbf4f0507d054ed5a80a5b65086f602b", contents: []byte{}},
		{blk: "zxce0e35630770c54668a8cfb4e414c6bf8f", contents: []byte{1}},
		{blk: "abff4585856ebf0748fd989e1dd623a8963d", contents: bytes.Repeat([]byte{1}, 1000)},
		{blk: "abgc3dca496d510f492c858a2df1eb824e62", contents: bytes.Repeat([]byte{1}, 200000)},
		{blk: "attachment.bin", contents: bytes.Repeat([]byte{2}, 100)},
	}

	// First verify that blocks don't exist.
	t.Run("VerifyBlobsNotFound", func(t *testing.T) {
		for _, b := range blocks {
			t.Run(string(b.blk), func(t *testing.T) {
				t.Parallel()

				AssertGetBlobNotFound(ctx, t, r, b.blk)
				AssertGetMetadataNotFound(ctx, t, r, b.blk)
			})
		}
	})

	if err := r.DeleteBlob(ctx, "no-such-blob"); err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
		t.Errorf("invalid error when deleting non-existent blob: %v", err)
	}

	t.Run("AddBlobs", func(t *testing.T) {
		for _, b := range blocks {
			for i := range 2 {
				t.Run(fmt.Sprintf("%v-%v", b.blk, i), func(t *testing.T) {
					t.Parallel()

					require.NoError(t, r.PutBlob(ctx, b.blk, bytes.NewReader(b.contents), int64(len(b.contents))))
				})
			}
		}
	})

	t.Run("GetBlobs", func(t *testing.T) {
		for _, b := range blocks {
			t.Run(string(b.blk), func(t *testing.T) {
				t.Parallel()

				AssertGetBlob(ctx, t, r, b.blk, b.contents)
			})
		}
	})

	t.Run("ListBlobs", func(t *testing.T) {
		errExpected := errors.New("expected error")

		require.ErrorIs(t, r.ListBlobs(ctx, "", func(bm blob.Metadata) error {
			return errExpected
		}), errExpected)

		AssertListResults(ctx, t, r, "", blocks[0].blk, blocks[1].blk, blocks[2].blk, blocks[3].blk, blocks[4].blk)
		AssertListResults(ctx, t, r, "ab", blocks[0].blk, blocks[2].blk, blocks[3].blk)
	})

	t.Run("InvalidLength", func(t *testing.T) {
		err := r.PutBlob(ctx, "short-blob", bytes.NewReader([]byte{1, 2, 3}), 5)
		require.Error(t, err)
	})

	t.Run("OverwriteBlobs", func(t *testing.T) {
		newContents := []byte{99}

		for _, b := range blocks {
			require.NoErrorf(t, r.PutBlob(ctx, b.blk, bytes.NewReader(newContents), 1), "can't put blob: %v", b.blk)
			AssertGetBlob(ctx, t, r, b.blk, newContents)
		}
	})

	t.Run("DeleteBlobs", func(t *testing.T) {
		for _, b := range blocks {
			require.NoError(t, r.DeleteBlob(ctx, b.blk))
			AssertGetBlobNotFound(ctx, t, r, b.blk)
		}

		AssertListResults(ctx, t, r, "")
	})
}

// VerifyConnectionInfo verifies that the storage can be re-created from its connection info.
func VerifyConnectionInfo(ctx context.Context, t *testing.T, r blob.Storage) {
	t.Helper()

	ci := r.ConnectionInfo()

	r2, err := blob.NewStorage(ctx, ci)
	require.NoError(t, err)

	require.NoError(t, r2.Close(ctx))
	require.Equal(t, ci.Type, r2.ConnectionInfo().Type)
}
