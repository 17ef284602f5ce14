package iocopy_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kopia/mimespool/internal/iocopy"
)

// onlyReader hides any WriterTo/ReaderFrom so io.CopyBuffer must use the pooled buffer.
type onlyReader struct{ io.Reader }

type onlyWriter struct{ io.Writer }

func TestCopyAcrossBufferBoundaries(t *testing.T) {
	for _, n := range []int{0, 1, iocopy.BufSize - 1, iocopy.BufSize, iocopy.BufSize + 1, 3*iocopy.BufSize + 17} {
		src := bytes.Repeat([]byte{0xab}, n)

		var dst bytes.Buffer

		copied, err := iocopy.Copy(onlyWriter{&dst}, onlyReader{bytes.NewReader(src)})
		require.NoError(t, err)
		require.Equal(t, int64(n), copied)
		require.Len(t, dst.Bytes(), n)
		require.True(t, bytes.Equal(src, dst.Bytes()), "length %v", n)
	}
}

var errBroken = errors.New("broken reader")

type brokenReader struct{ remaining int }

func (r *brokenReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, errBroken
	}

	n := min(len(p), r.remaining)
	r.remaining -= n

	return n, nil
}

func TestJustCopyPropagatesReadError(t *testing.T) {
	var dst bytes.Buffer

	err := iocopy.JustCopy(&dst, &brokenReader{remaining: 10})
	require.ErrorIs(t, err, errBroken)
	require.Equal(t, 10, dst.Len())
}

func TestGetBufferSize(t *testing.T) {
	buf := iocopy.GetBuffer()
	defer iocopy.ReleaseBuffer(buf)

	require.Len(t, buf, iocopy.BufSize)
}
