package atomicfile

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaybePrefixLongFilenameOnWindows(t *testing.T) {
	short := filepath.Join("C:\\", "Short.txt")
	require.Equal(t, short, MaybePrefixLongFilenameOnWindows(short))

	long := "C:\\" + strings.Repeat("f", 270) + "\\foo"
	if runtime.GOOS == "windows" {
		require.Equal(t, "\\\\?\\"+long, MaybePrefixLongFilenameOnWindows(long))
	} else {
		require.Equal(t, long, MaybePrefixLongFilenameOnWindows(long))
	}
}

func TestWriteReplacesContents(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "mimespool.config")

	require.NoError(t, Write(fname, bytes.NewReader([]byte("first"))))
	require.NoError(t, Write(fname, bytes.NewReader([]byte("second"))))

	b, err := os.ReadFile(fname)
	require.NoError(t, err)
	require.Equal(t, "second", string(b))
}

func TestWriteJSON(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "mimespool.config")

	require.NoError(t, WriteJSON(fname, map[string]int{"a": 1}))

	b, err := os.ReadFile(fname)
	require.NoError(t, err)
	require.Equal(t, "{\n  \"a\": 1\n}\n", string(b))
}
