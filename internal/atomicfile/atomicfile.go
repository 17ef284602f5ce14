// Package atomicfile provides wrappers for atomically writing files in a manner compatible with long filenames.
package atomicfile

import (
	"bytes"
	"encoding/json"
	"io"
	"runtime"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

const maxPathLength = 260

// MaybePrefixLongFilenameOnWindows prefixes the given filename with \\?\ on Windows
// if the filename is longer than 260 characters, which is required to be able to
// use some low-level Windows APIs.
func MaybePrefixLongFilenameOnWindows(fname string) string {
	if runtime.GOOS != "windows" {
		return fname
	}

	if len(fname) < maxPathLength {
		return fname
	}

	return "\\\\?\\" + fname
}

// Write is a wrapper around atomic.WriteFile that handles long file names on Windows.
func Write(filename string, r io.Reader) error {
	//nolint:wrapcheck
	return atomic.WriteFile(MaybePrefixLongFilenameOnWindows(filename), r)
}

// WriteJSON atomically replaces filename with indented JSON representation of v.
func WriteJSON(filename string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to marshal JSON")
	}

	return errors.Wrapf(Write(filename, bytes.NewReader(append(b, '\n'))), "unable to write %v", filename)
}
