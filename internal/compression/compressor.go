// Package compression manages streaming compression algorithm implementations used for spool files.
package compression

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
)

const compressionHeaderSize = 4

// Name is the name of the compressor to use.
type Name string

// ErrUnknownCompressor is returned when a compressor is not registered.
var ErrUnknownCompressor = errors.New("unknown compressor")

// Compressor implements streaming compression and decompression.
type Compressor interface {
	HeaderID() HeaderID
	NewWriter(output io.Writer) (io.WriteCloser, error)
	NewReader(input io.Reader) (io.ReadCloser, error)
}

// maps of registered compressors by header ID and name.
//
//nolint:gochecknoglobals
var (
	ByHeaderID = map[HeaderID]Compressor{}
	ByName     = map[Name]Compressor{}
)

// RegisterCompressor registers the provided compressor implementation.
func RegisterCompressor(name Name, c Compressor) {
	if ByHeaderID[c.HeaderID()] != nil {
		panic(fmt.Sprintf("compressor with HeaderID %x already registered", c.HeaderID()))
	}

	if ByName[name] != nil {
		panic(fmt.Sprintf("compressor with name %q already registered", name))
	}

	ByHeaderID[c.HeaderID()] = c
	ByName[name] = c
}

// Names returns the sorted names of all registered compressors.
func Names() []Name {
	var res []Name

	for n := range ByName {
		res = append(res, n)
	}

	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })

	return res
}

// Get returns the compressor with the given name.
func Get(name Name) (Compressor, error) {
	c := ByName[name]
	if c == nil {
		return nil, errors.Wrapf(ErrUnknownCompressor, "%q", name)
	}

	return c, nil
}

func compressionHeader(id HeaderID) []byte {
	b := make([]byte, compressionHeaderSize)
	binary.BigEndian.PutUint32(b, uint32(id))

	return b
}

// IDFromHeader retrieves compression ID from content header.
func IDFromHeader(b []byte) (HeaderID, error) {
	if len(b) < compressionHeaderSize {
		return 0, errors.Errorf("invalid size: %v", len(b))
	}

	return HeaderID(binary.BigEndian.Uint32(b[0:compressionHeaderSize])), nil
}

// HasKnownHeader returns true if b starts with the header of a registered compressor.
func HasKnownHeader(b []byte) bool {
	id, err := IDFromHeader(b)
	if err != nil {
		return false
	}

	return ByHeaderID[id] != nil
}

// NewWriter writes the header of the provided compressor to output and returns
// a writer that compresses into it. Closing the returned writer flushes the compressed
// stream but does not close output.
func NewWriter(c Compressor, output io.Writer) (io.WriteCloser, error) {
	if _, err := output.Write(compressionHeader(c.HeaderID())); err != nil {
		return nil, errors.Wrap(err, "unable to write header")
	}

	return c.NewWriter(output)
}

// NewReader reads the compression header from input and returns a decompressing reader
// using the compressor it names.
func NewReader(input io.Reader) (io.ReadCloser, error) {
	var hdr [compressionHeaderSize]byte

	if _, err := io.ReadFull(input, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "unable to read compression header")
	}

	id, err := IDFromHeader(hdr[:])
	if err != nil {
		return nil, err
	}

	c := ByHeaderID[id]
	if c == nil {
		return nil, errors.Wrapf(ErrUnknownCompressor, "header %x", id)
	}

	return c.NewReader(input)
}
