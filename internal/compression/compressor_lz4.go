package compression

import (
	"io"

	"github.com/pierrec/lz4"
)

func init() {
	RegisterCompressor("lz4", newLZ4Compressor(headerLZ4Default))
}

func newLZ4Compressor(id HeaderID) Compressor {
	return &lz4Compressor{id}
}

type lz4Compressor struct {
	id HeaderID
}

func (c *lz4Compressor) HeaderID() HeaderID {
	return c.id
}

func (c *lz4Compressor) NewWriter(output io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(output), nil
}

func (c *lz4Compressor) NewReader(input io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(input)), nil
}
