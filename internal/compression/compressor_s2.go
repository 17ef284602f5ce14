package compression

import (
	"io"

	"github.com/klauspost/compress/s2"
)

func init() {
	RegisterCompressor("s2-default", newS2Compressor(headerS2Default))
	RegisterCompressor("s2-better", newS2Compressor(headerS2Better, s2.WriterBetterCompression()))
}

func newS2Compressor(id HeaderID, opts ...s2.WriterOption) Compressor {
	return &s2Compressor{id, opts}
}

type s2Compressor struct {
	id   HeaderID
	opts []s2.WriterOption
}

func (c *s2Compressor) HeaderID() HeaderID {
	return c.id
}

func (c *s2Compressor) NewWriter(output io.Writer) (io.WriteCloser, error) {
	return s2.NewWriter(output, c.opts...), nil
}

func (c *s2Compressor) NewReader(input io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(s2.NewReader(input)), nil
}
