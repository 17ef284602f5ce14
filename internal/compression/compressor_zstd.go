package compression

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

func init() {
	RegisterCompressor("zstd", newZstdCompressor(headerZstdDefault, zstd.SpeedDefault))
	RegisterCompressor("zstd-fastest", newZstdCompressor(headerZstdFastest, zstd.SpeedFastest))
	RegisterCompressor("zstd-better-compression", newZstdCompressor(headerZstdBetterCompression, zstd.SpeedBetterCompression))
}

func newZstdCompressor(id HeaderID, level zstd.EncoderLevel) Compressor {
	return &zstdCompressor{id, level}
}

type zstdCompressor struct {
	id    HeaderID
	level zstd.EncoderLevel
}

func (c *zstdCompressor) HeaderID() HeaderID {
	return c.id
}

func (c *zstdCompressor) NewWriter(output io.Writer) (io.WriteCloser, error) {
	w, err := zstd.NewWriter(output, zstd.WithEncoderLevel(c.level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create compressor")
	}

	return w, nil
}

func (c *zstdCompressor) NewReader(input io.Reader) (io.ReadCloser, error) {
	r, err := zstd.NewReader(input, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create decompressor")
	}

	return r.IOReadCloser(), nil
}
