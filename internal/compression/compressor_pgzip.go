package compression

import (
	"io"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

func init() {
	RegisterCompressor("pgzip", newpgzipCompressor(headerPgzipDefault, pgzip.DefaultCompression))
	RegisterCompressor("pgzip-best-speed", newpgzipCompressor(headerPgzipBestSpeed, pgzip.BestSpeed))
}

func newpgzipCompressor(id HeaderID, level int) Compressor {
	return &pgzipCompressor{id, level}
}

type pgzipCompressor struct {
	id    HeaderID
	level int
}

func (c *pgzipCompressor) HeaderID() HeaderID {
	return c.id
}

func (c *pgzipCompressor) NewWriter(output io.Writer) (io.WriteCloser, error) {
	w, err := pgzip.NewWriterLevel(output, c.level)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create compressor")
	}

	return w, nil
}

func (c *pgzipCompressor) NewReader(input io.Reader) (io.ReadCloser, error) {
	r, err := pgzip.NewReader(input)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open gzip stream")
	}

	return r, nil
}
