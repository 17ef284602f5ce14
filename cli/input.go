package cli

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/compression"
	"github.com/kopia/mimespool/internal/ospath"
)

const compressionNone = "none"

// openInput opens the named file, or returns stdin when the name is empty or "-".
func openInput(fname string, stdin io.Reader) (io.ReadCloser, error) {
	if fname == "" || fname == "-" {
		return io.NopCloser(stdin), nil
	}

	f, err := os.Open(ospath.ResolveUserFriendlyPath(fname, false)) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, "unable to open input")
	}

	return f, nil
}

func supportedCompressionNames() []string {
	res := []string{compressionNone}

	for _, n := range compression.Names() {
		res = append(res, string(n))
	}

	return res
}
