package cli

import (
	"context"
	"os"
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/blob/filesystem"
	"github.com/kopia/mimespool/internal/ospath"
)

const (
	defaultFileMode = 0o600
	defaultDirMode  = 0o700
)

type storageFilesystemFlags struct {
	options filesystem.Options

	connectFileMode string
	connectDirMode  string
}

func (c *storageFilesystemFlags) Setup(_ StorageProviderServices, cmd *kingpin.CmdClause) {
	cmd.Flag("path", "Path to the offload directory").Required().StringVar(&c.options.Path)
	cmd.Flag("file-mode", "File mode for newly created files (0600)").PlaceHolder("MODE").StringVar(&c.connectFileMode)
	cmd.Flag("dir-mode", "Mode of newly directory files (0700)").PlaceHolder("MODE").StringVar(&c.connectDirMode)
}

func (c *storageFilesystemFlags) Connect(ctx context.Context) (blob.Storage, error) {
	fso := c.options
	fso.Path = ospath.ResolveUserFriendlyPath(fso.Path, false)

	if !ospath.IsAbs(fso.Path) {
		return nil, errors.New("filesystem storage path must be absolute")
	}

	fso.FileMode = getFileModeValue(c.connectFileMode, defaultFileMode)
	fso.DirMode = getFileModeValue(c.connectDirMode, defaultDirMode)

	//nolint:wrapcheck
	return filesystem.New(ctx, &fso)
}

func getFileModeValue(value string, def os.FileMode) os.FileMode {
	if uint32Val, err := strconv.ParseUint(value, 8, 32); err == nil {
		return os.FileMode(uint32Val)
	}

	return def
}
