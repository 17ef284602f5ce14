package cli

import (
	"context"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/atomicfile"
	"github.com/kopia/mimespool/message"
)

type commandFetch struct {
	blobID string
	output string
	deleteAfter bool

	svc appServices
}

func (c *commandFetch) setup(svc appServices, parent *kingpin.Application) {
	cmd := parent.Command("fetch", "Write an offloaded message body to standard output or a file.")

	addFlags := func(cc *kingpin.CmdClause) {
		cc.Flag("output", "Write to the given file instead of standard output").Short('o').StringVar(&c.output)
		cc.Flag("delete", "Delete the blob after it has been fetched").BoolVar(&c.deleteAfter)
		cc.Arg("blob-id", "ID of the blob").Required().StringVar(&c.blobID)
	}

	registerStorageCommands(svc, cmd, "Fetch from", addFlags, func(connect func(ctx context.Context) (blob.Storage, error)) kingpin.Action {
		return svc.baseAction(func(ctx context.Context) error {
			return c.run(ctx, connect)
		})
	})

	fromConfig := cmd.Command("from-config", "Fetch from the storage in the config file")
	addFlags(fromConfig)
	fromConfig.Action(svc.baseAction(func(ctx context.Context) error {
		return c.run(ctx, c.svc.config().OpenOffloadStorage)
	}))

	c.svc = svc
}

func (c *commandFetch) run(ctx context.Context, connect func(ctx context.Context) (blob.Storage, error)) error {
	bs, err := openBlobStorage(ctx, connect)
	if err != nil {
		return err
	}

	defer bs.Close(ctx) //nolint:errcheck

	b, err := message.NewBlobBacking(ctx, bs, blob.ID(c.blobID))
	if err != nil {
		return errors.Wrapf(err, "unable to open blob %v", c.blobID)
	}

	body := message.NewBinaryBodyFromBacking(b, "")

	if err := c.write(ctx, body); err != nil {
		return err
	}

	if c.deleteAfter {
		return errors.Wrap(body.Dispose(ctx), "unable to delete blob")
	}

	return nil
}

func (c *commandFetch) write(ctx context.Context, body *message.BinaryBody) error {
	if c.output == "" {
		_, err := body.CopyTo(ctx, c.svc.stdout())

		return errors.Wrap(err, "unable to write body")
	}

	r, err := body.Reader(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to read body")
	}

	defer r.Close() //nolint:errcheck

	return errors.Wrap(atomicfile.Write(c.output, r), "unable to write output file")
}
