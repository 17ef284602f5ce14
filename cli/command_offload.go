package cli

import (
	"context"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	bloblogging "github.com/kopia/mimespool/blob/logging"
	"github.com/kopia/mimespool/message"
)

type commandOffload struct {
	prefix string
	source string

	svc appServices
	out textOutput
}

func (c *commandOffload) setup(svc appServices, parent *kingpin.Application) {
	cmd := parent.Command("offload", "Spool a message body and upload it to blob storage.")

	addFlags := func(cc *kingpin.CmdClause) {
		cc.Flag("blob-prefix", "Prefix of the blob ID").StringVar(&c.prefix)
		cc.Arg("file", "File to offload, standard input when omitted").StringVar(&c.source)
	}

	registerStorageCommands(svc, cmd, "Offload to", addFlags, func(connect func(ctx context.Context) (blob.Storage, error)) kingpin.Action {
		return svc.baseAction(func(ctx context.Context) error {
			return c.run(ctx, connect)
		})
	})

	fromConfig := cmd.Command("from-config", "Offload to the storage in the config file")
	addFlags(fromConfig)
	fromConfig.Action(svc.baseAction(func(ctx context.Context) error {
		return c.run(ctx, c.svc.config().OpenOffloadStorage)
	}))

	c.svc = svc
	c.out.setup(svc)
}

func (c *commandOffload) run(ctx context.Context, connect func(ctx context.Context) (blob.Storage, error)) error {
	bs, err := openBlobStorage(ctx, connect)
	if err != nil {
		return err
	}

	defer bs.Close(ctx) //nolint:errcheck

	st, err := c.svc.openSpool(nil)
	if err != nil {
		return err
	}

	src, err := openInput(c.source, c.svc.stdin())
	if err != nil {
		return err
	}

	defer src.Close() //nolint:errcheck

	// bodies up to the memory threshold are staged in memory, larger ones in the spool.
	provider := &message.BlobStorageProvider{
		Storage: bs,
		Staging: &message.ThresholdStorageProvider{
			Threshold: int64(c.svc.config().Spool.MemoryThreshold),
			Next:      &message.TempFileStorageProvider{Storage: st},
		},
		Prefix: blob.ID(c.prefix),
	}

	body, err := message.FromStream(ctx, provider, src)
	if err != nil {
		return errors.Wrap(err, "unable to offload body")
	}

	id, ok := body.BlobID()
	if !ok {
		return errors.Errorf("body was not stored in %v", bs.DisplayName())
	}

	c.out.printField("Blob ID", id)
	c.out.printField("Storage", bs.DisplayName())
	c.out.printField("Size", body.Length())
	c.out.printField("Digest", body.Digest())

	return nil
}

func openBlobStorage(ctx context.Context, connect func(ctx context.Context) (blob.Storage, error)) (blob.Storage, error) {
	bs, err := connect(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to storage")
	}

	return bloblogging.NewWrapper(bs, log(ctx), "[STORAGE] "), nil
}
