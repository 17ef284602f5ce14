package cli

import (
	"context"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/compression"
	"github.com/kopia/mimespool/internal/tempstore"
	"github.com/kopia/mimespool/message"
)

type commandSpool struct {
	prefix      string
	suffix      string
	compression string
	source      string

	svc appServices
	out textOutput
}

func (c *commandSpool) setup(svc appServices, parent *kingpin.Application) {
	cmd := parent.Command("spool", "Spool a message body from a file or standard input.")
	cmd.Flag("prefix", "Prefix of the spool file name").Default(message.DefaultPrefix).StringVar(&c.prefix)
	cmd.Flag("suffix", "Suffix of the spool file name").Default(message.DefaultSuffix).StringVar(&c.suffix)
	cmd.Flag("compression", "Compression of the spool file, overrides the config file").EnumVar(&c.compression, supportedCompressionNames()...)
	cmd.Arg("file", "File to spool, standard input when omitted").StringVar(&c.source)
	cmd.Action(svc.baseAction(c.run))

	c.svc = svc
	c.out.setup(svc)
}

func (c *commandSpool) run(ctx context.Context) error {
	st, err := c.svc.openSpool(c.customizeOptions)
	if err != nil {
		return err
	}

	src, err := openInput(c.source, c.svc.stdin())
	if err != nil {
		return err
	}

	defer src.Close() //nolint:errcheck

	body, err := message.FromStream(ctx, &message.TempFileStorageProvider{
		Storage: st,
		Prefix:  c.prefix,
		Suffix:  c.suffix,
	}, src)
	if err != nil {
		return errors.Wrap(err, "unable to spool body")
	}

	// the spool file outlives the process, it is removed by 'sweep'.
	log(ctx).Debugf("spooled %v bytes to %v", body.Length(), body.Location())

	c.out.printField("Path", body.Location())
	c.out.printField("Size", body.Length())
	c.out.printField("Digest", body.Digest())

	return nil
}

func (c *commandSpool) customizeOptions(o *tempstore.Options) {
	switch c.compression {
	case "":
	case compressionNone:
		o.Compression = ""
	default:
		o.Compression = compression.Name(c.compression)
	}
}
