package cli

import (
	"context"

	"github.com/alecthomas/kingpin/v2"
	"github.com/alecthomas/units"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/tempstore"
)

type commandInfo struct {
	svc appServices
	out textOutput
}

func (c *commandInfo) setup(svc appServices, parent *kingpin.Application) {
	cmd := parent.Command("info", "Show spool directory information.")
	cmd.Action(svc.spoolAction(c.run))

	c.svc = svc
	c.out.setup(svc)
}

func (c *commandInfo) run(ctx context.Context, st *tempstore.Storage) error {
	root, err := st.RootPath(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to open spool directory")
	}

	count, total, err := st.Usage(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to compute usage")
	}

	c.out.printField("Config file", c.svc.configFileName())
	c.out.printField("Spool dir", root.Dir())
	c.out.printField("Files", count)
	c.out.printField("Used", units.Base2Bytes(total))

	if free, err := st.FreeSpace(ctx); err == nil && free >= 0 {
		c.out.printField("Free", units.Base2Bytes(free))
	}

	compr := string(st.Options().Compression)
	if compr == "" {
		compr = compressionNone
	}

	c.out.printField("Compression", compr)

	if off := c.svc.config().Offload; off != nil {
		c.out.printField("Offload", off.Type)
	}

	return nil
}
