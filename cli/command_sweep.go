package cli

import (
	"context"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/alecthomas/units"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/internal/tempstore"
)

type commandSweep struct {
	minAge  time.Duration
	dryRun  bool
	verbose bool

	svc appServices
	out textOutput
}

func (c *commandSweep) setup(svc appServices, parent *kingpin.Application) {
	cmd := parent.Command("sweep", "Remove orphaned spool files left behind by other processes.")
	cmd.Flag("min-age", "Minimum age of spool files to remove, defaults to the config file setting").DurationVar(&c.minAge)
	cmd.Flag("dry-run", "Only report files that would be removed").BoolVar(&c.dryRun)
	cmd.Flag("verbose", "List removed files").Short('v').BoolVar(&c.verbose)
	cmd.Action(svc.spoolAction(c.run))

	c.svc = svc
	c.out.setup(svc)
}

func (c *commandSweep) run(ctx context.Context, st *tempstore.Storage) error {
	minAge := c.minAge
	if minAge == 0 {
		minAge = time.Duration(c.svc.config().Spool.SweepMinAge)
	}

	opt := tempstore.SweepOptions{
		MinAge: minAge,
		DryRun: c.dryRun,
	}

	if c.verbose {
		opt.OnRemove = func(path string, size int64) {
			c.out.printStdout("%v (%v bytes)\n", path, size)
		}
	}

	stats, err := st.Sweep(ctx, opt)
	if err != nil {
		return errors.Wrap(err, "sweep failed")
	}

	verb := "Removed"
	if c.dryRun {
		verb = "Would remove"
	}

	c.out.printStdout("%v %v files (%v), retained %v of %v scanned.\n",
		verb, stats.Removed, units.Base2Bytes(stats.RemovedBytes), stats.Retained, stats.Scanned)

	if stats.Errors > 0 {
		c.out.printWarning("Encountered %v errors, see log for details.\n", stats.Errors)
	}

	return nil
}
