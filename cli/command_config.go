package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/config"
	"github.com/kopia/mimespool/internal/compression"
)

type commandConfig struct {
	show         commandConfigShow
	set          commandConfigSet
	setOffload   commandConfigSetOffload
	clearOffload commandConfigClearOffload
}

func (c *commandConfig) setup(svc appServices, parent *kingpin.Application) {
	cmd := parent.Command("config", "Commands to manipulate the config file.")

	c.show.setup(svc, cmd)
	c.set.setup(svc, cmd)
	c.setOffload.setup(svc, cmd)
	c.clearOffload.setup(svc, cmd)
}

// updateConfigFile applies the change to the config file as stored, without command-line overrides.
func updateConfigFile(svc appServices, change func(cfg *config.Config) error) error {
	cfg, err := config.Load(svc.configFileName())
	if err != nil {
		return err //nolint:wrapcheck
	}

	if err := change(cfg); err != nil {
		return err
	}

	return errors.Wrap(cfg.Save(svc.configFileName()), "unable to save config")
}

type commandConfigShow struct {
	svc appServices
	out textOutput
}

func (c *commandConfigShow) setup(svc appServices, parent *kingpin.CmdClause) {
	cmd := parent.Command("show", "Show the effective configuration.")
	cmd.Action(svc.baseAction(c.run))

	c.svc = svc
	c.out.setup(svc)
}

func (c *commandConfigShow) run(_ context.Context) error {
	b, err := json.MarshalIndent(c.svc.config(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to serialize config")
	}

	c.out.printStdout("%s\n", b)

	return nil
}

type commandConfigSet struct {
	spoolDir        string
	compression     string
	minFree         string
	memoryThreshold string
	sweepMinAge     time.Duration

	svc appServices
}

func (c *commandConfigSet) setup(svc appServices, parent *kingpin.CmdClause) {
	cmd := parent.Command("set", "Change spool settings in the config file.")
	cmd.Flag("spool-dir", "Spool directory").StringVar(&c.spoolDir)
	cmd.Flag("compression", "Compression of spool files").EnumVar(&c.compression, supportedCompressionNames()...)
	cmd.Flag("min-free", "Minimum free space required to spool, such as 100MiB").StringVar(&c.minFree)
	cmd.Flag("memory-threshold", "Bodies up to this size are kept in memory, such as 64KiB").StringVar(&c.memoryThreshold)
	cmd.Flag("sweep-min-age", "Minimum age of orphaned spool files removed by sweep").DurationVar(&c.sweepMinAge)
	cmd.Action(svc.baseAction(c.run))

	c.svc = svc
}

func (c *commandConfigSet) run(ctx context.Context) error {
	return updateConfigFile(c.svc, func(cfg *config.Config) error {
		if c.spoolDir != "" {
			cfg.Spool.Dir = c.spoolDir
		}

		switch c.compression {
		case "":
		case compressionNone:
			cfg.Spool.Compression = ""
		default:
			cfg.Spool.Compression = compression.Name(c.compression)
		}

		if err := parseByteSizeFlag(c.minFree, &cfg.Spool.MinFree); err != nil {
			return errors.Wrap(err, "invalid --min-free")
		}

		if err := parseByteSizeFlag(c.memoryThreshold, &cfg.Spool.MemoryThreshold); err != nil {
			return errors.Wrap(err, "invalid --memory-threshold")
		}

		if c.sweepMinAge != 0 {
			cfg.Spool.SweepMinAge = config.Duration(c.sweepMinAge)
		}

		log(ctx).Debugf("updating spool settings in %v", c.svc.configFileName())

		return nil
	})
}

func parseByteSizeFlag(s string, dst *config.ByteSize) error {
	if s == "" {
		return nil
	}

	v, err := config.ParseByteSize(s)
	if err != nil {
		return err //nolint:wrapcheck
	}

	*dst = v

	return nil
}

type commandConfigSetOffload struct {
	svc appServices
	out textOutput
}

func (c *commandConfigSetOffload) setup(svc appServices, parent *kingpin.CmdClause) {
	cmd := parent.Command("set-offload", "Connect to blob storage and save it as the offload destination.")

	registerStorageCommands(svc, cmd, "Offload to", nil, func(connect func(ctx context.Context) (blob.Storage, error)) kingpin.Action {
		return svc.baseAction(func(ctx context.Context) error {
			return c.run(ctx, connect)
		})
	})

	c.svc = svc
	c.out.setup(svc)
}

func (c *commandConfigSetOffload) run(ctx context.Context, connect func(ctx context.Context) (blob.Storage, error)) error {
	bs, err := connect(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to connect to storage")
	}

	defer bs.Close(ctx) //nolint:errcheck

	ci := bs.ConnectionInfo()

	if err := updateConfigFile(c.svc, func(cfg *config.Config) error {
		cfg.Offload = &ci
		return nil
	}); err != nil {
		return err
	}

	c.out.printStdout("Offload storage set to %v.\n", bs.DisplayName())

	return nil
}

type commandConfigClearOffload struct {
	svc appServices
}

func (c *commandConfigClearOffload) setup(svc appServices, parent *kingpin.CmdClause) {
	cmd := parent.Command("clear-offload", "Remove the offload destination from the config file.")
	cmd.Action(svc.baseAction(c.run))

	c.svc = svc
}

func (c *commandConfigClearOffload) run(_ context.Context) error {
	return updateConfigFile(c.svc, func(cfg *config.Config) error {
		cfg.Offload = nil
		return nil
	})
}
