package cli

import (
	"context"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/blob/sftp"
	"github.com/kopia/mimespool/internal/ospath"
)

type storageSFTPFlags struct {
	options          sftp.Options
	embedCredentials bool
}

func (c *storageSFTPFlags) Setup(svc StorageProviderServices, cmd *kingpin.CmdClause) {
	cmd.Flag("path", "Path to the offload directory in the SFTP/SSH server").Required().StringVar(&c.options.Path)
	cmd.Flag("host", "SFTP/SSH server hostname").Required().StringVar(&c.options.Host)
	cmd.Flag("port", "SFTP/SSH server port").Default("22").IntVar(&c.options.Port)
	cmd.Flag("username", "SFTP/SSH server username").Required().StringVar(&c.options.Username)
	cmd.Flag("sftp-password", "SFTP/SSH server password").Envar(svc.EnvName("MIMESPOOL_SFTP_PASSWORD")).StringVar(&c.options.Password)
	cmd.Flag("keyfile", "path to private key file for SFTP/SSH server").StringVar(&c.options.Keyfile)
	cmd.Flag("key-data", "private key data").StringVar(&c.options.KeyData)
	cmd.Flag("known-hosts", "path to known_hosts file").StringVar(&c.options.KnownHostsFile)
	cmd.Flag("known-hosts-data", "known_hosts file entries").StringVar(&c.options.KnownHostsData)
	cmd.Flag("embed-credentials", "Embed key and known_hosts in the configuration").BoolVar(&c.embedCredentials)
}

func (c *storageSFTPFlags) Connect(ctx context.Context) (blob.Storage, error) {
	sftpo := c.options

	if sftpo.Keyfile != "" {
		sftpo.Keyfile = ospath.ResolveUserFriendlyPath(sftpo.Keyfile, true)
	}

	if sftpo.KnownHostsFile != "" {
		sftpo.KnownHostsFile = ospath.ResolveUserFriendlyPath(sftpo.KnownHostsFile, true)
	}

	if c.embedCredentials {
		if sftpo.KeyData == "" && sftpo.Keyfile != "" {
			d, err := os.ReadFile(sftpo.Keyfile)
			if err != nil {
				return nil, errors.Wrap(err, "unable to read key file")
			}

			sftpo.KeyData = string(d)
			sftpo.Keyfile = ""
		}

		if sftpo.KnownHostsData == "" && sftpo.KnownHostsFile != "" {
			d, err := os.ReadFile(sftpo.KnownHostsFile)
			if err != nil {
				return nil, errors.Wrap(err, "unable to read known hosts file")
			}

			sftpo.KnownHostsData = string(d)
			sftpo.KnownHostsFile = ""
		}
	}

	//nolint:wrapcheck
	return sftp.New(ctx, &sftpo)
}
