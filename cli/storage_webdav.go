package cli

import (
	"context"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/blob/webdav"
)

type storageWebDAVFlags struct {
	options webdav.Options
}

func (c *storageWebDAVFlags) Setup(svc StorageProviderServices, cmd *kingpin.CmdClause) {
	cmd.Flag("url", "URL of WebDAV server").Required().StringVar(&c.options.URL)
	cmd.Flag("webdav-username", "WebDAV username").Envar(svc.EnvName("MIMESPOOL_WEBDAV_USERNAME")).StringVar(&c.options.Username)
	cmd.Flag("webdav-password", "WebDAV password").Envar(svc.EnvName("MIMESPOOL_WEBDAV_PASSWORD")).StringVar(&c.options.Password)
	cmd.Flag("server-cert-fingerprint", "SHA256 fingerprint of the trusted server certificate").StringVar(&c.options.TrustedServerCertificateFingerprint)
}

func (c *storageWebDAVFlags) Connect(ctx context.Context) (blob.Storage, error) {
	wo := c.options

	if wo.Username != "" && wo.Password == "" {
		pass, err := askPass(os.Stderr, "Enter WebDAV password: ")
		if err != nil {
			return nil, err
		}

		wo.Password = pass
	}

	//nolint:wrapcheck
	return webdav.New(ctx, &wo)
}
