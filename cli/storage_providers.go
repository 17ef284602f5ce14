package cli

import (
	"context"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kopia/mimespool/blob"
)

// StorageProviderServices is implemented by the cli App and provides the services
// used by storage provider flags.
type StorageProviderServices interface {
	EnvName(s string) string
}

// StorageFlags is implemented by cli storage providers which need to support a
// particular backend. This requires the common setup and connection methods
// implemented by all the cli storage providers.
type StorageFlags interface {
	Setup(sps StorageProviderServices, cmd *kingpin.CmdClause)
	Connect(ctx context.Context) (blob.Storage, error)
}

type storageProvider struct {
	Name        string
	Description string
	NewFlags    func() StorageFlags
}

//nolint:gochecknoglobals
var storageProviders = []storageProvider{
	{"azure", "an Azure blob storage", func() StorageFlags { return &storageAzureFlags{} }},
	{"b2", "a B2 bucket", func() StorageFlags { return &storageB2Flags{} }},
	{"filesystem", "a filesystem", func() StorageFlags { return &storageFilesystemFlags{} }},
	{"gcs", "a Google Cloud Storage bucket", func() StorageFlags { return &storageGCSFlags{} }},
	{"s3", "an S3 bucket", func() StorageFlags { return &storageS3Flags{} }},
	{"sftp", "an SFTP storage", func() StorageFlags { return &storageSFTPFlags{} }},
	{"webdav", "a WebDAV storage", func() StorageFlags { return &storageWebDAVFlags{} }},
}

// registerStorageCommands adds a subcommand per storage provider to parent. The action receives
// the function connecting to the storage described by the provider flags.
func registerStorageCommands(
	svc appServices,
	parent *kingpin.CmdClause,
	verb string,
	setup func(cmd *kingpin.CmdClause),
	action func(connect func(ctx context.Context) (blob.Storage, error)) kingpin.Action,
) {
	for _, prov := range storageProviders {
		f := prov.NewFlags()
		cc := parent.Command(prov.Name, verb+" "+prov.Description)
		f.Setup(svc, cc)

		if setup != nil {
			setup(cc)
		}

		cc.Action(action(f.Connect))
	}
}
