// Package azure implements Azure Blob Storage.
package azure

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/pkg/errors"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/internal/clock"
	"github.com/kopia/mimespool/internal/iocopy"
)

const (
	azStorageType = "azureBlob"

	uploadBlockSize = 4 << 20
)

type azStorage struct {
	Options

	service   *azblob.Client
	container string
}

func (az *azStorage) OpenBlob(ctx context.Context, b blob.ID) (io.ReadCloser, error) {
	resp, err := az.service.DownloadStream(ctx, az.container, az.getObjectNameString(b), nil)
	if err != nil {
		return nil, translateError(err)
	}

	return resp.Body, nil
}

func (az *azStorage) GetMetadata(ctx context.Context, b blob.ID) (blob.Metadata, error) {
	bc := az.service.ServiceClient().NewContainerClient(az.container).NewBlobClient(az.getObjectNameString(b))

	fi, err := bc.GetProperties(ctx, nil)
	if err != nil {
		return blob.Metadata{}, errors.Wrap(translateError(err), "GetProperties")
	}

	bm := blob.Metadata{
		BlobID: b,
	}

	if fi.ContentLength != nil {
		bm.Length = *fi.ContentLength
	}

	if fi.LastModified != nil {
		bm.Timestamp = *fi.LastModified
	}

	return bm, nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return blob.ErrBlobNotFound
	}

	var re *azcore.ResponseError

	if errors.As(err, &re) && re.StatusCode == 404 {
		return blob.ErrBlobNotFound
	}

	return err
}

func (az *azStorage) PutBlob(ctx context.Context, b blob.ID, data io.Reader, length int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cr := &countingReader{r: data}

	if _, err := az.service.UploadStream(ctx, az.container, az.getObjectNameString(b), cr, &azblob.UploadStreamOptions{
		BlockSize: uploadBlockSize,
	}); err != nil {
		return translateError(err)
	}

	if err := blob.EnsureLengthExactly(cr.n, length); err != nil {
		// the upload committed with the wrong contents, do not leave it behind.
		az.DeleteBlob(ctx, b) //nolint:errcheck
		return err
	}

	return nil
}

// DeleteBlob deletes azure blob from container with given ID.
func (az *azStorage) DeleteBlob(ctx context.Context, b blob.ID) error {
	_, err := az.service.DeleteBlob(ctx, az.container, az.getObjectNameString(b), nil)
	err = translateError(err)

	// don't return error if blob is already deleted
	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil
	}

	return err
}

func (az *azStorage) getObjectNameString(b blob.ID) string {
	return az.Prefix + string(b)
}

// ListBlobs list azure blobs with given prefix.
func (az *azStorage) ListBlobs(ctx context.Context, prefix blob.ID, callback func(blob.Metadata) error) error {
	prefixStr := az.getObjectNameString(prefix)

	pager := az.service.NewListBlobsFlatPager(az.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefixStr,
	})

	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return translateError(err)
		}

		for _, it := range resp.Segment.BlobItems {
			n := *it.Name

			bm := blob.Metadata{
				BlobID: blob.ID(n[len(az.Prefix):]),
			}

			if p := it.Properties; p != nil {
				if p.ContentLength != nil {
					bm.Length = *p.ContentLength
				}

				if p.LastModified != nil {
					bm.Timestamp = *p.LastModified
				}
			}

			if err := callback(bm); err != nil {
				return err
			}
		}
	}

	return nil
}

func (az *azStorage) ConnectionInfo() blob.ConnectionInfo {
	return blob.ConnectionInfo{
		Type:   azStorageType,
		Config: &az.Options,
	}
}

func (az *azStorage) DisplayName() string {
	return fmt.Sprintf("Azure: %v", az.Options.Container)
}

func (az *azStorage) Close(ctx context.Context) error {
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	//nolint:wrapcheck
	return n, err
}

func (c *countingReader) WriteTo(w io.Writer) (int64, error) {
	n, err := iocopy.Copy(w, c.r)
	c.n += n

	return n, err
}

func newClient(opt *Options) (*azblob.Client, error) {
	storageDomain := opt.StorageDomain
	if storageDomain == "" {
		storageDomain = "blob.core.windows.net"
	}

	scheme := "https"
	if opt.DoNotUseTLS {
		scheme = "http"
	}

	serviceURL := fmt.Sprintf("%v://%v.%v/", scheme, opt.StorageAccount, storageDomain)

	switch {
	case opt.SASToken != "":
		//nolint:wrapcheck
		return azblob.NewClientWithNoCredential(serviceURL+"?"+opt.SASToken, nil)

	case opt.StorageKey != "":
		cred, err := azblob.NewSharedKeyCredential(opt.StorageAccount, opt.StorageKey)
		if err != nil {
			return nil, errors.Wrap(err, "unable to initialize shared key credential")
		}

		//nolint:wrapcheck
		return azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)

	case opt.ClientSecret != "":
		cred, err := azidentity.NewClientSecretCredential(opt.TenantID, opt.ClientID, opt.ClientSecret, nil)
		if err != nil {
			return nil, errors.Wrap(err, "unable to initialize client secret credential")
		}

		//nolint:wrapcheck
		return azblob.NewClient(serviceURL, cred, nil)

	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, errors.Wrap(err, "unable to initialize default azure credential")
		}

		//nolint:wrapcheck
		return azblob.NewClient(serviceURL, cred, nil)
	}
}

// New creates new Azure Blob Storage-backed storage with specified options:
//
// - the 'Container' and 'StorageAccount' fields are required and all other parameters are optional.
func New(ctx context.Context, opt *Options) (blob.Storage, error) {
	if opt.Container == "" {
		return nil, errors.New("container name must be specified")
	}

	if opt.StorageAccount == "" {
		return nil, errors.New("storage account must be specified")
	}

	service, err := newClient(opt)
	if err != nil {
		return nil, errors.Wrap(err, "opening azure service")
	}

	az := &azStorage{
		Options:   *opt,
		container: opt.Container,
		service:   service,
	}

	// verify Azure connection is functional by listing blobs in a bucket, which will fail if the container
	// does not exist. We list with a prefix that will not exist, to avoid iterating through any objects.
	nonExistentPrefix := fmt.Sprintf("mimespool-azure-storage-initializing-%v", clock.Now().UnixNano())
	if err := az.ListBlobs(ctx, blob.ID(nonExistentPrefix), func(_ blob.Metadata) error {
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "unable to list from the bucket")
	}

	return az, nil
}

func init() {
	blob.AddSupportedStorage(azStorageType, Options{}, New)
}
