// Package azure implements azure:// (shared key) and azure-ad:// (Azure AD
// client secret) sinks, which write delivered content as block blobs.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-storage-blob-go/azblob"
)

// SinkQueryArgs contains fields that are parsed from the query arguments
// of an azure:// or azure-ad:// sink URL.
type SinkQueryArgs struct {
	// AccessTier of delivered blobs (eg, "Hot", "Cool"). If empty, the
	// account default is used.
	AccessTier string
}

// sinkBase implements Sink operations common to both authentication schemes.
type sinkBase struct {
	args           SinkQueryArgs
	storageAccount string // Azure's equivalent of an S3 bucket.
	blobDomain     string // Domain of the storage account (eg, blob.core.windows.net).
	container      string // Blobs live in containers, which live in accounts.
	prefix         string // Path prefix of blobs within the container.
	pipeline       pipeline.Pipeline
}

func (a *sinkBase) Exists(ctx context.Context, path string) (bool, error) {
	var blobURL, err = a.blobURL(path)
	if err != nil {
		return false, err
	}
	if _, err = blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{}); err == nil {
		return true, nil
	} else if inner, ok := err.(azblob.StorageError); ok && inner.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		return false, nil
	}
	return false, err
}

func (a *sinkBase) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var blobURL, err = a.blobURL(path)
	if err != nil {
		return nil, err
	}
	download, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, err
	}
	return download.Body(azblob.RetryReaderOptions{}), nil
}

func (a *sinkBase) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var blobURL, err = a.blobURL(path)
	if err != nil {
		return err
	}
	var headers = azblob.BlobHTTPHeaders{
		ContentType:     "application/json",
		ContentEncoding: contentEncoding,
	}
	_, err = blobURL.Upload(ctx, io.NewSectionReader(content, 0, contentLength), headers,
		azblob.Metadata{}, azblob.BlobAccessConditions{}, a.accessTier(), azblob.BlobTagsMap{},
		azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	return err
}

func (a *sinkBase) accessTier() azblob.AccessTierType {
	if a.args.AccessTier == "" {
		return azblob.DefaultAccessTier
	}
	return azblob.AccessTierType(a.args.AccessTier)
}

func (a *sinkBase) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = a.prefix + prefix

	var u, err = url.Parse(a.containerURL())
	if err != nil {
		return err
	}
	var containerURL = azblob.NewContainerURL(*u, a.pipeline)
	var options = azblob.ListBlobsSegmentOptions{Prefix: prefix}

	for marker := (azblob.Marker{}); marker.NotDone(); {
		var segment, err = containerURL.ListBlobsFlatSegment(ctx, marker, options)
		if err != nil {
			return err
		}
		for _, blob := range segment.Segment.BlobItems {
			if strings.HasSuffix(blob.Name, "/") {
				continue // Ignore directory-like objects.
			}
			if err = callback(strings.TrimPrefix(blob.Name, prefix), blob.Properties.LastModified); err != nil {
				return err
			}
		}
		marker = segment.NextMarker
	}
	return nil
}

func (a *sinkBase) Remove(ctx context.Context, path string) error {
	var blobURL, err = a.blobURL(path)
	if err != nil {
		return err
	}
	_, err = blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	return err
}

func (a *sinkBase) IsAuthError(err error) bool {
	var storageErr, ok = err.(azblob.StorageError)
	if !ok {
		return false
	}
	switch storageErr.ServiceCode() {
	case azblob.ServiceCodeContainerNotFound,
		azblob.ServiceCodeContainerDisabled,
		azblob.ServiceCodeAccountIsDisabled:
		return true
	}
	return storageErr.Response() != nil && storageErr.Response().StatusCode == http.StatusForbidden
}

func (a *sinkBase) blobURL(path string) (*azblob.BlockBlobURL, error) {
	var u, err = url.Parse(a.containerURL() + "/" + a.prefix + path)
	if err != nil {
		return nil, err
	}
	var blobURL = azblob.NewBlockBlobURL(*u, a.pipeline)
	return &blobURL, nil
}

func (a *sinkBase) containerURL() string {
	return fmt.Sprintf("%s/%s", storageURL(a.storageAccount, a.blobDomain), a.container)
}

func storageURL(storageAccount, blobDomain string) string {
	return fmt.Sprintf("https://%s.%s", storageAccount, blobDomain)
}

// blobDomain is AZURE_BLOB_DOMAIN, or the public cloud's domain.
func blobDomain() string {
	if d := os.Getenv("AZURE_BLOB_DOMAIN"); d != "" {
		return d
	}
	return "blob.core.windows.net"
}
