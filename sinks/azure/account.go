package azure

import (
	"net/url"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/sinks"
)

// accountSink authenticates with an account's Shared Key (azure:// scheme).
type accountSink struct {
	sinkBase
	sasKey *service.SharedKeyCredential
}

// NewAccount creates a new Shared Key authenticated Sink from the provided
// URL, of form azure://container/prefix/. The account is read from
// AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY.
func NewAccount(ep *url.URL) (sinks.Sink, error) {
	var args SinkQueryArgs
	if err := sinks.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	var container, prefix, err = sinks.BucketAndPrefix(ep)
	if err != nil {
		return nil, err
	}

	var storageAccount = os.Getenv("AZURE_ACCOUNT_NAME")
	var accountKey = os.Getenv("AZURE_ACCOUNT_KEY")

	if storageAccount == "" || accountKey == "" {
		return nil, errors.New("AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set for azure:// URLs")
	}
	var domain = blobDomain()

	credentials, err := azblob.NewSharedKeyCredential(storageAccount, accountKey)
	if err != nil {
		return nil, err
	}
	sasKey, err := service.NewSharedKeyCredential(storageAccount, accountKey)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"storageAccount": storageAccount,
		"blobDomain":     domain,
		"container":      container,
		"prefix":         prefix,
	}).Info("constructed new Azure Shared Key sink")

	return &accountSink{
		sinkBase: sinkBase{
			args:           args,
			storageAccount: storageAccount,
			blobDomain:     domain,
			container:      container,
			prefix:         prefix,
			pipeline:       azblob.NewPipeline(credentials, azblob.PipelineOptions{}),
		},
		sasKey: sasKey,
	}, nil
}

func (a *accountSink) Provider() string { return "azure" }

// SignGet returns a URL signed with the Shared Key.
func (a *accountSink) SignGet(path string, d time.Duration) (string, error) {
	var blob = a.prefix + path

	var params, err = sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		ExpiryTime:    time.Now().UTC().Add(d),
		ContainerName: a.container,
		BlobName:      blob,
		Permissions:   to.Ptr(sas.BlobPermissions{Read: true}).String(),
	}.SignWithSharedKey(a.sasKey)

	if err != nil {
		return "", err
	}
	return a.containerURL() + "/" + blob + "?" + params.Encode(), nil
}
