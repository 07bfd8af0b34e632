package azure

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/sinks"
)

// adSink authenticates with an Azure AD client secret (azure-ad:// scheme).
type adSink struct {
	sinkBase
	tenantID string
	client   *service.Client

	// User delegation credentials are cached, and periodically refreshed
	// using the client secret.
	udc struct {
		mu    sync.Mutex
		exp   time.Time
		inner *service.UserDelegationCredential
	}
}

// adLocation is the parsed form of an azure-ad:// URL.
type adLocation struct {
	tenantID, storageAccount, container, prefix string
}

func parseADLocation(ep *url.URL) (adLocation, error) {
	var parts = strings.Split(strings.TrimPrefix(ep.Path, "/"), "/")
	if ep.Host == "" || len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return adLocation{}, errors.New("azure-ad:// URL must include tenant, storage account and container: " +
			"azure-ad://tenant-id/storage-account/container/prefix/")
	}
	var prefix = strings.Join(parts[2:], "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return adLocation{
		tenantID:       ep.Host,
		storageAccount: parts[0],
		container:      parts[1],
		prefix:         prefix,
	}, nil
}

// NewAD creates a new Azure AD authenticated Sink from the provided URL. The
// client is read from AZURE_CLIENT_ID and AZURE_CLIENT_SECRET.
func NewAD(ep *url.URL) (sinks.Sink, error) {
	var args SinkQueryArgs
	if err := sinks.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	var loc, err = parseADLocation(ep)
	if err != nil {
		return nil, err
	}

	var clientID = os.Getenv("AZURE_CLIENT_ID")
	var clientSecret = os.Getenv("AZURE_CLIENT_SECRET")

	if clientID == "" || clientSecret == "" {
		return nil, errors.New("AZURE_CLIENT_ID and AZURE_CLIENT_SECRET must be set for azure-ad:// URLs")
	}
	var domain = blobDomain()

	credentials, err := azidentity.NewClientSecretCredential(loc.tenantID, clientID, clientSecret,
		&azidentity.ClientSecretCredentialOptions{DisableInstanceDiscovery: true})
	if err != nil {
		return nil, err
	}

	var refreshFn = func(credential azblob.TokenCredential) time.Duration {
		var token, err = credentials.GetToken(context.Background(), policy.TokenRequestOptions{
			TenantID: loc.tenantID,
			Scopes:   []string{"https://storage.azure.com/.default"},
		})
		if err != nil {
			log.WithFields(log.Fields{
				"err":    err,
				"tenant": loc.tenantID,
			}).Error("failed to refresh Azure credential (will retry)")
			return time.Minute
		}
		credential.SetToken(token.Token)
		return token.ExpiresOn.Sub(time.Now().Add(time.Minute))
	}

	client, err := service.NewClient(storageURL(loc.storageAccount, domain), credentials, &service.ClientOptions{})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tenant":         loc.tenantID,
		"storageAccount": loc.storageAccount,
		"blobDomain":     domain,
		"container":      loc.container,
		"prefix":         loc.prefix,
	}).Info("constructed new Azure AD sink")

	return &adSink{
		sinkBase: sinkBase{
			args:           args,
			storageAccount: loc.storageAccount,
			blobDomain:     domain,
			container:      loc.container,
			prefix:         loc.prefix,
			pipeline:       azblob.NewPipeline(azblob.NewTokenCredential("", refreshFn), azblob.PipelineOptions{}),
		},
		tenantID: loc.tenantID,
		client:   client,
	}, nil
}

func (a *adSink) Provider() string { return "azure-ad" }

// SignGet returns a URL signed with a user delegation credential.
func (a *adSink) SignGet(path string, d time.Duration) (string, error) {
	var blob = a.prefix + path

	var udc, err = a.userDelegationCredential()
	if err != nil {
		return "", err
	}
	params, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		ExpiryTime:    time.Now().UTC().Add(d),
		ContainerName: a.container,
		BlobName:      blob,
		Permissions:   to.Ptr(sas.BlobPermissions{Read: true}).String(),
	}.SignWithUserDelegation(udc)

	if err != nil {
		return "", err
	}
	return a.containerURL() + "/" + blob + "?" + params.Encode(), nil
}

// userDelegationCredential returns the cached credential if at least half
// of its validity remains, and otherwise fetches a new one.
func (a *adSink) userDelegationCredential() (*service.UserDelegationCredential, error) {
	a.udc.mu.Lock()
	defer a.udc.mu.Unlock()

	const validity = 2 * time.Hour
	var now = time.Now()

	if a.udc.exp.After(now.Add(validity / 2)) {
		return a.udc.inner, nil
	}
	var exp = now.Add(validity)

	var keyInfo = service.KeyInfo{
		Start:  to.Ptr(now.UTC().Format(sas.TimeFormat)),
		Expiry: to.Ptr(exp.UTC().Format(sas.TimeFormat)),
	}
	var udc, err = a.client.GetUserDelegationCredential(context.Background(), keyInfo, nil)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"storageAccount": a.storageAccount,
		"tenant":         a.tenantID,
		"expiry":         *keyInfo.Expiry,
	}).Info("refreshed Azure Storage user delegation credential")

	a.udc.exp, a.udc.inner = exp, udc
	return udc, nil
}
