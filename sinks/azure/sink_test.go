package azure

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/stretchr/testify/require"
)

func TestIsAuthError(t *testing.T) {
	var s = &sinkBase{}

	for _, tc := range []struct {
		name   string
		err    error
		expect bool
	}{
		{"container not found", storageError(azblob.ServiceCodeContainerNotFound, http.StatusNotFound), true},
		{"container disabled", storageError(azblob.ServiceCodeContainerDisabled, http.StatusForbidden), true},
		{"account disabled", storageError(azblob.ServiceCodeAccountIsDisabled, http.StatusForbidden), true},
		{"forbidden", storageError("OtherError", http.StatusForbidden), true},
		{"unauthorized is authentication", storageError("InvalidCredentials", http.StatusUnauthorized), false},
		{"generic", errors.New("timeout"), false},
		{"nil", nil, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, s.IsAuthError(tc.err))
		})
	}
}

func TestParseADLocation(t *testing.T) {
	var loc, err = parseADLocation(mustParseURL("azure-ad://tenant/acct/ctr/outbox/readings"))
	require.NoError(t, err)
	require.Equal(t, adLocation{
		tenantID:       "tenant",
		storageAccount: "acct",
		container:      "ctr",
		prefix:         "outbox/readings/",
	}, loc)

	loc, err = parseADLocation(mustParseURL("azure-ad://tenant/acct/ctr"))
	require.NoError(t, err)
	require.Equal(t, "", loc.prefix)

	_, err = parseADLocation(mustParseURL("azure-ad://tenant/acct"))
	require.ErrorContains(t, err, "must include tenant, storage account and container")
}

func TestBlobURLs(t *testing.T) {
	var s = &sinkBase{
		storageAccount: "acct",
		blobDomain:     "blob.core.chinacloudapi.cn",
		container:      "ctr",
		prefix:         "outbox/",
	}
	var u, err = s.blobURL("readings/0001.json")
	require.NoError(t, err)

	var got = u.URL()
	require.Equal(t, "https://acct.blob.core.chinacloudapi.cn/ctr/outbox/readings/0001.json", got.String())
	require.Equal(t, azblob.DefaultAccessTier, s.accessTier())

	s.args.AccessTier = "Cool"
	require.Equal(t, azblob.AccessTierCool, s.accessTier())
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Setenv("AZURE_ACCOUNT_NAME", "")
	t.Setenv("AZURE_ACCOUNT_KEY", "")
	t.Setenv("AZURE_CLIENT_ID", "")
	t.Setenv("AZURE_CLIENT_SECRET", "")

	var _, err = NewAccount(mustParseURL("azure://ctr/prefix/"))
	require.EqualError(t, err, "AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set for azure:// URLs")

	_, err = NewAD(mustParseURL("azure-ad://tenant/acct/ctr/prefix/"))
	require.EqualError(t, err, "AZURE_CLIENT_ID and AZURE_CLIENT_SECRET must be set for azure-ad:// URLs")

	_, err = NewAccount(mustParseURL("azure://ctr/prefix/?Tier=Hot"))
	require.ErrorContains(t, err, "parsing sink URL arguments")
}

type mockStorageError struct {
	serviceCode azblob.ServiceCodeType
	statusCode  int
}

func (e *mockStorageError) Error() string                       { return string(e.serviceCode) }
func (e *mockStorageError) ServiceCode() azblob.ServiceCodeType { return e.serviceCode }
func (e *mockStorageError) Response() *http.Response            { return &http.Response{StatusCode: e.statusCode} }
func (e *mockStorageError) Temporary() bool                     { return false }
func (e *mockStorageError) Timeout() bool                       { return false }

func storageError(code azblob.ServiceCodeType, status int) azblob.StorageError {
	return &mockStorageError{serviceCode: code, statusCode: status}
}

func mustParseURL(s string) *url.URL {
	var u, err = url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}
