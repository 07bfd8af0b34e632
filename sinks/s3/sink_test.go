package s3

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/require"
)

func TestIsAuthError(t *testing.T) {
	var s = &sink{}

	for _, tc := range []struct {
		name   string
		err    error
		expect bool
	}{
		{"no such bucket", awserr.New(s3.ErrCodeNoSuchBucket, "The specified bucket does not exist", nil), true},
		{"access denied", awserr.New(s3ErrCodeAccessDenied, "Access Denied", nil), true},
		{"forbidden", awserr.NewRequestFailure(awserr.New("Forbidden", "Forbidden", nil), http.StatusForbidden, "req-id"), true},
		{"bad key is authentication", awserr.New("InvalidAccessKeyId", "The AWS Access Key Id you provided does not exist", nil), false},
		{"not found", awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "req-id"), false},
		{"generic", errors.New("connection timeout"), false},
		{"nil", nil, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, s.IsAuthError(tc.err))
		})
	}
}

func TestPutObjectInput(t *testing.T) {
	var s = &sink{
		bucket: "bucket",
		prefix: "outbox/",
		args:   SinkQueryArgs{StorageClass: "STANDARD_IA", SSE: "AES256"},
	}
	var in = s.putObjectInput("readings/0001.json.gz", "gzip")

	require.Equal(t, "bucket", *in.Bucket)
	require.Equal(t, "outbox/readings/0001.json.gz", *in.Key)
	require.Equal(t, "gzip", *in.ContentEncoding)
	require.Equal(t, "STANDARD_IA", *in.StorageClass)
	require.Equal(t, "AES256", *in.ServerSideEncryption)
	require.Nil(t, in.ACL)
	require.Nil(t, in.SSEKMSKeyId)

	in = s.putObjectInput("readings/0002.json", "")
	require.Nil(t, in.ContentEncoding)
}

func TestNewRejectsInvalidURLs(t *testing.T) {
	var _, err = New(&url.URL{Scheme: "s3", Host: "bucket", Path: "/p/", RawQuery: "Unknown=1"})
	require.ErrorContains(t, err, "parsing sink URL arguments")

	_, err = New(&url.URL{Scheme: "s3", Path: "/p/"})
	require.ErrorContains(t, err, "missing a bucket")
}
