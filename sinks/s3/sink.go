// Package s3 implements s3:// sinks, which write delivered content as
// objects of an AWS S3 (or S3-compatible) bucket.
package s3

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/sinks"
)

// SinkQueryArgs contains fields that are parsed from the query arguments
// of an s3:// sink URL.
type SinkQueryArgs struct {
	// AWS Profile to extract credentials from the shared credentials file.
	// If empty, the default credentials are used.
	Profile string
	// Endpoint to connect to S3. If empty, the default S3 service is used.
	Endpoint string
	// ACL applied to delivered objects. By default, none is set.
	ACL string
	// Storage class applied to delivered objects. By default, this is
	// s3.ObjectStorageClassStandard.
	StorageClass string
	// SSE is the server-side encryption type to be applied (eg, "AES256").
	// By default, encryption is not used.
	SSE string
	// SSEKMSKeyId specifies the ID of the AWS KMS customer managed key.
	SSEKMSKeyId string
	// Region is the region of the bucket. If empty, the region is determined
	// from `Profile` or the default credentials.
	Region string
}

type sink struct {
	bucket string
	prefix string
	args   SinkQueryArgs
	client *s3.S3
}

// New creates a new S3 Sink from the provided URL.
func New(ep *url.URL) (sinks.Sink, error) {
	var args SinkQueryArgs
	if err := sinks.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	var bucket, prefix, err = sinks.BucketAndPrefix(ep)
	if err != nil {
		return nil, err
	}

	var awsConfig = aws.NewConfig()
	awsConfig.WithCredentialsChainVerboseErrors(true)

	if args.Region != "" {
		awsConfig.WithRegion(args.Region)
	}
	if args.Endpoint != "" {
		awsConfig.WithEndpoint(args.Endpoint)
		// Bucket-named virtual hosts are not compatible with explicit endpoints.
		awsConfig.WithS3ForcePathStyle(true)
	} else {
		// Don't let the http.Transport transparently decompress
		// gzip-encoded objects on read.
		awsConfig.WithHTTPClient(&http.Client{
			Transport: &http.Transport{DisableCompression: true},
		})
	}

	awsSession, err := session.NewSessionWithOptions(session.Options{
		Config:  *awsConfig,
		Profile: args.Profile,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "constructing S3 session")
	}

	creds, err := awsSession.Config.Credentials.Get()
	if err != nil {
		return nil, errors.WithMessagef(err, "fetching AWS credentials for profile %q", args.Profile)
	}
	// The SDK errors on every request if a Region isn't set, even where an
	// Endpoint is given. Fail fast instead.
	if awsSession.Config.Region == nil || *awsSession.Config.Region == "" {
		return nil, errors.Errorf("missing AWS region configuration for profile %q", args.Profile)
	}

	log.WithFields(log.Fields{
		"endpoint":     args.Endpoint,
		"profile":      args.Profile,
		"region":       *awsSession.Config.Region,
		"keyID":        creds.AccessKeyID,
		"providerName": creds.ProviderName,
		"bucket":       bucket,
		"prefix":       prefix,
	}).Info("constructed new S3 sink")

	return &sink{
		bucket: bucket,
		prefix: prefix,
		args:   args,
		client: s3.New(awsSession),
	}, nil
}

func (s *sink) Provider() string { return "s3" }

func (s *sink) key(path string) *string { return aws.String(s.prefix + path) }

func (s *sink) SignGet(path string, d time.Duration) (string, error) {
	var req, _ = s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	if sinks.DisableSignedUrls {
		return req.HTTPRequest.URL.String(), nil
	}
	return req.Presign(d)
}

func (s *sink) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	if err == nil {
		return true, nil
	} else if awsErr, ok := err.(awserr.RequestFailure); ok && awsErr.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (s *sink) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var resp, err = s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *sink) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var putObj = s.putObjectInput(path, contentEncoding)
	putObj.Body = io.NewSectionReader(content, 0, contentLength)

	var _, err = s.client.PutObjectWithContext(ctx, putObj)
	return err
}

func (s *sink) putObjectInput(path, contentEncoding string) *s3.PutObjectInput {
	var putObj = &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         s.key(path),
		ContentType: aws.String("application/json"),
	}
	if s.args.ACL != "" {
		putObj.ACL = aws.String(s.args.ACL)
	}
	if s.args.StorageClass != "" {
		putObj.StorageClass = aws.String(s.args.StorageClass)
	}
	if s.args.SSE != "" {
		putObj.ServerSideEncryption = aws.String(s.args.SSE)
	}
	if s.args.SSEKMSKeyId != "" {
		putObj.SSEKMSKeyId = aws.String(s.args.SSEKMSKeyId)
	}
	if contentEncoding != "" {
		putObj.ContentEncoding = aws.String(contentEncoding)
	}
	return putObj
}

func (s *sink) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = s.prefix + prefix

	var listErr error
	var err = s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(objs *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range objs.Contents {
			if strings.HasSuffix(*obj.Key, "/") {
				continue // Ignore directory-like objects.
			}
			if listErr = callback(strings.TrimPrefix(*obj.Key, prefix), *obj.LastModified); listErr != nil {
				return false
			}
		}
		return true
	})
	if listErr != nil {
		return listErr
	}
	return err
}

func (s *sink) Remove(ctx context.Context, path string) error {
	var _, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(path),
	})
	return err
}

func (s *sink) IsAuthError(err error) bool {
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchBucket, s3ErrCodeAccessDenied:
			return true
		}
	}
	if awsErr, ok := err.(awserr.RequestFailure); ok && awsErr.StatusCode() == http.StatusForbidden {
		return true
	}
	return false
}

// AWS S3 error codes not defined as constants in the SDK.
const s3ErrCodeAccessDenied = "AccessDenied"
