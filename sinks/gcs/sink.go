// Package gcs implements gs:// sinks, which write delivered content as
// objects of a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/sinks"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// SinkQueryArgs contains fields that are parsed from the query arguments
// of a gs:// sink URL.
type SinkQueryArgs struct {
	// StorageClass of delivered objects. If empty, the bucket default is used.
	StorageClass string
	// ChunkSize of resumable uploads. Zero uploads in a single request,
	// which suits small delivered documents.
	ChunkSize int
}

type sink struct {
	bucket           string
	prefix           string
	args             SinkQueryArgs
	client           *storage.Client
	signedURLOptions storage.SignedURLOptions
}

// credentialsFile identifies external-account (workload identity) credentials.
type credentialsFile struct {
	Type string `json:"type"`
}

// New creates a new GCS Sink from the provided URL.
func New(ep *url.URL) (sinks.Sink, error) {
	var args SinkQueryArgs
	if err := sinks.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	var bucket, prefix, err = sinks.BucketAndPrefix(ep)
	if err != nil {
		return nil, err
	}
	var ctx = context.Background()

	creds, err := google.FindDefaultCredentials(ctx, storage.ScopeFullControl)
	if err != nil {
		return nil, err
	}
	var externalAccount bool
	if creds.JSON != nil {
		var f credentialsFile
		if err := json.Unmarshal(creds.JSON, &f); err == nil {
			externalAccount = f.Type == "external_account"
		}
	}

	var client *storage.Client
	var opts storage.SignedURLOptions

	if creds.JSON != nil && !externalAccount {
		conf, err := google.JWTConfigFromJSON(creds.JSON, storage.ScopeFullControl)
		if err != nil {
			return nil, err
		}
		if client, err = storage.NewClient(ctx, option.WithTokenSource(conf.TokenSource(ctx))); err != nil {
			return nil, err
		}
		opts = storage.SignedURLOptions{
			GoogleAccessID: conf.Email,
			PrivateKey:     conf.PrivateKey,
		}

		log.WithFields(log.Fields{
			"projectID":      creds.ProjectID,
			"googleAccessID": conf.Email,
			"privateKeyID":   conf.PrivateKeyID,
			"bucket":         bucket,
			"prefix":         prefix,
		}).Info("constructed new GCS sink")
	} else {
		// Without a service account (eg, GCE with workload identity), SignGet
		// requires "iam.serviceAccounts.signBlob" permission.
		if client, err = storage.NewClient(ctx, option.WithTokenSource(creds.TokenSource)); err != nil {
			return nil, err
		}

		log.WithFields(log.Fields{
			"projectID": creds.ProjectID,
			"bucket":    bucket,
			"prefix":    prefix,
		}).Info("constructed new GCS sink without JWT")
	}

	return &sink{
		bucket:           bucket,
		prefix:           prefix,
		args:             args,
		client:           client,
		signedURLOptions: opts,
	}, nil
}

func (s *sink) Provider() string { return "gcs" }

func (s *sink) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + path)
}

func (s *sink) SignGet(path string, d time.Duration) (string, error) {
	if sinks.DisableSignedUrls {
		var u = url.URL{
			Scheme: "https",
			Host:   "storage.googleapis.com",
			Path:   "/" + s.bucket + "/" + s.prefix + path,
		}
		return u.String(), nil
	}
	var opts = s.signedURLOptions
	opts.Method = "GET"
	opts.Expires = time.Now().Add(d)

	return storage.SignedURL(s.bucket, s.prefix+path, &opts)
}

func (s *sink) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.object(path).Attrs(ctx)
	if err == nil {
		return true, nil
	} else if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}

func (s *sink) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.object(path).ReadCompressed(true).NewReader(ctx)
}

func (s *sink) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wc = s.object(path).NewWriter(ctx)
	s.configureWriter(wc, contentEncoding)

	if _, err := io.Copy(wc, io.NewSectionReader(content, 0, contentLength)); err != nil {
		return err // |cancel| aborts the upload.
	}
	return wc.Close()
}

func (s *sink) configureWriter(wc *storage.Writer, contentEncoding string) {
	wc.ContentType = "application/json"
	wc.ContentEncoding = contentEncoding
	wc.StorageClass = s.args.StorageClass
	wc.ChunkSize = s.args.ChunkSize
}

func (s *sink) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = s.prefix + prefix

	var it = s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		var obj, err = it.Next()
		if err == iterator.Done {
			return nil
		} else if err != nil {
			return err
		} else if strings.HasSuffix(obj.Name, "/") {
			continue // Ignore directory-like objects.
		}
		if err = callback(strings.TrimPrefix(obj.Name, prefix), obj.Updated); err != nil {
			return err
		}
	}
}

func (s *sink) Remove(ctx context.Context, path string) error {
	return s.object(path).Delete(ctx)
}

func (s *sink) IsAuthError(err error) bool {
	if err == nil {
		return false
	} else if errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusForbidden:
			return true
		case http.StatusNotFound:
			// Bucket-level 404s are authorization failures. Object-level are not.
			return strings.Contains(gErr.Message, "bucket")
		}
	}
	return false
}
