// Package sinks provides an abstraction over the storage systems to which
// publishers deliver table records. Sinks are addressed by URL, where the URL
// scheme selects the provider and its path is a prefix under which content
// is written:
//
//	memory://anything/prefix/
//	file:///var/lib/talus/outbox/
//	s3://bucket/prefix/?Region=us-east-1
//	gs://bucket/prefix/
//	azure://container/prefix/
//	azure-ad://tenant-id/storage-account/container/prefix/
//	sqlite:///var/lib/talus/outbox.db?Table=deliveries
//	postgres://user@host/database?sslmode=disable&Table=deliveries
//	https://hooks.example.com/talus/?KeysEnv=TALUS_WEBHOOK_KEYS
//
// Provider packages register their constructors with RegisterProviders.
package sinks

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
)

// Sink provides an abstraction over storage systems for delivered records.
type Sink interface {
	// Provider returns the name of the storage backend (e.g., "s3", "gcs", "azure", "fs").
	Provider() string

	// SignGet returns a URL which may be used to GET |path| for duration |d|.
	SignGet(path string, d time.Duration) (string, error)

	// Exists checks if content exists at the given path.
	Exists(ctx context.Context, path string) (bool, error)

	// Get returns an io.ReadCloser for raw content at the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Put durably writes content to the sink at the given path.
	// contentEncoding is set as the content's encoding, where the backend
	// supports it (eg, "gzip" for compressed content).
	Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error

	// List enumerates all objects under the given prefix, invoking the
	// callback with each path relative to the prefix. If the callback
	// returns an error, listing is terminated and that error is returned.
	List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error

	// Remove deletes content at the given path.
	Remove(ctx context.Context, path string) error

	// IsAuthError returns true if the error represents an authorization
	// failure (e.g., missing permissions, bucket not found, access denied).
	IsAuthError(error) bool
}

// Constructor is a function that creates a Sink instance from a URL.
type Constructor func(*url.URL) (Sink, error)

// DisableSignedUrls returns unsigned URLs from SignGet, for backends which
// otherwise sign them.
var DisableSignedUrls = false

// ParseQueryArgs decodes the query arguments of |ep| into the struct |args|.
// Unknown arguments are an error.
func ParseQueryArgs(ep *url.URL, args interface{}) error {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	if q, err := url.ParseQuery(ep.RawQuery); err != nil {
		return err
	} else if err = decoder.Decode(args, q); err != nil {
		return errors.WithMessage(err, "parsing sink URL arguments")
	}
	return nil
}

// BucketAndPrefix splits the host and path of |ep| into a bucket (or
// container) and an object prefix. The prefix is empty or ends in '/'.
func BucketAndPrefix(ep *url.URL) (bucket, prefix string, err error) {
	if ep.Host == "" {
		return "", "", errors.Errorf("sink URL %s is missing a bucket", ep.Redacted())
	}
	prefix = ep.Path
	if len(prefix) != 0 && prefix[0] == '/' {
		prefix = prefix[1:]
	}
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return ep.Host, prefix, nil
}
