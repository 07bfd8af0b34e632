// Package webhook implements http:// and https:// sinks, which PUT delivered
// content to paths beneath a base URL of an HTTP service. Requests carry a
// bearer token signed with pre-shared keys, which the service may verify
// using Keys.Verify.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/sinks"
)

// SinkQueryArgs contains fields that are parsed from the query arguments
// of a webhook sink URL.
type SinkQueryArgs struct {
	// KeysEnv names an environment variable holding base64 signing keys,
	// separated by whitespace or commas. If empty, requests are unsigned.
	KeysEnv string
	// TokenSeconds is the lifetime of request tokens. Defaults to 300.
	TokenSeconds int
}

// StatusError is an unexpected HTTP response status of a webhook request.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Status)
}

type sink struct {
	base   *url.URL
	keys   *Keys
	ttl    time.Duration
	client *http.Client
}

// New creates a new webhook Sink from the provided URL, of form
// https://host/base/path/?KeysEnv=TALUS_WEBHOOK_KEYS.
func New(ep *url.URL) (sinks.Sink, error) {
	var args = SinkQueryArgs{TokenSeconds: 300}
	if err := sinks.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	} else if ep.Host == "" {
		return nil, errors.Errorf("webhook URL %s is missing a host", ep.Redacted())
	} else if args.TokenSeconds <= 0 {
		return nil, errors.Errorf("invalid TokenSeconds %d", args.TokenSeconds)
	}

	var keys *Keys
	if args.KeysEnv != "" {
		var encoded = os.Getenv(args.KeysEnv)
		if encoded == "" {
			return nil, errors.Errorf("environment variable %s is empty", args.KeysEnv)
		}
		var err error
		if keys, err = ParseKeys(encoded); err != nil {
			return nil, errors.WithMessagef(err, "parsing %s", args.KeysEnv)
		}
	}
	return NewWithClient(ep, keys, time.Duration(args.TokenSeconds)*time.Second, http.DefaultClient), nil
}

// NewWithClient returns a webhook Sink rooted at |ep| which signs requests
// with |keys| (if non-nil), and issues them with |client|.
func NewWithClient(ep *url.URL, keys *Keys, ttl time.Duration, client *http.Client) sinks.Sink {
	var base = &url.URL{Scheme: ep.Scheme, User: ep.User, Host: ep.Host, Path: ep.Path}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	log.WithFields(log.Fields{
		"base":   base.Redacted(),
		"signed": keys != nil,
	}).Info("constructed webhook sink")

	return &sink{base: base, keys: keys, ttl: ttl, client: client}
}

func (s *sink) Provider() string { return "webhook" }

func (s *sink) url(path string) string {
	var u = *s.base
	u.Path += strings.TrimPrefix(path, "/")
	return u.String()
}

func (s *sink) SignGet(path string, d time.Duration) (string, error) {
	if sinks.DisableSignedUrls || s.keys == nil {
		return s.url(path), nil
	}
	var token, err = s.keys.Sign(path, d)
	if err != nil {
		return "", err
	}
	return s.url(path) + "?" + url.Values{"token": {token}}.Encode(), nil
}

func (s *sink) do(ctx context.Context, method, path string, body io.Reader, size int64, encoding string) (*http.Response, error) {
	var req, err = http.NewRequestWithContext(ctx, method, s.url(path), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = size
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if s.keys != nil {
		var token string
		if token, err = s.keys.Sign(path, s.ttl); err != nil {
			return nil, errors.WithMessage(err, "signing request")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.client.Do(req)
}

func statusError(resp *http.Response) error {
	return &StatusError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
}

func (s *sink) Exists(ctx context.Context, path string) (bool, error) {
	var resp, err = s.do(ctx, http.MethodHead, path, nil, 0, "")
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode/100 == 2:
		return true, nil
	default:
		return false, statusError(resp)
	}
}

func (s *sink) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var resp, err = s.do(ctx, http.MethodGet, path, nil, 0, "")
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, errors.Errorf("path not found: %s", path)
	case resp.StatusCode/100 != 2:
		_ = resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

func (s *sink) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var resp, err = s.do(ctx, http.MethodPut, path,
		io.NewSectionReader(content, 0, contentLength), contentLength, contentEncoding)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return nil
}

func (s *sink) List(context.Context, string, func(string, time.Time) error) error {
	return errors.New("webhook sinks don't support listing")
}

func (s *sink) Remove(ctx context.Context, path string) error {
	var resp, err = s.do(ctx, http.MethodDelete, path, nil, 0, "")
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Errorf("path not found: %s", path)
	case resp.StatusCode/100 != 2:
		return statusError(resp)
	}
	return nil
}

func (s *sink) IsAuthError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}
