package sinks

import (
	"context"
	"io"
	"strings"
	"time"
)

// callbackSink is a Sink of test callbacks. Operations without a callback
// succeed without effect.
type callbackSink struct {
	putFunc         func(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error
	existsFunc      func(ctx context.Context, path string) (bool, error)
	listFunc        func(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error
	isAuthErrorFunc func(error) bool
}

func (c *callbackSink) Provider() string { return "callback" }

func (c *callbackSink) SignGet(path string, _ time.Duration) (string, error) {
	return "callback:///" + path, nil
}

func (c *callbackSink) Exists(ctx context.Context, path string) (bool, error) {
	if c.existsFunc != nil {
		return c.existsFunc(ctx, path)
	}
	return false, nil
}

func (c *callbackSink) Get(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (c *callbackSink) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	if c.putFunc != nil {
		return c.putFunc(ctx, path, content, contentLength, contentEncoding)
	}
	return nil
}

func (c *callbackSink) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	if c.listFunc != nil {
		return c.listFunc(ctx, prefix, callback)
	}
	return nil
}

func (c *callbackSink) Remove(context.Context, string) error { return nil }

func (c *callbackSink) IsAuthError(err error) bool {
	return c.isAuthErrorFunc != nil && c.isAuthErrorFunc(err)
}
