package sinks

import (
	"context"
	"io"
	"time"
)

// ActiveSink wraps a Sink with operation instrumentation.
type ActiveSink struct {
	Key  string // URL from which the ActiveSink was built.
	Sink Sink
}

// NewActiveSink returns an ActiveSink of |sink|, labeled with |key|.
// Use Get() for cached construction from a URL.
func NewActiveSink(key string, sink Sink) *ActiveSink {
	return &ActiveSink{Key: key, Sink: sink}
}

// Provider of the wrapped Sink.
func (s *ActiveSink) Provider() string { return s.Sink.Provider() }

// SignGet returns a URL which may be used to GET |path| for duration |d|.
func (s *ActiveSink) SignGet(path string, d time.Duration) (string, error) {
	var started = time.Now()
	var signed, err = s.Sink.SignGet(path, d)
	s.observe("signget", started, err)
	return signed, err
}

// Exists checks if content exists at the given path.
func (s *ActiveSink) Exists(ctx context.Context, path string) (bool, error) {
	var started = time.Now()
	var exists, err = s.Sink.Exists(ctx, path)
	s.observe("exists", started, err)
	return exists, err
}

// Get returns an io.ReadCloser for content at the given path.
func (s *ActiveSink) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var started = time.Now()
	var rc, err = s.Sink.Get(ctx, path)
	s.observe("get", started, err)
	return rc, err
}

// Put durably writes content to the sink at the given path.
func (s *ActiveSink) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var started = time.Now()
	var err = s.Sink.Put(ctx, path, content, contentLength, contentEncoding)
	s.observe("put", started, err)

	if err == nil && contentLength > 0 {
		var encoding = contentEncoding
		if encoding == "" {
			encoding = "none"
		}
		sinkPutBytesTotal.WithLabelValues(s.Key, encoding).Add(float64(contentLength))
	}
	return err
}

// List enumerates all objects under the given prefix.
func (s *ActiveSink) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var started = time.Now()
	var count int64

	var err = s.Sink.List(ctx, prefix, func(path string, modTime time.Time) error {
		count++
		return callback(path, modTime)
	})
	s.observe("list", started, err)
	sinkListItems.WithLabelValues(s.Key).Observe(float64(count))

	return err
}

// Remove content at the given path.
func (s *ActiveSink) Remove(ctx context.Context, path string) error {
	var started = time.Now()
	var err = s.Sink.Remove(ctx, path)
	s.observe("remove", started, err)
	return err
}

// IsAuthError defers to the wrapped Sink.
func (s *ActiveSink) IsAuthError(err error) bool { return s.Sink.IsAuthError(err) }

func (s *ActiveSink) observe(op string, started time.Time, err error) {
	var status = "success"
	if err != nil {
		status = "error"
	}
	sinkOperationTotal.WithLabelValues(s.Key, op, status).Inc()
	sinkOperationDuration.WithLabelValues(s.Key, op, status).Observe(time.Since(started).Seconds())
}

var _ Sink = (*ActiveSink)(nil)
