package sinks

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.talusdb.dev/core/catalog"
	"go.talusdb.dev/core/codecs"
	"go.talusdb.dev/core/publisher"
	"go.talusdb.dev/core/table"
)

func TestGetConstructsAndCachesSinks(t *testing.T) {
	defer restoreProviders(GetProviders())

	var constructed int
	RegisterProviders(map[string]Constructor{
		"memory": func(ep *url.URL) (Sink, error) {
			constructed++
			return NewMemorySink(ep), nil
		},
		"broken": func(ep *url.URL) (Sink, error) {
			return nil, errors.New("no credentials")
		},
	})

	var a, err = Get("memory://cache-test/one/")
	require.NoError(t, err)
	require.Equal(t, "memory://cache-test/one/", a.Key)
	require.Equal(t, "memory", a.Provider())

	b, err := Get("memory://cache-test/one/")
	require.NoError(t, err)
	require.True(t, a == b)
	require.Equal(t, 1, constructed)

	_, err = Get("memory://cache-test/two/")
	require.NoError(t, err)
	require.Equal(t, 2, constructed)

	_, err = Get("broken://bucket/")
	require.EqualError(t, err, "constructing broken sink: no credentials")
	_, err = Get("ftp://host/")
	require.EqualError(t, err, `unsupported sink scheme: "ftp"`)
	_, err = Get("memory://bad host/")
	require.Error(t, err)

	// Purged sinks are re-constructed.
	Purge()
	_, err = Get("memory://cache-test/one/")
	require.NoError(t, err)
	require.Equal(t, 3, constructed)
}

func TestGetEvictsLeastRecentlyUsed(t *testing.T) {
	defer restoreProviders(GetProviders())
	defer Purge()
	RegisterProviders(map[string]Constructor{"memory": NewMemory})

	var first, err = Get("memory://evict/0/")
	require.NoError(t, err)

	for i := 1; i <= CacheSize; i++ {
		_, err = Get("memory://evict/" + strings.Repeat("x", i) + "/")
		require.NoError(t, err)
	}
	again, err := Get("memory://evict/0/")
	require.NoError(t, err)
	require.False(t, first == again)
}

func TestActiveSinkInstrumentsOperations(t *testing.T) {
	var ctx = context.Background()
	var putErr = errors.New("quota exceeded")
	var failPut = true

	var cb = &callbackSink{
		putFunc: func(_ context.Context, path string, _ io.ReaderAt, _ int64, _ string) error {
			if failPut {
				return putErr
			}
			return nil
		},
		listFunc: func(_ context.Context, prefix string, cb func(string, time.Time) error) error {
			for _, p := range []string{"a", "b", "c"} {
				if err := cb(p, time.Time{}); err != nil {
					return err
				}
			}
			return nil
		},
		isAuthErrorFunc: func(err error) bool { return err == putErr },
	}
	var s = NewActiveSink("callback://instrumented/", cb)
	require.Equal(t, "callback", s.Provider())

	require.Equal(t, putErr, s.Put(ctx, "p", strings.NewReader("xyz"), 3, ""))
	require.True(t, s.IsAuthError(putErr))
	failPut = false
	require.NoError(t, s.Put(ctx, "p", strings.NewReader("xyz"), 3, "gzip"))

	var listed []string
	require.NoError(t, s.List(ctx, "", func(p string, _ time.Time) error {
		listed = append(listed, p)
		return nil
	}))
	require.Equal(t, []string{"a", "b", "c"}, listed)

	ok, err := s.Exists(ctx, "p")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.Remove(ctx, "p"))

	signed, err := s.SignGet("p", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "callback:///p", signed)
	rc, err := s.Get(ctx, "p")
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	require.Equal(t, 1.0, testutil.ToFloat64(sinkOperationTotal.WithLabelValues(s.Key, "put", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sinkOperationTotal.WithLabelValues(s.Key, "put", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sinkOperationTotal.WithLabelValues(s.Key, "list", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sinkOperationTotal.WithLabelValues(s.Key, "exists", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sinkOperationTotal.WithLabelValues(s.Key, "signget", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sinkOperationTotal.WithLabelValues(s.Key, "get", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sinkOperationTotal.WithLabelValues(s.Key, "remove", "success")))
	require.Equal(t, 3.0, testutil.ToFloat64(sinkPutBytesTotal.WithLabelValues(s.Key, "gzip")))
	require.Equal(t, 0.0, testutil.ToFloat64(sinkPutBytesTotal.WithLabelValues(s.Key, "none")))
}

func TestMemorySink(t *testing.T) {
	var ctx = context.Background()
	var m = NewMemorySink(mustParseURL("memory://test/prefix/"))

	require.NoError(t, m.Put(ctx, "t/2", strings.NewReader("two"), 3, ""))
	require.NoError(t, m.Put(ctx, "t/1", strings.NewReader("one"), 3, "gzip"))
	require.NoError(t, m.Put(ctx, "u/1", strings.NewReader(""), 0, ""))

	ok, err := m.Exists(ctx, "t/1")
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := m.Get(ctx, "t/1")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	require.Equal(t, "one", string(b))
	require.Equal(t, "gzip", m.Encodings["t/1"])

	_, err = m.Get(ctx, "missing")
	require.EqualError(t, err, "path not found: missing")

	var listed []string
	require.NoError(t, m.List(ctx, "t/", func(p string, _ time.Time) error {
		listed = append(listed, p)
		return nil
	}))
	require.Equal(t, []string{"1", "2"}, listed)

	signed, err := m.SignGet("t/1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "memory://test/prefix/t/1", signed)

	require.NoError(t, m.Remove(ctx, "t/1"))
	require.Equal(t, []string{"t/2", "u/1"}, m.Paths())
}

func TestDelivererWritesCompressedDocuments(t *testing.T) {
	defer func(fn func() time.Time) { timeNow = fn }(timeNow)
	timeNow = func() time.Time { return time.Unix(1700000000, 42) }

	type Reading struct {
		Sensor string
		Value  float64
	}

	for _, codec := range []codecs.Codec{codecs.NONE, codecs.GZIP, codecs.SNAPPY, codecs.ZSTANDARD} {
		var m = NewMemorySink(mustParseURL("memory://deliverer/"))
		var d, err = NewDeliverer(m, codec)
		require.NoError(t, err)

		ok, err := d.Deliver(context.Background(), "readings", Reading{Sensor: "a1", Value: 2.5})
		require.NoError(t, err)
		require.True(t, ok)

		var paths = m.Paths()
		require.Len(t, paths, 1)
		require.True(t, strings.HasPrefix(paths[0], "readings/1700000000000000042-"), paths[0])
		require.True(t, strings.HasSuffix(paths[0], ".json"+codec.Extension()), paths[0])
		require.Equal(t, codec.ContentEncoding(), m.Encodings[paths[0]])

		r, err := codecs.NewCodecReader(strings.NewReader(string(m.Content[paths[0]])), codec)
		require.NoError(t, err)
		doc, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, `{"Sensor":"a1","Value":2.5}`+"\n", string(doc))
	}

	var _, err = NewDeliverer(NewMemorySink(nil), codecs.Codec(42))
	require.Error(t, err)
}

func TestDelivererReportsFailures(t *testing.T) {
	var putErr = errors.New("connection reset")
	var exists bool
	var existsCalls int

	var cb = &callbackSink{
		putFunc: func(context.Context, string, io.ReaderAt, int64, string) error {
			return putErr
		},
		existsFunc: func(context.Context, string) (bool, error) {
			existsCalls++
			return exists, nil
		},
	}
	var d, err = NewDeliverer(cb, codecs.NONE)
	require.NoError(t, err)

	ok, err := d.Deliver(context.Background(), "t", map[string]int{"a": 1})
	require.False(t, ok)
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, 1, existsCalls)

	// A failed Put whose content was nonetheless written is a delivery.
	exists = true
	ok, err = d.Deliver(context.Background(), "t", map[string]int{"a": 1})
	require.NoError(t, err)
	require.True(t, ok)

	// Authorization failures are reported without checking for content.
	cb.isAuthErrorFunc = func(err error) bool { return err == putErr }
	ok, err = d.Deliver(context.Background(), "t", map[string]int{"a": 1})
	require.False(t, ok)
	require.ErrorIs(t, err, putErr)
	require.Equal(t, 2, existsCalls)

	// Unencodable items fail without a Put.
	ok, err = d.Deliver(context.Background(), "t", make(chan int))
	require.False(t, ok)
	require.ErrorContains(t, err, "encoding item")
}

func TestDeliveryPathsOrderOnTime(t *testing.T) {
	var id = uuid.MustParse("3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	var early = DeliveryPath("t", time.Unix(9, 0), id, codecs.NONE)
	var late = DeliveryPath("t", time.Unix(10, 0), id, codecs.GZIP)

	require.Equal(t, "t/0000000009000000000-3f2504e0-4f89-11d3-9a0c-0305e82c3301.json", early)
	require.Equal(t, "t/0000000010000000000-3f2504e0-4f89-11d3-9a0c-0305e82c3301.json.gz", late)
	require.Less(t, early, late)
}

func TestPublisherDeliversToSink(t *testing.T) {
	type Event struct {
		Code int
		Text string
	}
	var db, err = catalog.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	events, err := catalog.CreateVariable[Event](db, "events", 128, table.Options{})
	require.NoError(t, err)

	var m = NewMemorySink(mustParseURL("memory://publish/"))
	d, err := NewDeliverer(m, codecs.GZIP)
	require.NoError(t, err)

	var pub = publisher.New(db, d, publisher.Config{})
	go pub.Serve()
	defer pub.Finish()

	for i := 0; i != 5; i++ {
		require.NoError(t, events.Insert(Event{Code: i, Text: "ok"}))
	}
	require.Eventually(t, func() bool {
		return events.Count() == 0 && len(m.Paths()) == 5
	}, 5*time.Second, time.Millisecond)

	for _, p := range m.Paths() {
		require.True(t, strings.HasPrefix(p, "events/"))
	}
}

func restoreProviders(providers map[string]Constructor) {
	sinksMu.Lock()
	constructors = providers
	sinksMu.Unlock()
	Purge()
}

func mustParseURL(s string) *url.URL {
	var u, err = url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

var _ publisher.Deliverer = (*Deliverer)(nil)
