package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.talusdb.dev/core/sinks"
)

// testKeys are base64 of "first-secret" and "second-secret".
const testKeys = "Zmlyc3Qtc2VjcmV0, c2Vjb25kLXNlY3JldA=="

// contentServer is a minimal content store which verifies request tokens.
type contentServer struct {
	keys *Keys

	mu        sync.Mutex
	content   map[string]string
	encodings map[string]string
}

func (cs *contentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var path = strings.TrimPrefix(r.URL.Path, "/base/")

	var token = r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if err := cs.keys.Verify(token, path); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	var body, ok = cs.content[path]
	switch r.Method {
	case http.MethodPut:
		var b, _ = io.ReadAll(r.Body)
		cs.content[path] = string(b)
		cs.encodings[path] = r.Header.Get("Content-Encoding")
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet, http.MethodHead:
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	case http.MethodDelete:
		if !ok {
			http.NotFound(w, r)
			return
		}
		delete(cs.content, path)
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestSinkRoundTrip(t *testing.T) {
	var keys, err = ParseKeys(testKeys)
	require.NoError(t, err)

	var cs = &contentServer{
		keys:      keys,
		content:   make(map[string]string),
		encodings: make(map[string]string),
	}
	var srv = httptest.NewServer(cs)
	defer srv.Close()

	var ctx = context.Background()
	var ep, _ = url.Parse(srv.URL + "/base")
	var s = NewWithClient(ep, keys, time.Minute, srv.Client())
	require.Equal(t, "webhook", s.Provider())

	require.NoError(t, s.Put(ctx, "readings/0001.json.gz", strings.NewReader("zipped"), 6, "gzip"))
	require.Equal(t, "zipped", cs.content["readings/0001.json.gz"])
	require.Equal(t, "gzip", cs.encodings["readings/0001.json.gz"])

	ok, err := s.Exists(ctx, "readings/0001.json.gz")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Exists(ctx, "readings/0002.json")
	require.NoError(t, err)
	require.False(t, ok)

	rc, err := s.Get(ctx, "readings/0001.json.gz")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "zipped", string(b))

	_, err = s.Get(ctx, "missing")
	require.EqualError(t, err, "path not found: missing")

	// Signed URLs are accepted by the server without an Authorization header.
	signed, err := s.SignGet("readings/0001.json.gz", time.Minute)
	require.NoError(t, err)
	require.Contains(t, signed, "?token=")
	resp, err := srv.Client().Get(signed)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	sinks.DisableSignedUrls = true
	unsigned, err := s.SignGet("readings/0001.json.gz", time.Minute)
	sinks.DisableSignedUrls = false
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/base/readings/0001.json.gz", unsigned)

	require.NoError(t, s.Remove(ctx, "readings/0001.json.gz"))
	require.EqualError(t, s.Remove(ctx, "readings/0001.json.gz"), "path not found: readings/0001.json.gz")

	require.Error(t, s.List(ctx, "readings/", func(string, time.Time) error { return nil }))
}

func TestUnauthorizedRequests(t *testing.T) {
	var keys, err = ParseKeys(testKeys)
	require.NoError(t, err)
	var srv = httptest.NewServer(&contentServer{keys: keys})
	defer srv.Close()

	var ep, _ = url.Parse(srv.URL + "/base/")

	// Tokens signed by an unknown key are rejected.
	other, err := ParseKeys("b3RoZXItc2VjcmV0") // "other-secret"
	require.NoError(t, err)
	var s = NewWithClient(ep, other, time.Minute, srv.Client())

	err = s.Put(context.Background(), "a.json", strings.NewReader("{}"), 2, "")
	require.True(t, s.IsAuthError(err))
	require.Contains(t, err.Error(), "401 Unauthorized")

	// As are unsigned requests.
	s = NewWithClient(ep, nil, time.Minute, srv.Client())
	_, err = s.Exists(context.Background(), "a.json")
	require.True(t, s.IsAuthError(err))

	require.False(t, s.IsAuthError(&StatusError{StatusCode: http.StatusInternalServerError}))
	require.False(t, s.IsAuthError(io.EOF))
}

func TestKeys(t *testing.T) {
	var keys, err = ParseKeys(testKeys)
	require.NoError(t, err)
	require.Len(t, keys.Keys, 2)

	token, err := keys.Sign("some/path", time.Minute)
	require.NoError(t, err)
	require.NoError(t, keys.Verify(token, "some/path"))
	require.Error(t, keys.Verify(token, "other/path"))

	// Tokens signed by the second key also verify.
	second, err := ParseKeys("c2Vjb25kLXNlY3JldA==")
	require.NoError(t, err)
	token, err = second.Sign("some/path", time.Minute)
	require.NoError(t, err)
	require.NoError(t, keys.Verify(token, "some/path"))

	// Expired tokens don't.
	token, err = keys.Sign("some/path", -time.Minute)
	require.NoError(t, err)
	require.Error(t, keys.Verify(token, "some/path"))

	_, err = ParseKeys("")
	require.EqualError(t, err, "at least one key must be provided")
	_, err = ParseKeys("not-base64!")
	require.Error(t, err)
}

func TestNewFromURL(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_KEYS", testKeys)

	var s, err = New(mustParse("https://hooks.example.com/talus?KeysEnv=TEST_WEBHOOK_KEYS&TokenSeconds=60"))
	require.NoError(t, err)
	require.Equal(t, time.Minute, s.(*sink).ttl)
	require.Equal(t, "https://hooks.example.com/talus/a/b.json", s.(*sink).url("a/b.json"))

	_, err = New(mustParse("https://hooks.example.com/?KeysEnv=TEST_MISSING_KEYS"))
	require.EqualError(t, err, "environment variable TEST_MISSING_KEYS is empty")
	_, err = New(mustParse("https://hooks.example.com/?TokenSeconds=0"))
	require.EqualError(t, err, "invalid TokenSeconds 0")
	_, err = New(mustParse("https:///path"))
	require.Error(t, err)
	_, err = New(mustParse("https://hooks.example.com/?Other=1"))
	require.ErrorContains(t, err, "parsing sink URL arguments")
}

func mustParse(s string) *url.URL {
	var u, err = url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}
