package sinks

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemorySink is an in-memory implementation of Sink for testing.
type MemorySink struct {
	URL       *url.URL
	Content   map[string][]byte
	Encodings map[string]string
	ModTimes  map[string]time.Time
	mu        sync.RWMutex
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink(ep *url.URL) *MemorySink {
	return &MemorySink{
		URL:       ep,
		Content:   make(map[string][]byte),
		Encodings: make(map[string]string),
		ModTimes:  make(map[string]time.Time),
	}
}

// NewMemory is a Constructor of MemorySinks.
func NewMemory(ep *url.URL) (Sink, error) { return NewMemorySink(ep), nil }

func (m *MemorySink) Provider() string { return "memory" }

func (m *MemorySink) SignGet(path string, _ time.Duration) (string, error) {
	var u = m.URL.JoinPath(path)
	u.Scheme = "memory"
	return u.String(), nil
}

func (m *MemorySink) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var _, exists = m.Content[path]
	return exists, nil
}

func (m *MemorySink) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var content, exists = m.Content[path]
	if !exists {
		return nil, errors.Errorf("path not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MemorySink) Put(_ context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var buf = make([]byte, contentLength)
	if _, err := content.ReadAt(buf, 0); err != nil && !(err == io.EOF && contentLength == 0) {
		return errors.WithMessage(err, "reading content")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Content[path] = buf
	m.Encodings[path] = contentEncoding
	m.ModTimes[path] = time.Now()
	return nil
}

// List enumerates content under |prefix| in lexicographic order.
func (m *MemorySink) List(_ context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	m.mu.RLock()
	var paths []string
	for p := range m.Content {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	var modTimes = make([]time.Time, len(paths))
	sort.Strings(paths)
	for i, p := range paths {
		modTimes[i] = m.ModTimes[p]
	}
	m.mu.RUnlock()

	for i, p := range paths {
		if err := callback(strings.TrimPrefix(p, prefix), modTimes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemorySink) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Content, path)
	delete(m.Encodings, path)
	delete(m.ModTimes, path)
	return nil
}

func (m *MemorySink) IsAuthError(error) bool { return false }

// Paths returns all paths of the MemorySink, in lexicographic order.
func (m *MemorySink) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out = make([]string, 0, len(m.Content))
	for p := range m.Content {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
