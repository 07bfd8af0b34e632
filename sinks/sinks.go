package sinks

import (
	"net/url"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheSize bounds the number of constructed sinks retained by Get.
const CacheSize = 32

var (
	constructors = make(map[string]Constructor)
	cache        = mustNewCache(CacheSize)
	sinksMu      sync.RWMutex
)

// RegisterProviders registers sink constructors for URL schemes.
// This should be called during initialization to register all available sink types.
func RegisterProviders(providers map[string]Constructor) {
	sinksMu.Lock()
	defer sinksMu.Unlock()

	for scheme, constructor := range providers {
		constructors[scheme] = constructor
	}
}

// GetProviders returns a copy of the currently registered sink constructors.
// This is useful for tests that need to preserve and restore providers.
func GetProviders() map[string]Constructor {
	sinksMu.RLock()
	defer sinksMu.RUnlock()

	var out = make(map[string]Constructor, len(constructors))
	for scheme, constructor := range constructors {
		out[scheme] = constructor
	}
	return out
}

// Get returns an ActiveSink for the sink URL |rawURL|. Constructed sinks
// are cached, and the least-recently used are evicted beyond CacheSize.
// Construction errors are not cached.
func Get(rawURL string) (*ActiveSink, error) {
	var ep, err = url.Parse(rawURL)
	if err != nil {
		return nil, errors.WithMessage(err, "parsing sink URL")
	}
	var key = ep.String()

	if v, ok := cache.Get(key); ok {
		return v.(*ActiveSink), nil
	}

	sinksMu.Lock()
	defer sinksMu.Unlock()

	// Double-check after acquiring the lock.
	if v, ok := cache.Get(key); ok {
		return v.(*ActiveSink), nil
	}

	constructor, ok := constructors[ep.Scheme]
	if !ok {
		return nil, errors.Errorf("unsupported sink scheme: %q", ep.Scheme)
	}
	sink, err := constructor(ep)
	if err != nil {
		return nil, errors.WithMessagef(err, "constructing %s sink", ep.Scheme)
	}

	var active = NewActiveSink(key, sink)
	cache.Add(key, active)
	activeSinks.Set(float64(cache.Len()))

	return active, nil
}

// Purge drops all cached sinks.
func Purge() {
	cache.Purge()
	activeSinks.Set(0)
}

func mustNewCache(size int) *lru.Cache {
	var c, err = lru.New(size)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return c
}

var (
	activeSinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "talus_sink_active",
		Help: "Number of cached sinks",
	})

	sinkOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "talus_sink_operation_duration_seconds",
		Help:    "Duration of sink operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
	}, []string{"sink", "operation", "status"})

	sinkOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talus_sink_operation_total",
		Help: "Total number of sink operations",
	}, []string{"sink", "operation", "status"})

	sinkPutBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talus_sink_put_bytes_total",
		Help: "Total bytes of content written to sinks",
	}, []string{"sink", "encoding"})

	sinkListItems = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "talus_sink_list_items_count",
		Help:    "Number of items returned by list operations",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1 to ~32k items
	}, []string{"sink"})
)
