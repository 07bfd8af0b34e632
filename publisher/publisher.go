// Package publisher drains TalusDB tables to a slower downstream Deliverer.
//
// A Publisher wakes as records are added to its tables, or periodically,
// and drains each publication-enabled table oldest-first: a record is
// peeked, delivered, and removed only once delivery succeeds. Delivery is
// therefore at-least-once, bounded by each table's own overrun eviction.
package publisher

import (
	"context"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/metrics"
	"go.talusdb.dev/core/table"
)

// Deliverer delivers table records downstream. Deliver returns true if
// |item| was durably accepted, and the record may be removed from |tableName|.
// A false return or an error leaves the record in place to be retried.
type Deliverer interface {
	Deliver(ctx context.Context, tableName string, item any) (bool, error)
}

// DeliverFunc adapts a function to a Deliverer.
type DeliverFunc func(ctx context.Context, tableName string, item any) (bool, error)

// Deliver calls fn(ctx, tableName, item).
func (fn DeliverFunc) Deliver(ctx context.Context, tableName string, item any) (bool, error) {
	return fn(ctx, tableName, item)
}

// Source is a set of tables, which may grow over time.
// *catalog.DB is a Source.
type Source interface {
	// Tables returns the current tables of the Source.
	Tables() []table.Table
	// Watch calls |fn| with each table subsequently added to the Source.
	Watch(fn func(table.Table)) (cancel func())
}

// Config of a Publisher.
type Config struct {
	Name              string        `long:"name" env:"NAME" description:"Name of the publisher, used in logs. Defaults to a generated name"`
	PublicationPeriod time.Duration `long:"period" env:"PERIOD" default:"1m" description:"Interval at which tables are drained, absent new records"`
	DeliveryTimeout   time.Duration `long:"delivery-timeout" env:"DELIVERY_TIMEOUT" default:"30s" description:"Timeout of a single delivery attempt"`
}

const (
	defaultPublicationPeriod = time.Minute
	defaultDeliveryTimeout   = 30 * time.Second
)

// Publisher drains the tables of a Source to a Deliverer.
type Publisher struct {
	cfg       Config
	deliverer Deliverer

	wakeCh   chan struct{} // Signalled (non-blocking) as records are added.
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	tables  []table.Table
	cancels []func()

	// newTicker is swapped out by tests.
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// New returns a Publisher of the tables of |src|, including tables later
// added to it, which delivers to |d|.
func New(src Source, d Deliverer, cfg Config) *Publisher {
	if cfg.Name == "" {
		cfg.Name = petname.Generate(2, "-")
	}
	if cfg.PublicationPeriod <= 0 {
		cfg.PublicationPeriod = defaultPublicationPeriod
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}

	var p = &Publisher{
		cfg:       cfg,
		deliverer: d,
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			var t = time.NewTicker(d)
			return t.C, t.Stop
		},
	}

	if src != nil {
		p.cancels = append(p.cancels, src.Watch(p.AddTable))
		for _, tbl := range src.Tables() {
			p.AddTable(tbl)
		}
	}
	return p
}

// Name of the Publisher.
func (p *Publisher) Name() string { return p.cfg.Name }

// AddTable adds |tbl| to the Publisher, if it's not already present.
// The Publisher is woken as records are added to the table.
func (p *Publisher) AddTable(tbl table.Table) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cur := range p.tables {
		if cur == tbl {
			return
		}
	}
	p.tables = append(p.tables, tbl)
	p.cancels = append(p.cancels, tbl.Subscribe(func(ev table.Event) {
		if ev.Kind == table.ItemAdded {
			p.Wake()
		}
	}))

	log.WithFields(log.Fields{
		"publisher": p.cfg.Name,
		"table":     tbl.Name(),
	}).Debug("publishing table")
}

// Wake the Publisher, if it's not already awake.
func (p *Publisher) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default: // Already signalled.
	}
}

// Serve the Publisher until Finish is called.
func (p *Publisher) Serve() {
	var tickCh, stopTicker = p.newTicker(p.cfg.PublicationPeriod)
	defer stopTicker()
	defer close(p.doneCh)

	log.WithFields(log.Fields{
		"publisher": p.cfg.Name,
		"period":    p.cfg.PublicationPeriod,
	}).Info("publisher started")

	for {
		var reason string

		select {
		case <-p.wakeCh:
			reason = "item"
		case <-tickCh:
			reason = "period"
		case <-p.stopCh:
			log.WithField("publisher", p.cfg.Name).Info("publisher stopped")
			return
		}
		metrics.PublisherCyclesTotal.WithLabelValues(reason).Inc()

		for _, tbl := range p.snapshot() {
			if !tbl.PublicationEnabled() {
				continue
			}
			p.drain(tbl)
		}
	}
}

// Finish signals the Publisher to stop, and blocks until the current
// delivery attempt (if any) completes and Serve returns. Finish must be
// called after Serve has been started.
func (p *Publisher) Finish() {
	p.stopOnce.Do(func() {
		close(p.stopCh)

		p.mu.Lock()
		for _, cancel := range p.cancels {
			cancel()
		}
		p.cancels = nil
		p.mu.Unlock()
	})
	<-p.doneCh
}

func (p *Publisher) snapshot() []table.Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]table.Table(nil), p.tables...)
}

func (p *Publisher) stopping() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// drain delivers records of |tbl| until it's empty, a delivery fails, or
// the Publisher is stopping. A delivered record is removed only if it's
// still the oldest record: one evicted by a concurrent Insert during its
// delivery is not removed again.
func (p *Publisher) drain(tbl table.Table) {
	for tbl.Count() != 0 && !p.stopping() {
		var item, pos, ok, err = tbl.PeekItem()

		if errors.Is(err, table.ErrCorruptRecord) {
			log.WithFields(log.Fields{
				"publisher": p.cfg.Name,
				"table":     tbl.Name(),
				"offset":    pos.Offset,
				"err":       err,
			}).Error("dropping undecodable record")
			metrics.PublisherDroppedTotal.WithLabelValues(tbl.Name()).Inc()

			if _, err = tbl.RemoveItem(pos); err != nil {
				p.logTableError(tbl, err)
				return
			}
			continue
		} else if err != nil {
			p.logTableError(tbl, err)
			return
		} else if !ok {
			return
		}

		if !p.attemptDelivery(tbl.Name(), item) {
			return // Retry on next wake.
		}
		if ok, err = tbl.RemoveItem(pos); err != nil {
			p.logTableError(tbl, err)
			return
		} else if !ok {
			log.WithFields(log.Fields{
				"publisher": p.cfg.Name,
				"table":     tbl.Name(),
				"offset":    pos.Offset,
			}).Debug("delivered record was evicted during its delivery")
		}
	}
}

// attemptDelivery delivers |item|, returning whether it was accepted.
// Failures (including panics of the Deliverer) are logged and not propagated.
func (p *Publisher) attemptDelivery(tableName string, item any) (ok bool) {
	var ctx, cancel = context.WithTimeout(context.Background(), p.cfg.DeliveryTimeout)
	defer cancel()

	var started = time.Now()
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				ok, err = false, errors.Errorf("deliverer panic: %v", r)
			}
		}()
		ok, err = p.deliverer.Deliver(ctx, tableName, item)
	}()

	var status = metrics.Ok
	if err != nil || !ok {
		status = metrics.Fail

		log.WithFields(log.Fields{
			"publisher": p.cfg.Name,
			"table":     tableName,
			"err":       err,
		}).Warn("failed to deliver item (will retry)")
	}
	metrics.PublisherDeliveriesTotal.WithLabelValues(tableName, status).Inc()
	metrics.PublisherDeliverySeconds.WithLabelValues(status).Observe(time.Since(started).Seconds())

	return ok && err == nil
}

func (p *Publisher) logTableError(tbl table.Table, err error) {
	log.WithFields(log.Fields{
		"publisher": p.cfg.Name,
		"table":     tbl.Name(),
		"err":       err,
	}).Error("table operation failed (will retry)")
}
