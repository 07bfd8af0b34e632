package table

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/metrics"
)

// ring is the state shared by Fixed and Variable tables: the cached header,
// the file handle, latched overrun & underrun flags, watermarks, and event
// subscribers. All fields other than |obs| and |publish| are guarded by |mu|.
type ring struct {
	mu      sync.Mutex
	name    string
	path    string
	opts    Options
	file    *tableFile
	hdr     header
	gen     uint64 // Incremented each time the tail moves.
	wm      watermark
	closed  bool
	pending []Event // Events raised under |mu|, to be notified on unlock.

	// writeAt writes to the table file. Tests swap it to inject failures.
	writeAt func(f *os.File, b []byte, off int64) (int, error)

	hasOverrun  bool
	hasUnderrun bool

	obs     observers
	publish atomic.Bool
}

func createRing(path string, opts Options, hdr header) (*ring, error) {
	if err := hdr.checkSize(); err != nil {
		return nil, err
	}
	var file, err = createTableFile(path, opts.StreamBehavior, opts.SyncOnWrite, hdr)
	if err != nil {
		return nil, err
	}
	var r = newRing(path, opts, file, hdr)

	log.WithFields(log.Fields{
		"table":    r.name,
		"path":     path,
		"stride":   hdr.Stride,
		"capacity": hdr.Capacity,
		"block":    hdr.BlockSize,
	}).Debug("created table")

	return r, nil
}

func openRing(path string, opts Options) (*ring, error) {
	var file, hdr, err = openTableFile(path, opts.StreamBehavior, opts.SyncOnWrite)
	if err != nil {
		return nil, err
	}
	var r = newRing(path, opts, file, hdr)

	log.WithFields(log.Fields{
		"table":    r.name,
		"path":     path,
		"count":    hdr.Count,
		"capacity": hdr.Capacity,
	}).Debug("opened table")

	return r, nil
}

func newRing(path string, opts Options, file *tableFile, hdr header) *ring {
	var name = opts.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	var r = &ring{
		name: name,
		path: path,
		opts: opts,
		file:    file,
		hdr:     hdr,
		writeAt: (*os.File).WriteAt,
		wm: watermark{
			highLevel: int64(opts.HighWaterLevel),
			lowLevel:  int64(opts.LowWaterLevel),
		},
	}
	r.wm.init(hdr.Count)
	r.publish.Store(true)

	metrics.TableRecords.WithLabelValues(name).Set(float64(hdr.Count))
	return r
}

// lock the ring. The ring must be released with unlock, which notifies
// subscribers of events raised while it was held.
func (r *ring) lock() { r.mu.Lock() }

func (r *ring) unlock() {
	var events = r.pending
	r.pending = nil
	r.mu.Unlock()

	r.obs.notify(events)
}

func (r *ring) raise(kind EventKind) {
	r.pending = append(r.pending, Event{Table: r.name, Kind: kind, Count: int(r.hdr.Count)})
}

func (r *ring) checkOpen() error {
	if r.closed {
		return ErrClosed
	}
	return nil
}

// overrun latches the overrun flag of a full table, and returns ErrOverrun
// if overruns are configured as errors.
func (r *ring) overrun() error {
	r.hasOverrun = true
	metrics.TableOverrunsTotal.WithLabelValues(r.name).Inc()

	if r.opts.OverrunIsError {
		return ErrOverrun
	}
	return nil
}

// underrun latches the underrun flag of an empty table, and either raises
// an Underrun event or returns ErrUnderrun.
func (r *ring) underrun() error {
	r.hasUnderrun = true
	metrics.TableUnderrunsTotal.WithLabelValues(r.name).Inc()

	if r.opts.UnderrunIsError {
		return ErrUnderrun
	}
	r.raise(Underrun)
	return nil
}

func (r *ring) writeHeader(f *os.File, hdr header) error {
	var _, err = r.writeAt(f, hdr.marshal(), 0)
	return ioError("write header", r.path, err)
}

// do invokes |fn| with the table file and its current header. AlwaysNew
// tables re-read the header from the file, as another instance may have
// operated on the table since it was last read.
func (r *ring) do(mutating bool, fn func(f *os.File, hdr header) error) error {
	return r.file.do(mutating, func(f *os.File) error {
		if r.opts.StreamBehavior == AlwaysNew {
			if err := r.reload(f); err != nil {
				return err
			}
		}
		return fn(f, r.hdr)
	})
}

// reload the cached header from |f|.
func (r *ring) reload(f *os.File) error {
	var b = make([]byte, HeaderSize)
	if err := readAt(f, b, 0); err != nil {
		return ioError("read header", r.path, err)
	}
	var hdr, err = unmarshalHeader(b)
	if err != nil {
		return errors.WithMessage(err, r.path)
	} else if hdr.Stride != r.hdr.Stride || hdr.Capacity != r.hdr.Capacity || hdr.BlockSize != r.hdr.BlockSize {
		return errors.WithMessagef(ErrCorruptHeader, "%s: table geometry changed from stride %d, capacity %d, block size %d",
			r.path, r.hdr.Stride, r.hdr.Capacity, r.hdr.BlockSize)
	}

	// A moved tail or a reduced count means records were removed, evicted,
	// or truncated by another instance.
	if hdr.Tail != r.hdr.Tail || hdr.Count < r.hdr.Count {
		r.gen++
	}
	if hdr.Count != r.hdr.Count {
		metrics.TableRecords.WithLabelValues(r.name).Set(float64(hdr.Count))
	}
	r.hdr = hdr
	return nil
}

// position of the record at the tail of the table.
func (r *ring) position() Position { return Position{Offset: r.hdr.Tail, Gen: r.gen} }

// commitInsert installs |hdr| following a successful insert of |size| bytes,
// which evicted |evicted| records.
func (r *ring) commitInsert(hdr header, size, evicted int) {
	r.hdr = hdr

	if evicted != 0 {
		r.gen++
	}
	for i := 0; i != evicted; i++ {
		r.raise(Overrun)
	}
	if r.wm.onInsert(hdr.Count) {
		r.raise(HighWater)
		metrics.TableWatermarkEventsTotal.WithLabelValues(r.name, "high").Inc()
	}
	r.raise(ItemAdded)

	metrics.TableInsertsTotal.WithLabelValues(r.name).Inc()
	metrics.TableBytesWritten.WithLabelValues(r.name).Add(float64(size))
	metrics.TableRecords.WithLabelValues(r.name).Set(float64(hdr.Count))
}

// commitRemove installs |hdr| following a successful remove.
func (r *ring) commitRemove(hdr header) {
	r.hdr = hdr
	r.gen++

	if r.wm.onRemove(hdr.Count) {
		r.raise(LowWater)
		metrics.TableWatermarkEventsTotal.WithLabelValues(r.name, "low").Inc()
	}
	metrics.TableRemovesTotal.WithLabelValues(r.name).Inc()
	metrics.TableRecords.WithLabelValues(r.name).Set(float64(hdr.Count))
}

// Name of the table.
func (r *ring) Name() string { return r.name }

// Path of the table file.
func (r *ring) Path() string { return r.path }

// StreamBehavior of the table file.
func (r *ring) StreamBehavior() StreamBehavior { return r.opts.StreamBehavior }

// Count returns the number of live records. AlwaysNew tables read it from
// the table file, falling back to the last-read count if that fails.
func (r *ring) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opts.StreamBehavior == AlwaysNew && !r.closed {
		_ = r.file.do(false, r.reload)
	}
	return int(r.hdr.Count)
}

// Capacity of the table, in records (Fixed) or blocks (Variable).
func (r *ring) Capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.hdr.Capacity)
}

// HasOverrun is true if an Insert has found the table full since it was
// created, opened, or last truncated.
func (r *ring) HasOverrun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasOverrun
}

// HasUnderrun is true if a Remove or Peek has found the table empty since it
// was created, opened, or last truncated.
func (r *ring) HasUnderrun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasUnderrun
}

func (r *ring) HighWaterLevel() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.wm.highLevel)
}

// SetHighWaterLevel sets the high-water level. Zero disables it.
func (r *ring) SetHighWaterLevel(level int) {
	r.mu.Lock()
	r.wm.highLevel = int64(level)
	r.mu.Unlock()
}

func (r *ring) LowWaterLevel() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.wm.lowLevel)
}

// SetLowWaterLevel sets the low-water level. Zero disables it.
func (r *ring) SetLowWaterLevel(level int) {
	r.mu.Lock()
	r.wm.lowLevel = int64(level)
	r.mu.Unlock()
}

func (r *ring) HighWaterExceeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wm.highExceeded
}

func (r *ring) LowWaterExceeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wm.lowExceeded
}

// PublicationEnabled is true if publishers should drain the table.
// It defaults to true.
func (r *ring) PublicationEnabled() bool { return r.publish.Load() }

func (r *ring) SetPublicationEnabled(enabled bool) { r.publish.Store(enabled) }

// Subscribe |fn| to events of the table. |fn| is invoked synchronously by
// the goroutine which raised the event, after the table lock is released.
// The returned function cancels the subscription.
func (r *ring) Subscribe(fn func(Event)) (cancel func()) { return r.obs.subscribe(fn) }

// Truncate removes all records, shrinks the table file to its header, and
// clears overrun, underrun and watermark flags. Capacity is retained.
func (r *ring) Truncate() (err error) {
	defer observeOp("truncate", time.Now(), &err)

	r.lock()
	defer r.unlock()

	if err = r.checkOpen(); err != nil {
		return err
	}
	var hdr = newHeader(r.hdr.Stride, r.hdr.Capacity, r.hdr.BlockSize)

	if err = r.do(true, func(f *os.File, _ header) error {
		if err := f.Truncate(HeaderSize); err != nil {
			return ioError("truncate", r.path, err)
		}
		return r.writeHeader(f, hdr)
	}); err != nil {
		return err
	}

	r.hdr = hdr
	r.gen++
	r.hasOverrun, r.hasUnderrun = false, false
	r.wm.reset()
	metrics.TableRecords.WithLabelValues(r.name).Set(0)

	log.WithField("table", r.name).Info("truncated table")
	return nil
}

// Close the table, releasing its file. Subsequent operations fail with ErrClosed.
func (r *ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.close()
}

func observeOp(op string, started time.Time, err *error) {
	var status = metrics.Ok
	if *err != nil {
		status = metrics.Fail
	}
	metrics.TableOperationSeconds.WithLabelValues(op, status).Observe(time.Since(started).Seconds())
}
