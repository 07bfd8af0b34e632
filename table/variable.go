package table

import (
	"bytes"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Marker bytes of variable-length records. A marker may only appear as the
// first byte of a record's first block.
const (
	markerValid     byte = 0xFF
	markerTombstone byte = 0x00
	// padding fills the final block of a record. It's neither marker byte,
	// and can't be mistaken for a record start.
	padding byte = 0x20
)

// Variable is a ring-buffer table of records T of varied encoded length.
// Each record is stored as a chain of fixed-size blocks: a marker byte,
// followed by the PayloadCodec encoding of the record, padded to a block
// boundary. Capacity is measured in blocks.
type Variable[T any] struct {
	*ring
	codec PayloadCodec
}

var _ Table = (*Variable[any])(nil)

// CreateVariable creates a new table file at |path| with room for
// |capacity| blocks of Options.BlockSize. It fails with ErrAlreadyExists if
// the file exists.
func CreateVariable[T any](path string, capacity int, opts Options) (*Variable[T], error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BlockSize < 2 {
		return nil, errors.Errorf("invalid block size %d", opts.BlockSize)
	} else if capacity <= 0 {
		return nil, errors.Errorf("invalid capacity %d", capacity)
	}
	var r, err = createRing(path, opts, newHeader(0, int64(capacity), int64(opts.BlockSize)))
	if err != nil {
		return nil, err
	}
	return newVariable[T](r), nil
}

// OpenVariable opens the existing table file at |path|. It fails with
// ErrNotFound if the file doesn't exist, or ErrSchemaMismatch if it's not
// a variable table (or its block size differs from a non-zero
// Options.BlockSize).
func OpenVariable[T any](path string, opts Options) (*Variable[T], error) {
	var r, err = openRing(path, opts)
	if err != nil {
		return nil, err
	}
	var hdr = r.hdr

	if !hdr.variable() || (opts.BlockSize != 0 && int64(opts.BlockSize) != hdr.BlockSize) {
		_ = r.Close()
		return nil, errors.WithMessagef(ErrSchemaMismatch,
			"%s: not a variable table of block size %d (stride %d, block size %d)",
			path, opts.BlockSize, hdr.Stride, hdr.BlockSize)
	}
	r.opts.BlockSize = int(hdr.BlockSize)
	return newVariable[T](r), nil
}

func newVariable[T any](r *ring) *Variable[T] {
	var codec = r.opts.Codec
	if codec == nil {
		codec = JSON
	}
	return &Variable[T]{ring: r, codec: codec}
}

// BlockSize of the table.
func (t *Variable[T]) BlockSize() int { return t.opts.BlockSize }

// Insert |rec| as the newest record of the table. While the table lacks
// free blocks for the record, the oldest record is evicted and an Overrun
// raised, or ErrOverrun is returned without modifying the table if so
// configured. Records larger than the table fail with ErrRecordTooLarge.
func (t *Variable[T]) Insert(rec T) (err error) {
	defer observeOp("insert", time.Now(), &err)

	payload, err := t.codec.Marshal(rec)
	if err != nil {
		return errors.WithMessage(err, "encoding record")
	} else if bytes.IndexByte(payload, markerValid) != -1 || bytes.IndexByte(payload, markerTombstone) != -1 {
		return ErrMarkerInPayload
	}

	var bs = int64(t.opts.BlockSize)
	var need = (1 + int64(len(payload)) + bs - 1) / bs
	var b = make([]byte, need*bs)

	b[0] = markerValid
	var n = copy(b[1:], payload)
	for i := 1 + n; i != len(b); i++ {
		b[i] = padding
	}

	t.lock()
	defer t.unlock()

	if err = t.checkOpen(); err != nil {
		return err
	} else if need > t.hdr.Capacity {
		return errors.WithMessagef(ErrRecordTooLarge, "record requires %d blocks (capacity %d)", need, t.hdr.Capacity)
	}
	var next header
	var evicted int

	if err = t.do(true, func(f *os.File, hdr header) error {
		// Evicted records aren't tombstoned. Once the header is written they
		// lie outside of [tail, head), which is never scanned.
		for hdr.Capacity-usedBlocks(hdr) < need {
			if err := t.overrun(); err != nil {
				return err
			}
			var blocks, err = t.extent(f, hdr, hdr.Tail)
			if err != nil {
				return err
			}
			hdr.Tail = hdr.advanceUnits(hdr.Tail, blocks)
			hdr.Count--
			evicted++
		}

		if err := t.writeWrapped(f, hdr, b, hdr.Head); err != nil {
			return err
		}
		hdr.Head = hdr.advanceUnits(hdr.Head, need)
		hdr.Count++

		next = hdr
		return t.writeHeader(f, hdr)
	}); err != nil {
		return err
	}
	t.commitInsert(next, len(b), evicted)
	return nil
}

// Remove and return the oldest record of the table. If the table is empty,
// |ok| is false and an Underrun is raised, or ErrUnderrun is returned if so
// configured. A record which cannot be decoded is removed regardless, and
// an error matching ErrCorruptRecord is returned.
func (t *Variable[T]) Remove() (rec T, ok bool, err error) {
	defer observeOp("remove", time.Now(), &err)
	rec, _, ok, err = t.read(true, true, nil)
	return rec, ok, err
}

// Peek returns the oldest record of the table without removing it. Empty
// tables are handled as with Remove.
func (t *Variable[T]) Peek() (rec T, ok bool, err error) {
	defer observeOp("peek", time.Now(), &err)
	rec, _, ok, err = t.read(false, true, nil)
	return rec, ok, err
}

// PeekItem implements Table.
func (t *Variable[T]) PeekItem() (item any, pos Position, ok bool, err error) {
	defer observeOp("peek", time.Now(), &err)

	var rec T
	if rec, pos, ok, err = t.read(false, true, nil); ok {
		item = rec
	}
	return item, pos, ok, err
}

// RemoveItem implements Table.
func (t *Variable[T]) RemoveItem(pos Position) (ok bool, err error) {
	defer observeOp("remove", time.Now(), &err)
	_, _, ok, err = t.read(true, false, &pos)
	return ok, err
}

// read (if |decode|) and optionally remove the record at the tail of the
// table, returning its Position. If |at| is non-nil the record is read or
// removed only if it's still at Position |at|, and |ok| is false otherwise.
func (t *Variable[T]) read(remove, decode bool, at *Position) (rec T, pos Position, ok bool, err error) {
	t.lock()
	defer t.unlock()

	if err = t.checkOpen(); err != nil {
		return rec, pos, false, err
	}
	var next header
	var empty, found bool
	var b []byte

	if err = t.do(remove, func(f *os.File, hdr header) error {
		if hdr.Count == 0 {
			empty = true
			return nil
		}
		if pos = t.position(); at != nil && *at != pos {
			return nil
		}
		var blocks, err = t.extent(f, hdr, hdr.Tail)
		if err != nil {
			return err
		}
		if decode {
			b = make([]byte, blocks*hdr.BlockSize)
			if err = t.readWrapped(f, hdr, b, hdr.Tail); err != nil {
				return err
			}
		}
		found = true

		if !remove {
			return nil
		}
		var start = hdr.Tail
		hdr.Tail = hdr.advanceUnits(hdr.Tail, blocks)
		hdr.Count--

		if err = t.writeHeader(f, hdr); err != nil {
			found = false
			return err
		}
		next = hdr

		// The removed record is outside of [tail, head) once the header is
		// written, and a failure to tombstone it leaves the table readable.
		if _, err = t.writeAt(f, []byte{markerTombstone}, start); err != nil {
			log.WithFields(log.Fields{
				"table":  t.name,
				"offset": start,
				"err":    err,
			}).Warn("failed to tombstone removed record")
		}
		return nil
	}); err != nil {
		if found {
			t.commitRemove(next) // Header was written before the failure.
		}
		return rec, pos, false, err
	}

	switch {
	case empty && at != nil:
		return rec, pos, false, nil // The peeked record is already gone.
	case empty:
		return rec, pos, false, t.underrun()
	case !found:
		return rec, pos, false, nil
	case remove:
		t.commitRemove(next)
	}
	if !decode {
		return rec, pos, true, nil
	}

	if b[0] != markerValid {
		return rec, pos, false, errors.WithMessagef(ErrCorruptRecord, "%s: invalid marker %#x at offset %d",
			t.path, b[0], pos.Offset)
	}
	if err = t.codec.Unmarshal(bytes.TrimRight(b[1:], string(padding)), &rec); err != nil {
		return rec, pos, false, errors.WithMessagef(ErrCorruptRecord, "%s: %s", t.path, err)
	}
	return rec, pos, true, nil
}

// extent scans forward from the record starting at |start| for the next
// record start, the head, or a return to |start|, and returns the number of
// blocks occupied by the record. Only the marker byte of each block is read.
func (t *Variable[T]) extent(f *os.File, hdr header, start int64) (int64, error) {
	var marker [1]byte
	var blocks int64 = 1

	for at := hdr.advanceUnits(start, 1); at != hdr.Head && at != start; at = hdr.advanceUnits(at, 1) {
		if err := readAt(f, marker[:], at); err != nil {
			return 0, ioError("read marker", t.path, err)
		}
		if marker[0] == markerValid || marker[0] == markerTombstone {
			break
		}
		blocks++
	}
	return blocks, nil
}

// readWrapped fills |b| from offset |at|, continuing from the start of the
// data region if |b| extends past its end.
func (t *Variable[T]) readWrapped(f *os.File, hdr header, b []byte, at int64) error {
	var split = min(int64(len(b)), hdr.regionEnd()-at)

	if err := readAt(f, b[:split], at); err != nil {
		return ioError("read record", t.path, err)
	}
	if split != int64(len(b)) {
		if err := readAt(f, b[split:], hdr.regionStart()); err != nil {
			return ioError("read record", t.path, err)
		}
	}
	return nil
}

// writeWrapped writes |b| at offset |at|, continuing from the start of the
// data region if |b| extends past its end.
func (t *Variable[T]) writeWrapped(f *os.File, hdr header, b []byte, at int64) error {
	var split = min(int64(len(b)), hdr.regionEnd()-at)

	if _, err := t.writeAt(f, b[:split], at); err != nil {
		return ioError("write record", t.path, err)
	}
	if split != int64(len(b)) {
		if _, err := t.writeAt(f, b[split:], hdr.regionStart()); err != nil {
			return ioError("write record", t.path, err)
		}
	}
	return nil
}

// usedBlocks of the data region. A table with live records and equal head
// and tail offsets is full.
func usedBlocks(hdr header) int64 {
	if hdr.Count == 0 {
		return 0
	}
	var d = hdr.Head - hdr.Tail
	if d <= 0 {
		d += hdr.regionSize()
	}
	return d / hdr.unit()
}
