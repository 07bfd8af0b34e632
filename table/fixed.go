package table

import (
	"os"
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// Fixed is a ring-buffer table of records T, each encoded at the constant
// stride of T's Schema.
type Fixed[T any] struct {
	*ring
	schema Schema
}

var _ Table = (*Fixed[struct{ A int }])(nil)

// CreateFixed creates a new table file at |path| with room for |capacity|
// records. It fails with ErrAlreadyExists if the file exists.
func CreateFixed[T any](path string, capacity int, opts Options) (*Fixed[T], error) {
	var schema, err = SchemaOf[T]()
	if err != nil {
		return nil, err
	} else if capacity <= 0 {
		return nil, errors.Errorf("invalid capacity %d", capacity)
	}
	r, err := createRing(path, opts, newHeader(int64(schema.Stride()), int64(capacity), 0))
	if err != nil {
		return nil, err
	}
	return &Fixed[T]{ring: r, schema: schema}, nil
}

// OpenFixed opens the existing table file at |path|. It fails with
// ErrNotFound if the file doesn't exist, or ErrSchemaMismatch if the
// file isn't a fixed table of T's stride.
func OpenFixed[T any](path string, opts Options) (*Fixed[T], error) {
	var schema, err = SchemaOf[T]()
	if err != nil {
		return nil, err
	}
	r, err := openRing(path, opts)
	if err != nil {
		return nil, err
	}
	if r.hdr.variable() || r.hdr.Stride != int64(schema.Stride()) {
		var stride = r.hdr.Stride
		_ = r.Close()
		return nil, errors.WithMessagef(ErrSchemaMismatch,
			"%s: table stride %d, but schema %s has stride %d", path, stride, schema, schema.Stride())
	}
	return &Fixed[T]{ring: r, schema: schema}, nil
}

// Schema of the table's records.
func (t *Fixed[T]) Schema() Schema { return t.schema }

// Insert |rec| as the newest record of the table. If the table is full,
// the oldest record is evicted and an Overrun raised, or ErrOverrun is
// returned without modifying the table if so configured.
func (t *Fixed[T]) Insert(rec T) (err error) {
	defer observeOp("insert", time.Now(), &err)

	var b = make([]byte, t.schema.Stride())
	encodeRecord(&t.schema, reflect.ValueOf(&rec).Elem(), b)

	return t.insertStride(b)
}

// Remove and return the oldest record of the table. If the table is empty,
// |ok| is false and an Underrun is raised, or ErrUnderrun is returned if
// so configured.
func (t *Fixed[T]) Remove() (rec T, ok bool, err error) {
	defer observeOp("remove", time.Now(), &err)
	return t.read(true)
}

// Peek returns the oldest record of the table without removing it. Empty
// tables are handled as with Remove.
func (t *Fixed[T]) Peek() (rec T, ok bool, err error) {
	defer observeOp("peek", time.Now(), &err)
	return t.read(false)
}

// PeekItem implements Table.
func (t *Fixed[T]) PeekItem() (item any, pos Position, ok bool, err error) {
	defer observeOp("peek", time.Now(), &err)

	var b []byte
	if b, pos, ok, err = t.readStride(false, true, nil); ok {
		var rec T
		decodeRecord(&t.schema, b, reflect.ValueOf(&rec).Elem())
		item = rec
	}
	return item, pos, ok, err
}

// RemoveItem implements Table.
func (t *Fixed[T]) RemoveItem(pos Position) (ok bool, err error) {
	defer observeOp("remove", time.Now(), &err)
	_, _, ok, err = t.readStride(true, false, &pos)
	return ok, err
}

func (t *Fixed[T]) read(remove bool) (rec T, ok bool, err error) {
	var b []byte
	if b, _, ok, err = t.readStride(remove, true, nil); ok {
		decodeRecord(&t.schema, b, reflect.ValueOf(&rec).Elem())
	}
	return rec, ok, err
}

// insertStride writes encoded record |b| at the head of a fixed table,
// evicting the oldest record if the table is full.
func (r *ring) insertStride(b []byte) (err error) {
	r.lock()
	defer r.unlock()

	if err = r.checkOpen(); err != nil {
		return err
	}
	var next header
	var evicted int

	if err = r.do(true, func(f *os.File, hdr header) error {
		if hdr.Count == hdr.Capacity {
			if err := r.overrun(); err != nil {
				return err
			}
			hdr.Tail = hdr.advanceUnits(hdr.Tail, 1)
			hdr.Count--
			evicted++
		}
		var at = hdr.Head
		hdr.Head = hdr.advanceUnits(hdr.Head, 1)
		hdr.Count++

		if _, err := r.writeAt(f, b, at); err != nil {
			return ioError("write record", r.path, err)
		}
		next = hdr
		return r.writeHeader(f, hdr)
	}); err != nil {
		return err
	}
	r.commitInsert(next, len(b), evicted)
	return nil
}

// readStride reads (if |read|) and optionally removes the encoded record
// at the tail of a fixed table, returning its Position. If |at| is non-nil
// the record is read or removed only if it's still at Position |at|, and
// |ok| is false otherwise.
func (r *ring) readStride(remove, read bool, at *Position) (b []byte, pos Position, ok bool, err error) {
	r.lock()
	defer r.unlock()

	if err = r.checkOpen(); err != nil {
		return nil, pos, false, err
	}
	var next header
	var empty bool

	if err = r.do(remove, func(f *os.File, hdr header) error {
		if hdr.Count == 0 {
			empty = true
			return nil
		}
		if pos = r.position(); at != nil && *at != pos {
			return nil
		}
		if read {
			b = make([]byte, hdr.Stride)
			if err := readAt(f, b, hdr.Tail); err != nil {
				return ioError("read record", r.path, err)
			}
		}
		if remove {
			hdr.Tail = hdr.advanceUnits(hdr.Tail, 1)
			hdr.Count--
			if err := r.writeHeader(f, hdr); err != nil {
				return err
			}
			next = hdr
		}
		ok = true
		return nil
	}); err != nil {
		return nil, pos, false, err
	}

	switch {
	case empty && at != nil:
		return nil, pos, false, nil // The peeked record is already gone.
	case empty:
		return nil, pos, false, r.underrun()
	case ok && remove:
		r.commitRemove(next)
	}
	return b, pos, ok, nil
}
