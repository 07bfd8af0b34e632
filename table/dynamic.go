package table

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ParseSchema parses a canonical Schema descriptor, as returned by
// Schema.String, eg "Index:int32,Temp:float64,Label:text[16]".
func ParseSchema(desc string) (Schema, error) {
	var s Schema

	for _, part := range strings.Split(desc, ",") {
		var name, kindStr, ok = strings.Cut(part, ":")
		if !ok || name == "" {
			return Schema{}, errors.WithMessagef(ErrSchema, "malformed field %q", part)
		}
		var size int

		if i := strings.IndexByte(kindStr, '['); i != -1 && strings.HasSuffix(kindStr, "]") {
			var n, err = strconv.Atoi(kindStr[i+1 : len(kindStr)-1])
			if err != nil {
				return Schema{}, errors.WithMessagef(ErrSchema, "field %s: malformed size %q", name, kindStr)
			}
			kindStr, size = kindStr[:i], n
		}

		var kind Kind
		for k, n := range kindNames {
			if n == kindStr {
				kind = k
			}
		}
		if kind == 0 {
			return Schema{}, errors.WithMessagef(ErrSchema, "field %s: unknown kind %q", name, kindStr)
		} else if w := kind.width(); w != 0 && size == 0 {
			size = w
		}
		s.Fields = append(s.Fields, Field{Name: name, Kind: kind, Size: size})
	}
	return s, s.Validate()
}

// Record is a record of a Dynamic table, keyed on field name.
type Record map[string]any

// Dynamic is a fixed table whose Schema is supplied at runtime, rather than
// derived from a Go type. Its records are Records. Dynamic tables are
// file-compatible with Fixed tables of an equivalent Schema.
type Dynamic struct {
	*ring
	schema Schema
}

var _ Table = (*Dynamic)(nil)

// CreateDynamic creates a new fixed table file at |path| of records of
// |schema|, with room for |capacity| records.
func CreateDynamic(path string, schema Schema, capacity int, opts Options) (*Dynamic, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	} else if capacity <= 0 {
		return nil, errors.Errorf("invalid capacity %d", capacity)
	}
	r, err := createRing(path, opts, newHeader(int64(schema.Stride()), int64(capacity), 0))
	if err != nil {
		return nil, err
	}
	return &Dynamic{ring: r, schema: schema}, nil
}

// OpenDynamic opens the existing fixed table file at |path| of records of
// |schema|. It fails with ErrSchemaMismatch if the file's stride differs
// from that of |schema|.
func OpenDynamic(path string, schema Schema, opts Options) (*Dynamic, error) {
	if err := schema.Validate(); err != nil {
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
	return &Dynamic{ring: r, schema: schema}, nil
}

// Schema of the table's records.
func (t *Dynamic) Schema() Schema { return t.schema }

// Insert |rec| as the newest record of the table. Fields absent from |rec|
// are zero-valued, and fields not of the Schema are an error.
func (t *Dynamic) Insert(rec Record) (err error) {
	defer observeOp("insert", time.Now(), &err)

	var b = make([]byte, t.schema.Stride())
	if err = encodeDynamic(&t.schema, rec, b); err != nil {
		return err
	}
	return t.insertStride(b)
}

// Remove and return the oldest record of the table.
func (t *Dynamic) Remove() (Record, bool, error) {
	return t.read(true, "remove")
}

// Peek returns the oldest record of the table without removing it.
func (t *Dynamic) Peek() (Record, bool, error) {
	return t.read(false, "peek")
}

// PeekItem implements Table.
func (t *Dynamic) PeekItem() (item any, pos Position, ok bool, err error) {
	defer observeOp("peek", time.Now(), &err)

	var b []byte
	if b, pos, ok, err = t.readStride(false, true, nil); ok {
		item = decodeDynamic(&t.schema, b)
	}
	return item, pos, ok, err
}

// RemoveItem implements Table.
func (t *Dynamic) RemoveItem(pos Position) (ok bool, err error) {
	defer observeOp("remove", time.Now(), &err)
	_, _, ok, err = t.readStride(true, false, &pos)
	return ok, err
}

func (t *Dynamic) read(remove bool, op string) (rec Record, ok bool, err error) {
	defer observeOp(op, time.Now(), &err)

	var b []byte
	if b, _, ok, err = t.readStride(remove, true, nil); ok {
		rec = decodeDynamic(&t.schema, b)
	}
	return rec, ok, err
}

func encodeDynamic(s *Schema, rec Record, b []byte) error {
	for name := range rec {
		var found bool
		for _, f := range s.Fields {
			found = found || f.Name == name
		}
		if !found {
			return errors.WithMessagef(ErrSchema, "unknown field %s", name)
		}
	}
	var le = binary.LittleEndian

	for _, f := range s.Fields {
		var v, ok = rec[f.Name]
		if !ok || v == nil {
			continue // Zero-valued.
		}
		var out = b[f.offset : f.offset+f.Size]
		var err error

		switch f.Kind {
		case Bool:
			if bv, ok := v.(bool); !ok {
				err = errors.Errorf("expected bool, not %T", v)
			} else if bv {
				out[0] = 1
			}
		case Int8, Uint8:
			var n uint64
			if n, err = dynamicInt(v, f.Kind); err == nil {
				out[0] = byte(n)
			}
		case Int16, Uint16:
			var n uint64
			if n, err = dynamicInt(v, f.Kind); err == nil {
				le.PutUint16(out, uint16(n))
			}
		case Int32, Uint32:
			var n uint64
			if n, err = dynamicInt(v, f.Kind); err == nil {
				le.PutUint32(out, uint32(n))
			}
		case Int64, Uint64:
			var n uint64
			if n, err = dynamicInt(v, f.Kind); err == nil {
				le.PutUint64(out, n)
			}
		case Float32:
			var n float64
			if n, err = dynamicFloat(v); err == nil && math.Abs(n) > math.MaxFloat32 && !math.IsInf(n, 0) {
				err = errors.Errorf("%v overflows float32", v)
			} else if err == nil {
				le.PutUint32(out, math.Float32bits(float32(n)))
			}
		case Float64:
			var n float64
			if n, err = dynamicFloat(v); err == nil {
				le.PutUint64(out, math.Float64bits(n))
			}
		case Time:
			var ts time.Time
			if ts, err = dynamicTime(v); err == nil {
				le.PutUint64(out, uint64(timeTicks(ts)))
			}
		case Text:
			if str, ok := v.(string); ok {
				copy(out, truncateUTF8(str, f.Size))
			} else {
				err = errors.Errorf("expected string, not %T", v)
			}
		case Bytes:
			switch bv := v.(type) {
			case []byte:
				copy(out, bv)
			case string:
				var dec []byte
				if dec, err = base64.StdEncoding.DecodeString(bv); err == nil {
					copy(out, dec)
				}
			default:
				err = errors.Errorf("expected bytes, not %T", v)
			}
		}
		if err != nil {
			return errors.WithMessagef(ErrSchema, "field %s: %s", f.Name, err)
		}
	}
	return nil
}

func decodeDynamic(s *Schema, b []byte) Record {
	var le = binary.LittleEndian
	var rec = make(Record, len(s.Fields))

	for _, f := range s.Fields {
		var in = b[f.offset : f.offset+f.Size]

		switch f.Kind {
		case Bool:
			rec[f.Name] = in[0] != 0
		case Int8:
			rec[f.Name] = int8(in[0])
		case Uint8:
			rec[f.Name] = in[0]
		case Int16:
			rec[f.Name] = int16(le.Uint16(in))
		case Uint16:
			rec[f.Name] = le.Uint16(in)
		case Int32:
			rec[f.Name] = int32(le.Uint32(in))
		case Uint32:
			rec[f.Name] = le.Uint32(in)
		case Int64:
			rec[f.Name] = int64(le.Uint64(in))
		case Uint64:
			rec[f.Name] = le.Uint64(in)
		case Float32:
			rec[f.Name] = math.Float32frombits(le.Uint32(in))
		case Float64:
			rec[f.Name] = math.Float64frombits(le.Uint64(in))
		case Time:
			rec[f.Name] = fromTicks(int64(le.Uint64(in)))
		case Text:
			rec[f.Name] = string(bytes.TrimRight(in, "\x00"))
		case Bytes:
			rec[f.Name] = append([]byte(nil), in...)
		}
	}
	return rec
}

// dynamicInt converts |v| to the two's complement encoding of integer
// |kind|, failing if |v| isn't an integer within the range of |kind|.
func dynamicInt(v any, kind Kind) (uint64, error) {
	var bits = uint(kind.width() * 8)
	var signed = kind == Int8 || kind == Int16 || kind == Int32 || kind == Int64

	// Bounds of |kind|: [minInt, maxInt] if signed, else [0, maxUint].
	var maxUint = uint64(math.MaxUint64) >> (64 - bits)
	var maxInt = int64(maxUint >> 1)
	var minInt = -maxInt - 1

	var rv = reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		var n = rv.Int()
		if signed && n >= minInt && n <= maxInt {
			return uint64(n), nil
		} else if !signed && n >= 0 && uint64(n) <= maxUint {
			return uint64(n), nil
		}
	case rv.CanUint():
		var n = rv.Uint()
		if signed && n <= uint64(maxInt) {
			return n, nil
		} else if !signed && n <= maxUint {
			return n, nil
		}
	case rv.CanFloat():
		var f = rv.Float()
		if f != math.Trunc(f) {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		// Compare against powers of two, which float64 represents exactly.
		var limit = math.Ldexp(1, int(bits))
		if signed && f >= -limit/2 && f < limit/2 {
			return uint64(int64(f)), nil
		} else if !signed && f >= 0 && f < limit {
			return uint64(f), nil
		}
	default:
		return 0, errors.Errorf("expected integer, not %T", v)
	}
	return 0, errors.Errorf("%v is out of range for %s", v, kind)
}

func dynamicFloat(v any) (float64, error) {
	var rv = reflect.ValueOf(v)
	switch {
	case rv.CanFloat():
		return rv.Float(), nil
	case rv.CanInt():
		return float64(rv.Int()), nil
	case rv.CanUint():
		return float64(rv.Uint()), nil
	default:
		return 0, errors.Errorf("expected number, not %T", v)
	}
}

func dynamicTime(v any) (time.Time, error) {
	switch tv := v.(type) {
	case time.Time:
		return tv, nil
	case string:
		return time.Parse(time.RFC3339Nano, tv)
	default:
		var n, err = dynamicInt(v, Int64)
		if err != nil {
			return time.Time{}, errors.Errorf("expected time, not %T", v)
		}
		return fromTicks(int64(n)), nil
	}
}
