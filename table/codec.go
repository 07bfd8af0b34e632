package table

import (
	"bytes"
	"encoding/binary"
	"math"
	"reflect"
	"time"
	"unicode/utf8"
)

// encodeRecord encodes struct value |v| into |b|, which must be of the
// Schema's Stride. Multi-byte numerics are little-endian.
func encodeRecord(s *Schema, v reflect.Value, b []byte) {
	var le = binary.LittleEndian

	for _, f := range s.Fields {
		var fv = v.FieldByIndex(f.index)
		var out = b[f.offset : f.offset+f.Size]

		switch f.Kind {
		case Bool:
			if fv.Bool() {
				out[0] = 1
			} else {
				out[0] = 0
			}
		case Int8:
			out[0] = byte(int8(fv.Int()))
		case Uint8:
			out[0] = byte(fv.Uint())
		case Int16:
			le.PutUint16(out, uint16(fv.Int()))
		case Uint16:
			le.PutUint16(out, uint16(fv.Uint()))
		case Int32:
			le.PutUint32(out, uint32(fv.Int()))
		case Uint32:
			le.PutUint32(out, uint32(fv.Uint()))
		case Int64:
			le.PutUint64(out, uint64(fv.Int()))
		case Uint64:
			le.PutUint64(out, fv.Uint())
		case Float32:
			le.PutUint32(out, math.Float32bits(float32(fv.Float())))
		case Float64:
			le.PutUint64(out, math.Float64bits(fv.Float()))
		case Time:
			le.PutUint64(out, uint64(timeTicks(fv.Interface().(time.Time))))
		case Text:
			var n = copy(out, truncateUTF8(fv.String(), f.Size))
			clear(out[n:])
		case Bytes:
			reflect.Copy(reflect.ValueOf(out), fv)
		}
	}
}

// decodeRecord decodes |b| into struct value |v|. It's the inverse of
// encodeRecord, except that Text fields are trimmed of trailing zero bytes.
func decodeRecord(s *Schema, b []byte, v reflect.Value) {
	var le = binary.LittleEndian

	for _, f := range s.Fields {
		var fv = v.FieldByIndex(f.index)
		var in = b[f.offset : f.offset+f.Size]

		switch f.Kind {
		case Bool:
			fv.SetBool(in[0] != 0)
		case Int8:
			fv.SetInt(int64(int8(in[0])))
		case Uint8:
			fv.SetUint(uint64(in[0]))
		case Int16:
			fv.SetInt(int64(int16(le.Uint16(in))))
		case Uint16:
			fv.SetUint(uint64(le.Uint16(in)))
		case Int32:
			fv.SetInt(int64(int32(le.Uint32(in))))
		case Uint32:
			fv.SetUint(uint64(le.Uint32(in)))
		case Int64:
			fv.SetInt(int64(le.Uint64(in)))
		case Uint64:
			fv.SetUint(le.Uint64(in))
		case Float32:
			fv.SetFloat(float64(math.Float32frombits(le.Uint32(in))))
		case Float64:
			fv.SetFloat(math.Float64frombits(le.Uint64(in)))
		case Time:
			fv.Set(reflect.ValueOf(fromTicks(int64(le.Uint64(in)))))
		case Text:
			fv.SetString(string(bytes.TrimRight(in, "\x00")))
		case Bytes:
			reflect.Copy(fv, reflect.ValueOf(in))
		}
	}
}

// truncateUTF8 returns the longest prefix of |s| of at most |n| bytes which
// does not split a multi-byte UTF-8 sequence.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// timeTicks maps the zero Time to zero, and all others to Unix nanoseconds.
func timeTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromTicks is the inverse of timeTicks, in UTC.
func fromTicks(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
