package table

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Kind is the fixed-width encoding of a record field.
type Kind int

const (
	Bool Kind = iota + 1
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
	// Time is a time.Time encoded as int64 Unix nanoseconds. The Location
	// isn't encoded: decoded values are in UTC, and the zero Time is zero.
	Time
	// Text is a UTF-8 string of a declared maximum byte length.
	Text
	// Bytes is a fixed-length byte array.
	Bytes
)

var kindNames = map[Kind]string{
	Bool:    "bool",
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Int64:   "int64",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
	Time:    "time",
	Text:    "text",
	Bytes:   "bytes",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// width of the Kind, or zero if the Kind is sized by its Field.
func (k Kind) width() int {
	switch k {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Time:
		return 8
	default:
		return 0
	}
}

// Field is a single fixed-width field of a Schema.
type Field struct {
	Name string
	Kind Kind
	// Size is the number of bytes the field occupies within a record.
	Size int

	index  []int // Index of the field within its Go struct.
	offset int   // Byte offset of the field within an encoded record.
}

// Schema describes the ordered, fixed-width fields of a record type.
type Schema struct {
	Fields []Field
}

var timeType = reflect.TypeOf(time.Time{})

// SchemaOf derives the Schema of record type T, which must be a struct whose
// exported fields are each of a fixed width. Strings must declare a maximum
// byte length with a `talus:"size=N"` tag. Fields tagged `talus:"-"` and
// unexported fields are ignored.
func SchemaOf[T any]() (Schema, error) {
	return schemaOfType(reflect.TypeOf((*T)(nil)).Elem())
}

func schemaOfType(rt reflect.Type) (Schema, error) {
	if rt.Kind() != reflect.Struct {
		return Schema{}, errors.WithMessagef(ErrSchema, "type %s is not a struct", rt)
	}
	var s Schema

	for i := 0; i != rt.NumField(); i++ {
		var sf = rt.Field(i)
		var tag = sf.Tag.Get("talus")

		if !sf.IsExported() || tag == "-" {
			continue
		}
		var size, err = parseSizeTag(tag)
		if err != nil {
			return Schema{}, errors.WithMessagef(ErrSchema, "type %s field %s: %s", rt, sf.Name, err)
		}
		var kind Kind

		switch sf.Type.Kind() {
		case reflect.Bool:
			kind = Bool
		case reflect.Int8:
			kind = Int8
		case reflect.Uint8:
			kind = Uint8
		case reflect.Int16:
			kind = Int16
		case reflect.Uint16:
			kind = Uint16
		case reflect.Int32:
			kind = Int32
		case reflect.Uint32:
			kind = Uint32
		case reflect.Int64, reflect.Int:
			kind = Int64
		case reflect.Uint64, reflect.Uint:
			kind = Uint64
		case reflect.Float32:
			kind = Float32
		case reflect.Float64:
			kind = Float64
		case reflect.String:
			if size <= 0 {
				return Schema{}, errors.WithMessagef(ErrSchema,
					"type %s field %s: string fields require a `talus:\"size=N\"` tag", rt, sf.Name)
			}
			kind = Text
		case reflect.Array:
			if sf.Type.Elem().Kind() != reflect.Uint8 {
				return Schema{}, errors.WithMessagef(ErrSchema,
					"type %s field %s: only byte arrays are supported", rt, sf.Name)
			}
			kind, size = Bytes, sf.Type.Len()
		case reflect.Struct:
			if sf.Type != timeType {
				return Schema{}, errors.WithMessagef(ErrSchema,
					"type %s field %s: nested struct %s is not fixed-width", rt, sf.Name, sf.Type)
			}
			kind = Time
		default:
			return Schema{}, errors.WithMessagef(ErrSchema,
				"type %s field %s: %s is not fixed-width", rt, sf.Name, sf.Type)
		}
		if w := kind.width(); w != 0 {
			size = w
		}
		s.Fields = append(s.Fields, Field{Name: sf.Name, Kind: kind, Size: size, index: sf.Index})
	}
	return s, s.Validate()
}

func parseSizeTag(tag string) (int, error) {
	var size int
	for _, opt := range strings.Split(tag, ",") {
		if opt == "" {
			continue
		}
		var kv = strings.SplitN(opt, "=", 2)
		if len(kv) != 2 || kv[0] != "size" {
			return 0, fmt.Errorf("unknown tag option %q", opt)
		}
		var n, err = strconv.Atoi(kv[1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid size %q", kv[1])
		}
		size = n
	}
	return size, nil
}

// Validate the Schema, and assign encoded offsets of its Fields.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return errors.WithMessage(ErrSchema, "schema has no fields")
	}
	var names = make(map[string]struct{}, len(s.Fields))
	var offset int

	for i := range s.Fields {
		var f = &s.Fields[i]

		if _, ok := names[f.Name]; ok {
			return errors.WithMessagef(ErrSchema, "duplicate field %s", f.Name)
		}
		names[f.Name] = struct{}{}

		if _, ok := kindNames[f.Kind]; !ok {
			return errors.WithMessagef(ErrSchema, "field %s: invalid kind %s", f.Name, f.Kind)
		} else if w := f.Kind.width(); w != 0 && f.Size != w {
			return errors.WithMessagef(ErrSchema, "field %s: %s must have size %d (not %d)", f.Name, f.Kind, w, f.Size)
		} else if f.Size <= 0 {
			return errors.WithMessagef(ErrSchema, "field %s: %s requires a positive size", f.Name, f.Kind)
		}
		f.offset = offset
		offset += f.Size
	}
	return nil
}

// Stride is the encoded size of a record.
func (s Schema) Stride() int {
	var n int
	for _, f := range s.Fields {
		n += f.Size
	}
	return n
}

// String returns the canonical descriptor of the Schema, eg
// "Index:int32,Temp:float64,Label:text[16]".
func (s Schema) String() string {
	var parts = make([]string, len(s.Fields))
	for i, f := range s.Fields {
		if f.Kind.width() == 0 {
			parts[i] = fmt.Sprintf("%s:%s[%d]", f.Name, f.Kind, f.Size)
		} else {
			parts[i] = fmt.Sprintf("%s:%s", f.Name, f.Kind)
		}
	}
	return strings.Join(parts, ",")
}
