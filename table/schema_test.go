package table

import (
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

type reading struct {
	Index   int32
	Sensor  uint16
	Temp    float64
	Ok      bool
	At      time.Time
	Label   string `talus:"size=12"`
	Tag     [4]byte
	Counter int
	scratch string
	Skipped map[string]int `talus:"-"`
}

func TestSchemaOfStruct(t *testing.T) {
	var s, err = SchemaOf[reading]()
	require.NoError(t, err)

	require.Equal(t, "Index:int32,Sensor:uint16,Temp:float64,Ok:bool,At:time,Label:text[12],Tag:bytes[4],Counter:int64",
		s.String())
	require.Equal(t, 4+2+8+1+8+12+4+8, s.Stride())

	var offsets []int
	for _, f := range s.Fields {
		offsets = append(offsets, f.offset)
	}
	require.Equal(t, []int{0, 4, 6, 14, 15, 23, 35, 39}, offsets)
}

func TestSchemaRejectsUnboundedFields(t *testing.T) {
	type noSize struct{ Name string }
	type slice struct{ Values []int32 }
	type nested struct{ Inner struct{ A int } }
	type pointer struct{ P *int }
	type badTag struct {
		Name string `talus:"size=zero"`
	}
	type unknownTag struct {
		Name string `talus:"width=3"`
	}
	type empty struct{ hidden int }

	for _, fn := range []func() error{
		func() error { _, err := SchemaOf[noSize](); return err },
		func() error { _, err := SchemaOf[slice](); return err },
		func() error { _, err := SchemaOf[nested](); return err },
		func() error { _, err := SchemaOf[pointer](); return err },
		func() error { _, err := SchemaOf[badTag](); return err },
		func() error { _, err := SchemaOf[unknownTag](); return err },
		func() error { _, err := SchemaOf[empty](); return err },
		func() error { _, err := SchemaOf[int](); return err },
	} {
		require.ErrorIs(t, fn(), ErrSchema)
	}
}

func TestSchemaValidation(t *testing.T) {
	var s = Schema{Fields: []Field{
		{Name: "A", Kind: Int32, Size: 4},
		{Name: "B", Kind: Text, Size: 3},
	}}
	require.NoError(t, s.Validate())
	require.Equal(t, 7, s.Stride())
	require.Equal(t, 4, s.Fields[1].offset)

	s.Fields[1].Name = "A"
	require.ErrorIs(t, s.Validate(), ErrSchema)

	s = Schema{Fields: []Field{{Name: "A", Kind: Int32, Size: 8}}}
	require.ErrorIs(t, s.Validate(), ErrSchema)
	s = Schema{Fields: []Field{{Name: "A", Kind: Bytes, Size: 0}}}
	require.ErrorIs(t, s.Validate(), ErrSchema)
	s = Schema{Fields: []Field{{Name: "A", Kind: Kind(99), Size: 1}}}
	require.ErrorIs(t, s.Validate(), ErrSchema)
	require.ErrorIs(t, new(Schema).Validate(), ErrSchema)
}

func TestRecordCodecRoundTrip(t *testing.T) {
	var s, err = SchemaOf[reading]()
	require.NoError(t, err)

	var in = reading{
		Index:   -42,
		Sensor:  65000,
		Temp:    -17.25,
		Ok:      true,
		At:      time.Date(2024, 3, 1, 12, 30, 0, 123, time.UTC),
		Label:   "boiler",
		Tag:     [4]byte{1, 2, 3, 4},
		Counter: 1 << 40,
		scratch: "not encoded",
	}
	var b = make([]byte, s.Stride())
	encodeRecord(&s, reflect.ValueOf(&in).Elem(), b)

	// Little-endian, at natural width.
	require.Equal(t, []byte{0xd6, 0xff, 0xff, 0xff}, b[0:4])
	require.Equal(t, []byte{0xe8, 0xfd}, b[4:6])
	// Text is zero-padded.
	require.Equal(t, append([]byte("boiler"), 0, 0, 0, 0, 0, 0), b[23:35])

	var out reading
	decodeRecord(&s, b, reflect.ValueOf(&out).Elem())

	in.scratch = ""
	require.Equal(t, in, out)

	// The zero time round-trips as zero.
	in = reading{Label: "x"}
	encodeRecord(&s, reflect.ValueOf(&in).Elem(), b)
	require.Equal(t, make([]byte, 8), b[15:23])

	out = reading{}
	decodeRecord(&s, b, reflect.ValueOf(&out).Elem())
	require.True(t, out.At.IsZero())
	require.Equal(t, in, out)
}

func TestTimeDecodesAsUTC(t *testing.T) {
	var s, err = SchemaOf[reading]()
	require.NoError(t, err)

	var zone = time.FixedZone("UTC-5", -5*60*60)
	var in = reading{At: time.Date(2024, 3, 1, 7, 30, 0, 0, zone)}
	var b = make([]byte, s.Stride())
	encodeRecord(&s, reflect.ValueOf(&in).Elem(), b)

	var out reading
	decodeRecord(&s, b, reflect.ValueOf(&out).Elem())

	require.True(t, in.At.Equal(out.At))
	require.Equal(t, time.UTC, out.At.Location())
	require.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), out.At)
}

func TestTextTruncationPreservesUTF8(t *testing.T) {
	var cases = []struct {
		in     string
		n      int
		expect string
	}{
		{"hello", 8, "hello"},
		{"hello world", 5, "hello"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
		{"日本語", 2, ""},
		{"a😀b", 4, "a"},
		{"a😀b", 5, "a😀"},
	}
	for _, tc := range cases {
		var out = truncateUTF8(tc.in, tc.n)
		require.Equal(t, tc.expect, out, "%+v", tc)
		require.True(t, utf8.ValidString(out))
	}

	type label struct {
		Text string `talus:"size=7"`
	}
	var s, err = SchemaOf[label]()
	require.NoError(t, err)

	var b = make([]byte, s.Stride())
	var in = label{Text: strings.Repeat("ü", 5)} // Ten bytes.
	encodeRecord(&s, reflect.ValueOf(&in).Elem(), b)

	var out label
	decodeRecord(&s, b, reflect.ValueOf(&out).Elem())
	require.Equal(t, "üüü", out.Text)
}
