package codecs

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripWithEachCodec(t *testing.T) {
	var content = bytes.Repeat([]byte(`{"Seq":1,"Volt":3.3}`+"\n"), 64)

	for _, codec := range []Codec{NONE, GZIP, SNAPPY, ZSTANDARD} {
		var compressed, err = Compress(content, codec)
		require.NoError(t, err, codec.String())

		if codec != NONE {
			require.Less(t, len(compressed), len(content), codec.String())
		}

		r, err := NewCodecReader(bytes.NewReader(compressed), codec)
		require.NoError(t, err)
		out, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.Equal(t, content, out, codec.String())
	}
}

func TestCompressorDoesNotCloseWriter(t *testing.T) {
	var w = &closeTracker{}
	var c, err = NewCodecWriter(w, GZIP)
	require.NoError(t, err)
	_, err = c.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.False(t, w.closed)
	require.NotZero(t, w.Len())
}

func TestParseAndNaming(t *testing.T) {
	for _, tc := range []struct {
		in       string
		codec    Codec
		ext      string
		encoding string
	}{
		{"", NONE, "", ""},
		{"none", NONE, "", ""},
		{"GZIP", GZIP, ".gz", "gzip"},
		{" snappy ", SNAPPY, ".sz", ""},
		{"zstandard", ZSTANDARD, ".zst", "zstd"},
	} {
		var codec, err = ParseCodec(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.codec, codec)
		require.Equal(t, tc.ext, codec.Extension())
		require.Equal(t, tc.encoding, codec.ContentEncoding())
		require.NoError(t, codec.Validate())
	}

	var _, err = ParseCodec("lz4")
	require.EqualError(t, err, `unknown codec "lz4"`)

	require.Equal(t, "Codec(9)", Codec(9).String())
	require.EqualError(t, Codec(9).Validate(), "unknown codec 9")

	_, err = NewCodecWriter(io.Discard, Codec(9))
	require.EqualError(t, err, "unsupported codec Codec(9)")
	_, err = NewCodecReader(bytes.NewReader(nil), Codec(9))
	require.EqualError(t, err, "unsupported codec Codec(9)")

	var c Codec
	require.NoError(t, c.UnmarshalFlag("gzip"))
	require.Equal(t, GZIP, c)
	s, err := c.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "gzip", s)
	require.Error(t, c.UnmarshalFlag("bogus"))
}

type closeTracker struct {
	bytes.Buffer
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}
