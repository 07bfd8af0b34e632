// Package codecs compresses the payloads which sinks deliver.
package codecs

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Codec is a compression codec.
type Codec int

const (
	NONE Codec = iota
	GZIP
	SNAPPY
	ZSTANDARD
)

var codecNames = map[Codec]string{
	NONE:      "none",
	GZIP:      "gzip",
	SNAPPY:    "snappy",
	ZSTANDARD: "zstandard",
}

func (c Codec) String() string {
	if s, ok := codecNames[c]; ok {
		return s
	}
	return "Codec(" + strconv.Itoa(int(c)) + ")"
}

// Validate returns an error if the Codec is not known.
func (c Codec) Validate() error {
	if _, ok := codecNames[c]; !ok {
		return errors.Errorf("unknown codec %d", int(c))
	}
	return nil
}

// ContentEncoding is the HTTP Content-Encoding of content written with the
// Codec, or empty if the Codec doesn't map to a standard encoding.
func (c Codec) ContentEncoding() string {
	switch c {
	case GZIP:
		return "gzip"
	case ZSTANDARD:
		return "zstd"
	default:
		return ""
	}
}

// Extension is the file extension of content written with the Codec,
// including its leading '.', or empty for NONE.
func (c Codec) Extension() string {
	switch c {
	case GZIP:
		return ".gz"
	case SNAPPY:
		return ".sz"
	case ZSTANDARD:
		return ".zst"
	default:
		return ""
	}
}

// ParseCodec parses a Codec from its name. Matching is case-insensitive,
// and an empty name is NONE.
func ParseCodec(s string) (Codec, error) {
	var lower = strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return NONE, nil
	}
	for c, name := range codecNames {
		if name == lower {
			return c, nil
		}
	}
	return NONE, errors.Errorf("unknown codec %q", s)
}

// UnmarshalFlag parses a Codec from a command-line flag.
func (c *Codec) UnmarshalFlag(value string) (err error) {
	*c, err = ParseCodec(value)
	return
}

// MarshalFlag returns the name of the Codec.
func (c Codec) MarshalFlag() (string, error) { return c.String(), nil }

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with Codec.
func NewCodecReader(r io.Reader, codec Codec) (Decompressor, error) {
	switch codec {
	case NONE:
		return io.NopCloser(r), nil
	case GZIP:
		return gzip.NewReader(r)
	case SNAPPY:
		return io.NopCloser(snappy.NewReader(r)), nil
	case ZSTANDARD:
		return zstdNewReader(r)
	default:
		return nil, errors.Errorf("unsupported codec %s", codec)
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with Codec.
func NewCodecWriter(w io.Writer, codec Codec) (Compressor, error) {
	switch codec {
	case NONE:
		return nopWriteCloser{w}, nil
	case GZIP:
		return gzip.NewWriter(w), nil
	case SNAPPY:
		return snappy.NewBufferedWriter(w), nil
	case ZSTANDARD:
		return zstdNewWriter(w)
	default:
		return nil, errors.Errorf("unsupported codec %s", codec)
	}
}

// Compress returns |b| encoded with Codec.
func Compress(b []byte, codec Codec) ([]byte, error) {
	var buf bytes.Buffer
	var w, err = NewCodecWriter(&buf, codec)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(b); err != nil {
		return nil, errors.WithMessage(err, "compressing")
	} else if err = w.Close(); err != nil {
		return nil, errors.WithMessage(err, "closing compressor")
	}
	return buf.Bytes(), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	zstdNewReader = func(io.Reader) (io.ReadCloser, error) {
		return nil, errors.New("ZSTANDARD was not enabled at compile time")
	}
	zstdNewWriter = func(io.Writer) (io.WriteCloser, error) {
		return nil, errors.New("ZSTANDARD was not enabled at compile time")
	}
)
