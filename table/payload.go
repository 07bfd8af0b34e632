package table

import "github.com/sugawarayuuta/sonnet"

// PayloadCodec encodes and decodes the records of a Variable table.
// Encodings must not produce the marker bytes 0x00 or 0xFF, and should not
// end with the padding byte 0x20 (trailing padding is trimmed on decode).
type PayloadCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the default PayloadCodec. Its output is UTF-8 text with control
// characters escaped, and can contain neither marker byte.
var JSON PayloadCodec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return sonnet.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return sonnet.Unmarshal(data, v) }
