package table

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed size of the table file header. Only the first 24
// bytes are used: the remainder is reserved and zero.
const HeaderSize = 32

// Byte offsets of header fields. Each is a little-endian int32.
const (
	headField      = 0
	tailField      = 4
	strideField    = 8
	capacityField  = 12
	countField     = 16
	blockSizeField = 20
)

// header is the in-memory cache of a table's persisted header. Head and Tail
// are absolute file offsets within the data region.
type header struct {
	Head      int64
	Tail      int64
	Stride    int64 // Zero for variable-length tables.
	Capacity  int64 // Records of a fixed table, or blocks of a variable table.
	Count     int64 // Live records.
	BlockSize int64 // Zero for fixed tables.
}

func newHeader(stride, capacity, blockSize int64) header {
	return header{
		Head:      HeaderSize,
		Tail:      HeaderSize,
		Stride:    stride,
		Capacity:  capacity,
		BlockSize: blockSize,
	}
}

// unit is the allocation unit of the data region.
func (h header) unit() int64 {
	if h.Stride != 0 {
		return h.Stride
	}
	return h.BlockSize
}

func (h header) regionStart() int64 { return HeaderSize }

func (h header) regionEnd() int64 { return HeaderSize + h.Capacity*h.unit() }

func (h header) regionSize() int64 { return h.Capacity * h.unit() }

func (h header) variable() bool { return h.Stride == 0 }

func (h header) marshal() []byte {
	var b = make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[headField:], uint32(h.Head))
	binary.LittleEndian.PutUint32(b[tailField:], uint32(h.Tail))
	binary.LittleEndian.PutUint32(b[strideField:], uint32(h.Stride))
	binary.LittleEndian.PutUint32(b[capacityField:], uint32(h.Capacity))
	binary.LittleEndian.PutUint32(b[countField:], uint32(h.Count))
	binary.LittleEndian.PutUint32(b[blockSizeField:], uint32(h.BlockSize))
	return b
}

func unmarshalHeader(b []byte) (header, error) {
	if len(b) < HeaderSize {
		return header{}, errors.WithMessagef(ErrCorruptHeader, "short header (%d bytes)", len(b))
	}
	var field = func(off int) int64 { return int64(int32(binary.LittleEndian.Uint32(b[off:]))) }

	var h = header{
		Head:      field(headField),
		Tail:      field(tailField),
		Stride:    field(strideField),
		Capacity:  field(capacityField),
		Count:     field(countField),
		BlockSize: field(blockSizeField),
	}
	return h, h.validate()
}

// MaxFileSize bounds the size of a table file, including its header, as
// header fields are int32 offsets.
const MaxFileSize = math.MaxInt32

// checkSize fails if the table described by the header cannot be addressed
// by int32 offsets.
func (h header) checkSize() error {
	if h.Capacity > MaxFileSize || h.unit() > MaxFileSize || h.regionEnd() > MaxFileSize {
		return errors.Errorf("table of %d units of %d bytes exceeds the maximum table file size (%d bytes)",
			h.Capacity, h.unit(), int64(MaxFileSize))
	}
	return nil
}

func (h header) validate() error {
	switch {
	case h.Capacity <= 0:
		return errors.WithMessagef(ErrCorruptHeader, "invalid capacity %d", h.Capacity)
	case h.Stride < 0 || h.BlockSize < 0:
		return errors.WithMessagef(ErrCorruptHeader, "invalid stride %d / block size %d", h.Stride, h.BlockSize)
	case (h.Stride == 0) == (h.BlockSize == 0):
		return errors.WithMessagef(ErrCorruptHeader, "exactly one of stride (%d) and block size (%d) must be set",
			h.Stride, h.BlockSize)
	case h.Count < 0 || h.Count > h.Capacity:
		return errors.WithMessagef(ErrCorruptHeader, "count %d outside [0, %d]", h.Count, h.Capacity)
	}
	for _, off := range []int64{h.Head, h.Tail} {
		if off < h.regionStart() || off >= h.regionEnd() || (off-HeaderSize)%h.unit() != 0 {
			return errors.WithMessagef(ErrCorruptHeader, "offset %d is not a unit boundary of [%d, %d)",
				off, h.regionStart(), h.regionEnd())
		}
	}
	return nil
}

// advance returns the offset following |offset| by |unit| bytes, wrapping to
// |start| if the result would reach |end|. Head and tail both move by this rule.
func advance(offset, unit, start, end int64) int64 {
	if offset+unit >= end {
		return start
	}
	return offset + unit
}

// advanceUnits advances |offset| by |n| allocation units of the header's region.
func (h header) advanceUnits(offset, n int64) int64 {
	for ; n != 0; n-- {
		offset = advance(offset, h.unit(), h.regionStart(), h.regionEnd())
	}
	return offset
}
