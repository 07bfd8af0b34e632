package table

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvanceWrapsAtRegionEnd(t *testing.T) {
	var cases = []struct {
		offset, unit, start, end, expect int64
	}{
		{32, 8, 32, 72, 40},
		{56, 8, 32, 72, 64},
		{64, 8, 32, 72, 32},
		{32, 40, 32, 72, 32},
		{48, 16, 32, 96, 64},
		{80, 16, 32, 96, 32},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expect, advance(tc.offset, tc.unit, tc.start, tc.end), "%+v", tc)
	}

	var hdr = newHeader(10, 3, 0)
	require.Equal(t, int64(HeaderSize+10), hdr.advanceUnits(HeaderSize, 1))
	require.Equal(t, int64(HeaderSize+20), hdr.advanceUnits(HeaderSize, 2))
	require.Equal(t, int64(HeaderSize), hdr.advanceUnits(HeaderSize, 3))
	require.Equal(t, int64(HeaderSize+10), hdr.advanceUnits(HeaderSize+20, 2))
}

func TestHeaderMarshalRoundTrip(t *testing.T) {
	var hdr = newHeader(0, 10, 16)
	hdr.Head, hdr.Tail, hdr.Count = HeaderSize+48, HeaderSize+16, 2

	var b = hdr.marshal()
	require.Len(t, b, HeaderSize)
	// Fields are Head, Tail, Stride, Capacity, Count, and BlockSize.
	require.Equal(t, []byte{80, 0, 0, 0}, b[0:4])
	require.Equal(t, []byte{48, 0, 0, 0}, b[4:8])
	require.Equal(t, []byte{0, 0, 0, 0}, b[8:12])
	require.Equal(t, []byte{10, 0, 0, 0}, b[12:16])
	require.Equal(t, []byte{2, 0, 0, 0}, b[16:20])
	require.Equal(t, []byte{16, 0, 0, 0}, b[20:24])
	require.Equal(t, make([]byte, 8), b[24:])

	out, err := unmarshalHeader(b)
	require.NoError(t, err)
	require.Equal(t, hdr, out)
}

func TestHeaderValidationCases(t *testing.T) {
	var good = newHeader(8, 4, 0)
	require.NoError(t, good.validate())

	var cases = []func(h *header){
		func(h *header) { h.Capacity = 0 },
		func(h *header) { h.Stride = -1 },
		func(h *header) { h.BlockSize = 16 },
		func(h *header) { h.Stride = 0 },
		func(h *header) { h.Count = 5 },
		func(h *header) { h.Head = HeaderSize + 4 },
		func(h *header) { h.Tail = HeaderSize + 4*8 },
		func(h *header) { h.Head = HeaderSize - 8 },
	}
	for _, fn := range cases {
		var h = good
		fn(&h)
		require.ErrorIs(t, h.validate(), ErrCorruptHeader)
	}

	var _, err = unmarshalHeader(make([]byte, 12))
	require.ErrorIs(t, err, ErrCorruptHeader)
}
