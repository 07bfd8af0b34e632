// Package table implements the TalusDB storage engine: file-backed,
// fixed-capacity ring buffers which retain a bounded window of recent records.
//
// Each table is a single file composed of a 32-byte header followed by a
// ring-shaped data region. Two record encodings are offered:
//
//   - Fixed[T] stores records of a constant stride, derived from the Schema of
//     the Go struct T. Numeric fields are encoded little-endian at their
//     natural width, time.Time fields as 64-bit Unix nanoseconds, and text
//     fields within a declared maximum byte length (`talus:"size=N"`).
//   - Variable[T] stores arbitrary JSON-serializable records as chains of
//     fixed-size blocks. The first byte of a record's first block is a marker
//     (0xFF for live records, 0x00 for removed ones), and the record's extent
//     is discovered by scanning forward for the next marker.
//
// When a table is full, Insert evicts the oldest record (an overrun). Remove
// and Peek of an empty table report an underrun. Both conditions are latched
// until Truncate, are observable through events, and may be promoted to errors
// via Options. Optional high- and low-water levels raise one-shot events as
// the record count crosses them.
//
// Every operation of a table is serialized by a single mutex, and the table
// file is held under an exclusive advisory lock for as long as it is open.
package table
