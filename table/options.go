package table

// DefaultBlockSize is the block size of variable-length tables.
const DefaultBlockSize = 16

// Options configure a table at creation or open.
type Options struct {
	// Name of the table, used in events, logs and metrics.
	// If empty, the base name of the table file is used.
	Name string
	// StreamBehavior of the table file handle. Defaults to KeepOpen.
	StreamBehavior StreamBehavior
	// SyncOnWrite fsyncs the file after every mutating operation.
	SyncOnWrite bool
	// OverrunIsError causes Insert into a full table to fail with ErrOverrun,
	// rather than evicting the oldest record.
	OverrunIsError bool
	// UnderrunIsError causes Remove and Peek of an empty table to fail with
	// ErrUnderrun, rather than returning no record.
	UnderrunIsError bool
	// HighWaterLevel is the initial high-water level. Zero disables it.
	HighWaterLevel int
	// LowWaterLevel is the initial low-water level. Zero disables it.
	LowWaterLevel int
	// BlockSize of a variable-length table. Ignored by fixed tables.
	// Zero means DefaultBlockSize when creating, or the persisted block size
	// when opening.
	BlockSize int
	// Codec of variable-length table payloads. Defaults to JSON.
	Codec PayloadCodec
}
