package table

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema is returned when a record type cannot be encoded at a fixed width.
	ErrSchema = errors.New("unsupported record schema")
	// ErrAlreadyExists is returned by Create when the table file already exists.
	ErrAlreadyExists = errors.New("table already exists")
	// ErrNotFound is returned by Open when the table file does not exist.
	ErrNotFound = errors.New("table not found")
	// ErrSchemaMismatch is returned when a persisted header disagrees with the
	// caller's schema.
	ErrSchemaMismatch = errors.New("table schema mismatch")
	// ErrOverrun is returned by Insert into a full table which is configured
	// with Options.OverrunIsError.
	ErrOverrun = errors.New("overrun")
	// ErrUnderrun is returned by Remove or Peek of an empty table which is
	// configured with Options.UnderrunIsError.
	ErrUnderrun = errors.New("underrun")
	// ErrRecordTooLarge is returned when a variable-length record requires
	// more blocks than the table's capacity.
	ErrRecordTooLarge = errors.New("record exceeds table capacity")
	// ErrMarkerInPayload is returned when an encoded variable-length payload
	// contains a marker byte, which would corrupt record discovery.
	ErrMarkerInPayload = errors.New("payload contains a block marker byte")
	// ErrCorruptHeader is returned when a persisted header is internally inconsistent.
	ErrCorruptHeader = errors.New("corrupt table header")
	// ErrCorruptRecord is returned when a persisted record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt table record")
	// ErrClosed is returned by operations of a closed table.
	ErrClosed = errors.New("table closed")
)

// IOError wraps a failure of the underlying table file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
