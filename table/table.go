package table

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// Table is the type-erased interface of Fixed and Variable tables, used by
// catalogs and publishers which handle tables of any record type.
type Table interface {
	Name() string
	Path() string
	Count() int
	Capacity() int
	PublicationEnabled() bool
	SetPublicationEnabled(bool)
	Subscribe(func(Event)) (cancel func())

	// PeekItem returns the oldest record and its Position, without removing
	// it. If the table is empty, |ok| is false. A record which cannot be
	// decoded returns its Position and an error matching ErrCorruptRecord.
	PeekItem() (item any, pos Position, ok bool, err error)
	// RemoveItem removes the oldest record without decoding it, if it's
	// still the record peeked at |pos|. Otherwise nothing is removed and
	// |ok| is false.
	RemoveItem(pos Position) (ok bool, err error)

	Truncate() error
	Close() error
}

// Position identifies the oldest record of a table as of a PeekItem.
// Removal or eviction of that record invalidates the Position.
type Position struct {
	// Offset of the record within the table file.
	Offset int64
	// Gen is the number of times the table's tail had moved when the record
	// was peeked.
	Gen uint64
}

// Info describes a table file, as read from its header.
type Info struct {
	Path      string
	Variable  bool
	Stride    int
	BlockSize int
	Capacity  int
	Count     int
	Head      int64
	Tail      int64
	// FileSize is the current size of the table file, including its header.
	FileSize int64
}

// Stat reads the header of the table file at |path| without opening it as a
// table. It doesn't take the file lock, and may be used on open tables.
func Stat(path string) (Info, error) {
	var f, err = os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, errors.WithMessage(ErrNotFound, path)
	} else if err != nil {
		return Info{}, ioError("open", path, err)
	}
	defer f.Close()

	var b = make([]byte, HeaderSize)
	if _, err = io.ReadFull(f, b); err != nil {
		return Info{}, ioError("read header", path, err)
	}
	hdr, err := unmarshalHeader(b)
	if err != nil {
		return Info{}, errors.WithMessage(err, path)
	}
	fi, err := f.Stat()
	if err != nil {
		return Info{}, ioError("stat", path, err)
	}

	return Info{
		Path:      path,
		Variable:  hdr.variable(),
		Stride:    int(hdr.Stride),
		BlockSize: int(hdr.BlockSize),
		Capacity:  int(hdr.Capacity),
		Count:     int(hdr.Count),
		Head:      hdr.Head,
		Tail:      hdr.Tail,
		FileSize:  fi.Size(),
	}, nil
}
