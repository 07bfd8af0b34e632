package table

import (
	"io"
	"io/fs"
	"os"

	"github.com/pkg/errors"
)

// StreamBehavior determines how a table holds its underlying file handle.
// Both behaviors serialize operations identically.
type StreamBehavior int

const (
	// KeepOpen holds a single locked handle for the lifetime of the table.
	// Content of a completed operation is handed to the OS, but is not made
	// durable unless Options.SyncOnWrite is also set.
	KeepOpen StreamBehavior = iota
	// AlwaysNew opens, locks, and closes the file around every operation.
	AlwaysNew
)

func (b StreamBehavior) String() string {
	switch b {
	case KeepOpen:
		return "KeepOpen"
	case AlwaysNew:
		return "AlwaysNew"
	default:
		return "StreamBehavior(?)"
	}
}

// tableFile manages the handle of a table file under a StreamBehavior.
// It's not itself thread-safe: callers hold the table lock.
type tableFile struct {
	path        string
	behavior    StreamBehavior
	syncOnWrite bool
	held        lockedFile // Set iff behavior is KeepOpen and the file is open.
}

// createTableFile exclusively creates the file at |path| with header |hdr|.
func createTableFile(path string, behavior StreamBehavior, syncOnWrite bool, hdr header) (*tableFile, error) {
	var lf, err = openLockedFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil, errors.WithMessage(ErrAlreadyExists, path)
	} else if err != nil {
		return nil, ioError("create", path, err)
	}

	if _, err = lf.File().WriteAt(hdr.marshal(), 0); err == nil && syncOnWrite {
		err = lf.File().Sync()
	}
	if err != nil {
		_ = lf.Close()
		_ = os.Remove(path)
		return nil, ioError("write header", path, err)
	}
	return finishOpen(lf, path, behavior, syncOnWrite)
}

// openTableFile opens the existing file at |path|, returning its header.
func openTableFile(path string, behavior StreamBehavior, syncOnWrite bool) (*tableFile, header, error) {
	var lf, err = openLockedFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, header{}, errors.WithMessage(ErrNotFound, path)
	} else if err != nil {
		return nil, header{}, ioError("open", path, err)
	}

	var b = make([]byte, HeaderSize)
	if _, err = io.ReadFull(io.NewSectionReader(lf.File(), 0, HeaderSize), b); err != nil {
		_ = lf.Close()
		return nil, header{}, ioError("read header", path, err)
	}
	hdr, err := unmarshalHeader(b)
	if err != nil {
		_ = lf.Close()
		return nil, header{}, errors.WithMessage(err, path)
	}

	f, err := finishOpen(lf, path, behavior, syncOnWrite)
	return f, hdr, err
}

func finishOpen(lf lockedFile, path string, behavior StreamBehavior, syncOnWrite bool) (*tableFile, error) {
	var f = &tableFile{
		path:        path,
		behavior:    behavior,
		syncOnWrite: syncOnWrite,
	}
	if behavior == KeepOpen {
		f.held = lf
	} else if err := lf.Close(); err != nil {
		return nil, ioError("close", path, err)
	}
	return f, nil
}

// do invokes |fn| with an open handle of the file. If |mutating| and the
// file is configured to sync on write, the file is synced after |fn| succeeds.
func (f *tableFile) do(mutating bool, fn func(*os.File) error) error {
	var lf lockedFile

	switch {
	case f.behavior == KeepOpen && f.held == nil:
		return ErrClosed
	case f.behavior == KeepOpen:
		lf = f.held
	default:
		var err error
		if lf, err = openLockedFile(f.path, os.O_RDWR, 0); err != nil {
			return ioError("open", f.path, err)
		}
	}

	var err = fn(lf.File())
	if err == nil && mutating && f.syncOnWrite {
		err = ioError("sync", f.path, lf.File().Sync())
	}
	if f.behavior == AlwaysNew {
		if cerr := lf.Close(); cerr != nil && err == nil {
			err = ioError("close", f.path, cerr)
		}
	}
	return err
}

func (f *tableFile) close() error {
	if f.held == nil {
		return nil
	}
	var err = f.held.Close()
	f.held = nil
	return ioError("close", f.path, err)
}

// readAt fills |b| from offset |off|. Content beyond the end of the file
// reads as zeros, as the data region is only extended as it's written.
func readAt(file *os.File, b []byte, off int64) error {
	var n, err = file.ReadAt(b, off)
	if err == io.EOF {
		clear(b[n:])
		return nil
	}
	return err
}
