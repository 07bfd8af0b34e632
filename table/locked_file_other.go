//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd)

package table

import (
	"os"
)

// plainFile is used on platforms without flock. Exclusive access is not
// enforced.
type plainFile struct {
	file *os.File
}

func openLockedFile(path string, flag int, perm os.FileMode) (lockedFile, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return &plainFile{file: f}, nil
}

func (f *plainFile) File() *os.File { return f.file }

func (f *plainFile) Close() error { return f.file.Close() }
