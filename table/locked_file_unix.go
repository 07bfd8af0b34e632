//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package table

import (
	"os"
	"syscall"
)

type unixLockedFile struct {
	file *os.File
}

// openLockedFile opens |path| and takes a non-blocking exclusive flock on it.
// Locks are held per open file description, so a second open of the same
// path fails even from within this process.
func openLockedFile(path string, flag int, perm os.FileMode) (lockedFile, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	if err = setFileLock(f, true); err != nil {
		f.Close()
		return nil, err
	}
	return &unixLockedFile{file: f}, nil
}

func (f *unixLockedFile) File() *os.File {
	return f.file
}

func (f *unixLockedFile) Close() error {
	if err := setFileLock(f.file, false); err != nil {
		f.file.Close()
		return err
	}
	return f.file.Close()
}

func setFileLock(f *os.File, lock bool) error {
	how := syscall.LOCK_UN
	if lock {
		how = syscall.LOCK_EX
	}
	return syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB)
}
