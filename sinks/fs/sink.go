// Package fs implements file:// sinks, which write delivered content as
// files beneath a local directory.
package fs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.talusdb.dev/core/sinks"
)

// SinkRoot is the filesystem path which roots the paths of file:// sink
// URLs. The default permits sink URLs of absolute paths.
var SinkRoot = "/"

// SinkQueryArgs contains fields that are parsed from the query arguments
// of a file:// sink URL.
type SinkQueryArgs struct {
	// Create the sink directory if it doesn't exist. Otherwise, a missing
	// directory fails each Put.
	Create bool
}

type sink struct {
	args   SinkQueryArgs
	fs     afero.Fs
	prefix string
}

// New creates a new filesystem Sink from the provided URL.
func New(ep *url.URL) (sinks.Sink, error) {
	var args SinkQueryArgs
	if err := sinks.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	return NewWithFs(afero.NewBasePathFs(afero.NewOsFs(), SinkRoot), ep.Path, args)
}

// NewWithFs returns a Sink which writes beneath |prefix| of |afs|.
func NewWithFs(afs afero.Fs, prefix string, args SinkQueryArgs) (sinks.Sink, error) {
	prefix = path.Clean("/" + prefix)

	if args.Create {
		if err := afs.MkdirAll(filepath.FromSlash(prefix), 0750); err != nil {
			return nil, pkgerrors.WithMessage(err, "creating sink directory")
		}
	}
	return &sink{args: args, fs: afs, prefix: prefix}, nil
}

func (s *sink) Provider() string { return "fs" }

func (s *sink) fsPath(p string) string {
	return filepath.FromSlash(path.Join(s.prefix, p))
}

func (s *sink) SignGet(p string, _ time.Duration) (string, error) {
	return "file://" + path.Join(s.prefix, p), nil
}

func (s *sink) Exists(_ context.Context, p string) (bool, error) {
	if _, err := s.fs.Stat(s.fsPath(p)); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sink) Get(_ context.Context, p string) (io.ReadCloser, error) {
	return s.fs.Open(s.fsPath(p))
}

func (s *sink) Put(_ context.Context, p string, content io.ReaderAt, contentLength int64, _ string) error {
	if fi, err := s.fs.Stat(filepath.FromSlash(s.prefix)); err != nil {
		return pkgerrors.WithMessagef(err, "%s %s", invalidSinkDirectory, s.prefix)
	} else if !fi.IsDir() {
		return pkgerrors.Errorf("%s %s: not a directory", invalidSinkDirectory, s.prefix)
	}
	var fsPath = s.fsPath(p)

	if err := s.fs.MkdirAll(filepath.Dir(fsPath), 0750); err != nil {
		return err
	}
	// Write to a temporary file which is renamed into place, so that
	// partial content is never observed at |fsPath|.
	var f, err = afero.TempFile(s.fs, filepath.Dir(fsPath), ".partial-"+filepath.Base(fsPath))
	if err != nil {
		return err
	}
	defer func(name string) {
		if rmErr := s.fs.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithFields(log.Fields{"err": rmErr, "path": fsPath}).
				Warn("failed to cleanup temp file")
		}
	}(f.Name())

	_, err = io.Copy(f, io.NewSectionReader(content, 0, contentLength))

	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = s.fs.Rename(f.Name(), fsPath)
	}
	return err
}

func (s *sink) List(_ context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var dir = s.fsPath(prefix)

	if _, err := s.fs.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return afero.Walk(s.fs, dir, func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		} else if info.IsDir() {
			return nil // Descend into directory.
		} else if strings.HasPrefix(info.Name(), ".partial-") {
			return nil
		}

		rel, err := filepath.Rel(dir, name)
		if err != nil {
			return err
		}
		return callback(filepath.ToSlash(rel), info.ModTime())
	})
}

func (s *sink) Remove(_ context.Context, p string) error {
	return s.fs.Remove(s.fsPath(p))
}

func (s *sink) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrPermission) || strings.Contains(err.Error(), invalidSinkDirectory)
}

const invalidSinkDirectory = "invalid file sink directory"
