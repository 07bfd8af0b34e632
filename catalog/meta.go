package catalog

import (
	"bufio"
	"bytes"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// metaEntry is a line of the catalog file.
type metaEntry struct {
	Name       string
	Descriptor string
}

// readMeta reads the catalog file at |path|. A missing file is an empty catalog.
func readMeta(fs afero.Fs, path string) ([]metaEntry, error) {
	var b, err = afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithMessage(err, "reading catalog")
	}

	var out []metaEntry
	var s = bufio.NewScanner(bytes.NewReader(b))

	for s.Scan() {
		var line = strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		var name, desc, ok = strings.Cut(line, "|")
		if !ok || name == "" {
			return nil, errors.Errorf("malformed catalog line %q", line)
		}
		out = append(out, metaEntry{Name: name, Descriptor: desc})
	}
	return out, errors.WithMessage(s.Err(), "scanning catalog")
}

// writeMeta replaces the catalog file at |path| with |entries|.
func writeMeta(fs afero.Fs, path string, entries []metaEntry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(e.Name)
		buf.WriteByte('|')
		buf.WriteString(e.Descriptor)
		buf.WriteByte('\n')
	}

	// Write to a temporary file which is then atomically renamed, so that a
	// complete catalog is always read back.
	var next = path + ".next"
	var f, err = fs.OpenFile(next, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.WithMessage(err, "creating catalog")
	}
	if _, err = f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return errors.WithMessage(err, "writing catalog")
	} else if err = f.Sync(); err != nil {
		_ = f.Close()
		return errors.WithMessage(err, "syncing catalog")
	} else if err = f.Close(); err != nil {
		return errors.WithMessage(err, "closing catalog")
	} else if err = fs.Rename(next, path); err != nil {
		return errors.WithMessage(err, "renaming next => current")
	}
	return nil
}

func findMeta(entries []metaEntry, name string) (metaEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return metaEntry{}, false
}
