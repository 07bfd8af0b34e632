// Package catalog is a registry of the TalusDB tables within a root
// directory. Table files and a line-oriented catalog file (".meta", of
// "name|descriptor" lines) live under the root's ".talusdb" subdirectory.
//
// The catalog maps table names to open table instances. It never mutates
// table internals: it creates, opens, closes and deletes tables as wholes.
package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.talusdb.dev/core/table"
)

// DirName is the subdirectory of a root which holds a catalog.
const DirName = ".talusdb"

// MetaFile is the name of the catalog file within DirName.
const MetaFile = ".meta"

// DB is a catalog of tables.
type DB struct {
	dir string
	fs  afero.Fs

	mu       sync.Mutex
	tables   map[string]table.Table
	watchers map[int]func(table.Table)
	nextID   int
	closed   bool
}

// Open the catalog of |root|, which must be an existing directory. The
// catalog directory is created if it doesn't exist.
func Open(root string) (*DB, error) {
	return open(afero.NewOsFs(), root)
}

func open(fs afero.Fs, root string) (*DB, error) {
	if fi, err := fs.Stat(root); err != nil {
		return nil, errors.WithMessage(err, "stat root")
	} else if !fi.IsDir() {
		return nil, errors.Errorf("root %s is not a directory", root)
	}
	var dir, err = filepath.Abs(filepath.Join(root, DirName))
	if err != nil {
		return nil, err
	}
	if err = fs.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WithMessage(err, "creating catalog directory")
	}

	log.WithField("dir", dir).Debug("opened catalog")

	return &DB{
		dir:      dir,
		fs:       fs,
		tables:   make(map[string]table.Table),
		watchers: make(map[int]func(table.Table)),
	}, nil
}

// Dir is the catalog directory holding table files.
func (db *DB) Dir() string { return db.dir }

// Path of the table file for |name|.
func (db *DB) Path(name string) string { return filepath.Join(db.dir, name) }

func (db *DB) metaPath() string { return filepath.Join(db.dir, MetaFile) }

// NameOf returns the default table name of record type T, which is the
// name of the type.
func NameOf[T any]() string {
	var rt = reflect.TypeOf((*T)(nil)).Elem()
	if rt.Name() != "" {
		return rt.Name()
	}
	return rt.String()
}

// ValidateName returns an error if |name| cannot name a table.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("table name is empty")
	case strings.HasPrefix(name, "."):
		return errors.Errorf("table name %q may not begin with '.'", name)
	case strings.ContainsAny(name, "|/\\\n\r"):
		return errors.Errorf("table name %q may not contain '|', path separators, or newlines", name)
	}
	return nil
}

// FixedDescriptor is the catalog descriptor of a fixed table of |schema|.
func FixedDescriptor(schema table.Schema) string { return "fixed:" + schema.String() }

// VariableDescriptor is the catalog descriptor of variable tables.
const VariableDescriptor = "variable:json"

// CreateFixed creates the fixed table |name| of records T, with room for
// |capacity| records. If |name| is empty, NameOf[T] is used.
func CreateFixed[T any](db *DB, name string, capacity int, opts table.Options) (*table.Fixed[T], error) {
	var schema, err = table.SchemaOf[T]()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = NameOf[T]()
	}
	opts.Name = name

	return create(db, name, FixedDescriptor(schema), func(path string) (*table.Fixed[T], error) {
		return table.CreateFixed[T](path, capacity, opts)
	})
}

// OpenFixed opens the existing fixed table |name| of records T. If the
// table is already open within the DB, its instance is returned.
func OpenFixed[T any](db *DB, name string, opts table.Options) (*table.Fixed[T], error) {
	var schema, err = table.SchemaOf[T]()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = NameOf[T]()
	}
	opts.Name = name

	return openTable(db, name, FixedDescriptor(schema), func(path string) (*table.Fixed[T], error) {
		return table.OpenFixed[T](path, opts)
	})
}

// CreateVariable creates the variable table |name| of records T, with room
// for |capacity| blocks. If |name| is empty, NameOf[T] is used.
func CreateVariable[T any](db *DB, name string, capacity int, opts table.Options) (*table.Variable[T], error) {
	if name == "" {
		name = NameOf[T]()
	}
	opts.Name = name

	return create(db, name, VariableDescriptor, func(path string) (*table.Variable[T], error) {
		return table.CreateVariable[T](path, capacity, opts)
	})
}

// OpenVariable opens the existing variable table |name| of records T. If
// the table is already open within the DB, its instance is returned.
func OpenVariable[T any](db *DB, name string, opts table.Options) (*table.Variable[T], error) {
	if name == "" {
		name = NameOf[T]()
	}
	opts.Name = name

	return openTable(db, name, VariableDescriptor, func(path string) (*table.Variable[T], error) {
		return table.OpenVariable[T](path, opts)
	})
}

// CreateDynamic creates the fixed table |name| of Records of |schema|, with
// room for |capacity| records. The table may be opened by OpenFixed of a
// record type having an equivalent Schema.
func CreateDynamic(db *DB, name string, schema table.Schema, capacity int, opts table.Options) (*table.Dynamic, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	opts.Name = name

	return create(db, name, FixedDescriptor(schema), func(path string) (*table.Dynamic, error) {
		return table.CreateDynamic(path, schema, capacity, opts)
	})
}

// OpenTable opens the existing table |name| of any record type. If the table
// is already open within the DB, its instance is returned. Otherwise fixed
// tables are opened as *table.Dynamic using their cataloged Schema, and
// variable tables as *table.Variable[any].
func OpenTable(db *DB, name string, opts table.Options) (table.Table, error) {
	var desc, err = db.Describe(name)
	if err != nil {
		return nil, err
	}
	opts.Name = name

	if fields, ok := strings.CutPrefix(desc, "fixed:"); ok {
		var schema, err = table.ParseSchema(fields)
		if err != nil {
			return nil, errors.WithMessagef(err, "table %s", name)
		}
		return openTable(db, name, desc, func(path string) (table.Table, error) {
			return table.OpenDynamic(path, schema, opts)
		})
	} else if desc == VariableDescriptor {
		return openTable(db, name, desc, func(path string) (table.Table, error) {
			return table.OpenVariable[any](path, opts)
		})
	}
	return nil, errors.WithMessagef(table.ErrSchemaMismatch, "table %s has unknown descriptor %q", name, desc)
}

func create[TT table.Table](db *DB, name, desc string, fn func(path string) (TT, error)) (TT, error) {
	var zero TT
	if err := ValidateName(name); err != nil {
		return zero, err
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return zero, table.ErrClosed
	}
	var entries, err = readMeta(db.fs, db.metaPath())
	if err != nil {
		db.mu.Unlock()
		return zero, err
	} else if _, ok := findMeta(entries, name); ok {
		db.mu.Unlock()
		return zero, errors.WithMessage(table.ErrAlreadyExists, name)
	}

	tbl, err := fn(db.Path(name))
	if err != nil {
		db.mu.Unlock()
		return zero, err
	}
	entries = append(entries, metaEntry{Name: name, Descriptor: desc})

	if err = writeMeta(db.fs, db.metaPath(), entries); err != nil {
		_ = tbl.Close()
		_ = os.Remove(db.Path(name))
		db.mu.Unlock()
		return zero, err
	}
	db.tables[name] = tbl
	var watchers = db.snapshotWatchers()
	db.mu.Unlock()

	log.WithFields(log.Fields{"name": name, "descriptor": desc}).Info("created table")
	notifyWatchers(watchers, tbl)
	return tbl, nil
}

func openTable[TT table.Table](db *DB, name, desc string, fn func(path string) (TT, error)) (TT, error) {
	var zero TT

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return zero, table.ErrClosed
	}
	var entries, err = readMeta(db.fs, db.metaPath())
	if err != nil {
		db.mu.Unlock()
		return zero, err
	}
	var entry, ok = findMeta(entries, name)
	if !ok {
		db.mu.Unlock()
		return zero, errors.WithMessage(table.ErrNotFound, name)
	} else if entry.Descriptor != desc {
		db.mu.Unlock()
		return zero, errors.WithMessagef(table.ErrSchemaMismatch,
			"table %s is %q, not %q", name, entry.Descriptor, desc)
	}

	if cur, ok := db.tables[name]; ok {
		db.mu.Unlock()
		if tt, ok := cur.(TT); ok {
			return tt, nil
		}
		return zero, errors.WithMessagef(table.ErrSchemaMismatch,
			"table %s is open as %T", name, cur)
	}

	tbl, err := fn(db.Path(name))
	if err != nil {
		db.mu.Unlock()
		return zero, err
	}
	db.tables[name] = tbl
	var watchers = db.snapshotWatchers()
	db.mu.Unlock()

	notifyWatchers(watchers, tbl)
	return tbl, nil
}

// Exists returns whether table |name| is in the catalog.
func (db *DB) Exists(name string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entries, err = readMeta(db.fs, db.metaPath())
	if err != nil {
		return false, err
	}
	var _, ok = findMeta(entries, name)
	return ok, nil
}

// Describe returns the catalog descriptor of table |name|.
func (db *DB) Describe(name string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entries, err = readMeta(db.fs, db.metaPath())
	if err != nil {
		return "", err
	}
	if e, ok := findMeta(entries, name); ok {
		return e.Descriptor, nil
	}
	return "", errors.WithMessage(table.ErrNotFound, name)
}

// Names returns the names of all cataloged tables, in catalog order.
func (db *DB) Names() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entries, err = readMeta(db.fs, db.metaPath())
	if err != nil {
		return nil, err
	}
	var out = make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out, nil
}

// Drop closes table |name| if it's open, removes it from the catalog, and
// deletes its file.
func (db *DB) Drop(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entries, err = readMeta(db.fs, db.metaPath())
	if err != nil {
		return err
	}
	var kept = entries[:0]
	for _, e := range entries {
		if e.Name != name {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return errors.WithMessage(table.ErrNotFound, name)
	}

	if tbl, ok := db.tables[name]; ok {
		delete(db.tables, name)
		if err = tbl.Close(); err != nil {
			return errors.WithMessage(err, "closing table")
		}
	}
	if err = writeMeta(db.fs, db.metaPath(), kept); err != nil {
		return err
	}
	if err = db.fs.Remove(db.Path(name)); err != nil && !os.IsNotExist(err) {
		return errors.WithMessage(err, "removing table file")
	}

	log.WithField("name", name).Info("dropped table")
	return nil
}

// Tables returns the tables currently open within the DB, ordered on name.
func (db *DB) Tables() []table.Table {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out = make([]table.Table, 0, len(db.tables))
	for _, tbl := range db.tables {
		out = append(out, tbl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Watch calls |fn| with each table subsequently created or opened within
// the DB. The returned function cancels the watch.
func (db *DB) Watch(fn func(table.Table)) (cancel func()) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var id = db.nextID
	db.nextID++
	db.watchers[id] = fn

	return func() {
		db.mu.Lock()
		delete(db.watchers, id)
		db.mu.Unlock()
	}
}

// Close all open tables of the DB.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var firstErr error
	for name, tbl := range db.tables {
		if err := tbl.Close(); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "closing %s", name)
		}
	}
	db.tables = make(map[string]table.Table)
	db.closed = true
	return firstErr
}

func (db *DB) snapshotWatchers() []func(table.Table) {
	var ids = make([]int, 0, len(db.watchers))
	for id := range db.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var out = make([]func(table.Table), len(ids))
	for i, id := range ids {
		out[i] = db.watchers[id]
	}
	return out
}

func notifyWatchers(watchers []func(table.Table), tbl table.Table) {
	for _, fn := range watchers {
		fn(tbl)
	}
}
