// Package sqlite implements sqlite:// sinks, which write delivered content
// as rows of a local SQLite database. A SQLite sink is a durable outbox for
// devices which forward deliveries by other means.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/sinks"
)

// SinkQueryArgs contains fields that are parsed from the query arguments
// of a sqlite:// sink URL.
type SinkQueryArgs struct {
	// Table which holds delivered content. Defaults to "talus_deliveries".
	Table string
	// JournalMode of the database. Defaults to "WAL".
	JournalMode string
	// BusyTimeout of the database connection, in milliseconds.
	BusyTimeout int
}

type sink struct {
	path string
	args SinkQueryArgs
	db   *sql.DB
}

// New creates a new SQLite Sink from the provided URL, of form
// sqlite:///path/to/database.db. The database is created if it doesn't exist.
func New(ep *url.URL) (sinks.Sink, error) {
	var args = SinkQueryArgs{
		Table:       "talus_deliveries",
		JournalMode: "WAL",
		BusyTimeout: 5000,
	}
	if err := sinks.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	} else if ep.Path == "" || ep.Path == "/" {
		return nil, errors.New("sqlite:// URL must include a database path")
	} else if !validTableName(args.Table) {
		return nil, errors.Errorf("invalid table name %q", args.Table)
	}
	return open(ep.Path, args)
}

func open(path string, args SinkQueryArgs) (*sink, error) {
	var uri = "file:" + path + "?" + url.Values{
		"_journal_mode": {args.JournalMode},
		"_busy_timeout": {strconv.Itoa(args.BusyTimeout)},
	}.Encode()

	var db, err = sql.Open("sqlite3", uri)
	if err != nil {
		return nil, errors.WithMessage(err, "opening SQLite DB")
	}
	// SQLite serializes writers regardless.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS ` + args.Table + ` (
			path     TEXT PRIMARY KEY NOT NULL,
			content  BLOB NOT NULL,
			encoding TEXT NOT NULL,
			modified INTEGER NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "creating deliveries table")
	}

	log.WithFields(log.Fields{
		"path":  path,
		"table": args.Table,
	}).Info("opened SQLite sink")

	return &sink{path: path, args: args, db: db}, nil
}

func (s *sink) Provider() string { return "sqlite" }

func (s *sink) SignGet(string, time.Duration) (string, error) {
	return "", errors.New("sqlite sinks don't support signed URLs")
}

func (s *sink) Exists(ctx context.Context, path string) (bool, error) {
	var n int
	var err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+s.args.Table+` WHERE path = ?`, path).Scan(&n)
	return n != 0, err
}

func (s *sink) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var content []byte
	var err = s.db.QueryRowContext(ctx,
		`SELECT content FROM `+s.args.Table+` WHERE path = ?`, path).Scan(&content)

	if err == sql.ErrNoRows {
		return nil, errors.Errorf("path not found: %s", path)
	} else if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *sink) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var buf = make([]byte, contentLength)
	if _, err := io.ReadFull(io.NewSectionReader(content, 0, contentLength), buf); err != nil {
		return errors.WithMessage(err, "reading content")
	}
	var _, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+s.args.Table+` (path, content, encoding, modified) VALUES (?, ?, ?, ?)`,
		path, buf, contentEncoding, timeNow().UnixNano())
	return err
}

func (s *sink) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var rows, err = s.db.QueryContext(ctx,
		`SELECT path, modified FROM `+s.args.Table+` WHERE substr(path, 1, length(?1)) = ?1 ORDER BY path`, prefix)
	if err != nil {
		return err
	}

	type listed struct {
		path     string
		modified int64
	}
	var all []listed

	for rows.Next() {
		var l listed
		if err = rows.Scan(&l.path, &l.modified); err != nil {
			_ = rows.Close()
			return err
		}
		all = append(all, l)
	}
	if err = rows.Close(); err != nil {
		return err
	} else if err = rows.Err(); err != nil {
		return err
	}

	for _, l := range all {
		if err = callback(strings.TrimPrefix(l.path, prefix), time.Unix(0, l.modified)); err != nil {
			return err
		}
	}
	return nil
}

func (s *sink) Remove(ctx context.Context, path string) error {
	var res, err = s.db.ExecContext(ctx, `DELETE FROM `+s.args.Table+` WHERE path = ?`, path)
	if err != nil {
		return err
	} else if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("path not found: %s", path)
	}
	return nil
}

func (s *sink) IsAuthError(err error) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code {
	case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly, sqlite3.ErrCantOpen:
		return true
	}
	return false
}

func validTableName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i != 0:
		default:
			return false
		}
	}
	return true
}

var timeNow = time.Now
