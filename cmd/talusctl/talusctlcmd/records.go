package talusctlcmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sugawarayuuta/sonnet"
	"go.talusdb.dev/core/catalog"
	"go.talusdb.dev/core/table"
)

type cmdRecordsInsert struct {
	Input string `long:"input" short:"i" default:"-" description:"Input path of JSON records, one per line. Use '-' for stdin"`
}

type cmdRecordsPeek struct{}

type cmdRecordsRemove struct {
	Count int `long:"count" short:"n" default:"1" description:"Maximum number of records to remove. Zero removes all records"`
}

func init() {
	CommandRegistry.AddCommand("records", "insert", "Insert records into a table", `
Insert JSON records, one per line, as the newest records of --table.

Records of fixed-stride tables are JSON objects keyed on schema field name.
Fields which are omitted are zero-valued. Time fields are RFC 3339 strings
or Unix nanoseconds, and bytes fields are base64 strings. Records of
variable-length tables may be any JSON value.

>  echo '{"Index": 1, "Temp": 21.5}' | talusctl records insert --table SensorReading
`, &cmdRecordsInsert{})

	CommandRegistry.AddCommand("records", "peek", "Print the oldest record of a table", `
Print the oldest record of --table as JSON, without removing it. Nothing is
printed if the table is empty.
`, &cmdRecordsPeek{})

	CommandRegistry.AddCommand("records", "remove", "Remove the oldest records of a table", `
Remove up to --count of the oldest records of --table, printing each as JSON.
`, &cmdRecordsRemove{})
}

func (cmd *cmdRecordsInsert) Execute([]string) error {
	var db = startup(RecordsCfg.BaseConfig)
	defer db.Close()

	var tbl, err = catalog.OpenTable(db, RecordsCfg.Table, table.Options{})
	if err != nil {
		return err
	}

	var r = stdin
	if cmd.Input != "-" {
		var f *os.File
		if f, err = os.Open(cmd.Input); err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	var n, insertErr = insertRecords(tbl, r)
	_, _ = fmt.Fprintf(stdout, "inserted %d records into %s\n", n, tbl.Name())
	return insertErr
}

func (cmd *cmdRecordsPeek) Execute([]string) error {
	var db = startup(RecordsCfg.BaseConfig)
	defer db.Close()

	var tbl, err = catalog.OpenTable(db, RecordsCfg.Table, table.Options{})
	if err != nil {
		return err
	}
	item, _, ok, err := tbl.PeekItem()
	if err != nil || !ok {
		return err
	}
	return printRecord(item)
}

func (cmd *cmdRecordsRemove) Execute([]string) error {
	var db = startup(RecordsCfg.BaseConfig)
	defer db.Close()

	var tbl, err = catalog.OpenTable(db, RecordsCfg.Table, table.Options{})
	if err != nil {
		return err
	}

	for i := 0; cmd.Count == 0 || i != cmd.Count; i++ {
		var item, pos, ok, err = tbl.PeekItem()
		if err != nil {
			return err
		} else if !ok {
			return nil
		} else if err = printRecord(item); err != nil {
			return err
		} else if _, err = tbl.RemoveItem(pos); err != nil {
			return err // A record evicted since its peek is also gone.
		}
	}
	return nil
}

// insertRecords inserts JSON records, one per line of |r|, into |tbl|.
// It returns the number of records inserted.
func insertRecords(tbl table.Table, r io.Reader) (int, error) {
	var s = bufio.NewScanner(r)
	s.Buffer(nil, 1<<24)

	var n, line int
	for s.Scan() {
		line++
		if len(s.Bytes()) == 0 {
			continue
		}
		var doc any
		if err := sonnet.Unmarshal(s.Bytes(), &doc); err != nil {
			return n, errors.WithMessagef(err, "line %d", line)
		}

		var err error
		switch tt := tbl.(type) {
		case *table.Dynamic:
			var obj, ok = doc.(map[string]any)
			if !ok {
				return n, errors.Errorf("line %d: expected a JSON object, not %T", line, doc)
			}
			err = tt.Insert(table.Record(obj))
		case *table.Variable[any]:
			err = tt.Insert(doc)
		default:
			return n, errors.Errorf("table %s is open as %T, which doesn't accept JSON records", tbl.Name(), tbl)
		}
		if err != nil {
			return n, errors.WithMessagef(err, "line %d", line)
		}
		n++
	}
	return n, s.Err()
}

func printRecord(item any) error {
	var b, err = sonnet.Marshal(item)
	if err != nil {
		return errors.WithMessage(err, "encoding record")
	}
	_, err = fmt.Fprintln(stdout, string(b))
	return err
}
