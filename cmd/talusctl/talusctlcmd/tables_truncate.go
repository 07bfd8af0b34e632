package talusctlcmd

import (
	"fmt"

	"go.talusdb.dev/core/catalog"
	"go.talusdb.dev/core/table"
)

type cmdTablesTruncate struct {
	Tables struct {
		Names []string `positional-arg-name:"TABLE" required:"1" description:"Names of tables to truncate"`
	} `positional-args:"yes"`
}

func init() {
	CommandRegistry.AddCommand("tables", "truncate", "Remove all records of tables", `
Remove all records of each named table, shrinking its table file to its
header. The capacity and record layout of the table are retained, and its
latched overrun and underrun flags are cleared.

>  talusctl tables truncate SensorReading
`, &cmdTablesTruncate{})
}

func (cmd *cmdTablesTruncate) Execute([]string) error {
	var db = startup(*TablesCfg)
	defer db.Close()

	for _, name := range cmd.Tables.Names {
		var tbl, err = catalog.OpenTable(db, name, table.Options{})
		if err != nil {
			return err
		}
		var count = tbl.Count()

		if err = tbl.Truncate(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "truncated %s (%d records)\n", name, count)
	}
	return nil
}
