package talusctlcmd

import (
	"fmt"

	"go.talusdb.dev/core/catalog"
	"go.talusdb.dev/core/table"
)

type cmdTablesCreateVariable struct {
	Name      string `long:"name" short:"n" required:"true" description:"Name of the table"`
	Capacity  int    `long:"capacity" short:"c" required:"true" description:"Capacity of the table, in blocks"`
	BlockSize int    `long:"block-size" default:"16" description:"Size of each block, in bytes"`
}

type cmdTablesCreateFixed struct {
	Name     string `long:"name" short:"n" required:"true" description:"Name of the table"`
	Schema   string `long:"schema" short:"s" required:"true" description:"Record schema descriptor, eg 'Index:int32,Temp:float64,Label:text[16]'"`
	Capacity int    `long:"capacity" short:"c" required:"true" description:"Capacity of the table, in records"`
}

func init() {
	CommandRegistry.AddCommand("tables", "create-variable", "Create a variable-length table", `
Create a table of variable-length JSON records. Each record occupies one or
more blocks of the table, and the table holds at most --capacity blocks.

>  talusctl tables create-variable --name alerts --capacity 4096
`, &cmdTablesCreateVariable{})

	CommandRegistry.AddCommand("tables", "create-fixed", "Create a fixed-stride table", `
Create a table of fixed-stride records of the given --schema, which lists
comma-separated NAME:KIND fields. Kinds are bool, int8, uint8, int16, uint16,
int32, uint32, int64, uint64, float32, float64, time, text[N], and bytes[N].

The table is file-compatible with tables created by applications from Go
record types having the same schema.

>  talusctl tables create-fixed --name SensorReading --capacity 1000 \
>      --schema 'Index:int32,Temp:float64,At:time,Label:text[8]'
`, &cmdTablesCreateFixed{})
}

func (cmd *cmdTablesCreateVariable) Execute([]string) error {
	var db = startup(*TablesCfg)
	defer db.Close()

	var _, err = catalog.CreateVariable[any](db, cmd.Name, cmd.Capacity, table.Options{BlockSize: cmd.BlockSize})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "created %s\n", cmd.Name)
	return nil
}

func (cmd *cmdTablesCreateFixed) Execute([]string) error {
	var db = startup(*TablesCfg)
	defer db.Close()

	var schema, err = table.ParseSchema(cmd.Schema)
	if err != nil {
		return err
	}
	if _, err = catalog.CreateDynamic(db, cmd.Name, schema, cmd.Capacity, table.Options{}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "created %s (stride %d)\n", cmd.Name, schema.Stride())
	return nil
}
