package talusctlcmd

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/sugawarayuuta/sonnet"
	"go.talusdb.dev/core/catalog"
	mbp "go.talusdb.dev/core/mainboilerplate"
	"go.talusdb.dev/core/table"
	"gopkg.in/yaml.v2"
)

type cmdTablesList struct {
	ListConfig
	Descriptors bool `long:"descriptors" short:"d" description:"Show the catalog descriptor column"`
}

func init() {
	CommandRegistry.AddCommand("tables", "list", "List catalog tables", `
List the tables of the catalog, with the status of each as read from its
table file header.

Results can be output in a variety of --format options:
yaml:  Prints a YAML sequence of table statuses.
json:  Prints table statuses encoded as JSON, one per line.
table: Prints as a table (see other flags for column choices)
`, &cmdTablesList{})
}

// tableStatus is the status of a cataloged table.
type tableStatus struct {
	Name       string `yaml:"name" json:"name"`
	Descriptor string `yaml:"descriptor" json:"descriptor"`
	Variable   bool   `yaml:"variable" json:"variable"`
	Stride     int    `yaml:"stride,omitempty" json:"stride,omitempty"`
	BlockSize  int    `yaml:"block_size,omitempty" json:"block_size,omitempty"`
	Capacity   int    `yaml:"capacity" json:"capacity"`
	Count      int    `yaml:"count" json:"count"`
	FileSize   int64  `yaml:"file_size" json:"file_size"`
}

func (cmd *cmdTablesList) Execute([]string) error {
	var db = startup(*TablesCfg)
	defer db.Close()

	var statuses, err = listTables(db)
	if err != nil {
		return err
	}

	switch cmd.Format {
	case "table":
		return cmd.outputTable(statuses)
	case "yaml":
		b, err := yaml.Marshal(statuses)
		mbp.Must(err, "failed to encode to yaml")
		_, err = stdout.Write(b)
		return err
	case "json":
		for _, s := range statuses {
			b, err := sonnet.Marshal(s)
			mbp.Must(err, "failed to encode to json")
			if _, err = fmt.Fprintln(stdout, string(b)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (cmd *cmdTablesList) outputTable(statuses []tableStatus) error {
	var tw = tablewriter.NewWriter(stdout)

	var headers = []any{"Name", "Kind", "Count", "Capacity", "Unit", "Size"}
	if cmd.Descriptors {
		headers = append(headers, "Descriptor")
	}
	tw.Header(headers...)

	for _, s := range statuses {
		var kind, unit = "fixed", strconv.Itoa(s.Stride) + "B"
		if s.Variable {
			kind, unit = "variable", strconv.Itoa(s.BlockSize)+"B blocks"
		}
		var row = []string{
			s.Name,
			kind,
			humanize.Comma(int64(s.Count)),
			humanize.Comma(int64(s.Capacity)),
			unit,
			humanize.IBytes(uint64(s.FileSize)),
		}
		if cmd.Descriptors {
			row = append(row, s.Descriptor)
		}
		if err := tw.Append(row); err != nil {
			return err
		}
	}
	return tw.Render()
}

// listTables returns the status of each table in the catalog.
func listTables(db *catalog.DB) ([]tableStatus, error) {
	var names, err = db.Names()
	if err != nil {
		return nil, err
	}
	var out = make([]tableStatus, 0, len(names))

	for _, name := range names {
		desc, err := db.Describe(name)
		if err != nil {
			return nil, err
		}
		info, err := table.Stat(db.Path(name))
		if err != nil {
			return nil, err
		}
		out = append(out, tableStatus{
			Name:       name,
			Descriptor: desc,
			Variable:   info.Variable,
			Stride:     info.Stride,
			BlockSize:  info.BlockSize,
			Capacity:   info.Capacity,
			Count:      info.Count,
			FileSize:   info.FileSize,
		})
	}
	return out, nil
}
