package talusctlcmd

import (
	"github.com/pkg/errors"
	"go.talusdb.dev/core/table"
	"gopkg.in/yaml.v2"
)

type cmdTablesStat struct {
	Tables struct {
		Names []string `positional-arg-name:"TABLE" required:"1" description:"Names of tables to stat"`
	} `positional-args:"yes"`
}

func init() {
	CommandRegistry.AddCommand("tables", "stat", "Show table file headers", `
Read and print the header of each named table file, as YAML.

Headers are read without taking the table file lock, and may be read while
another process has the table open. Offsets are absolute byte offsets of the
table file.

>  talusctl tables stat SensorReading alerts
`, &cmdTablesStat{})
}

// tableInfo is the YAML presentation of a table.Info.
type tableInfo struct {
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	Variable  bool   `yaml:"variable"`
	Stride    int    `yaml:"stride"`
	BlockSize int    `yaml:"block_size"`
	Capacity  int    `yaml:"capacity"`
	Count     int    `yaml:"count"`
	Head      int64  `yaml:"head"`
	Tail      int64  `yaml:"tail"`
	FileSize  int64  `yaml:"file_size"`
}

func (cmd *cmdTablesStat) Execute([]string) error {
	var db = startup(*TablesCfg)
	defer db.Close()

	var out []tableInfo
	for _, name := range cmd.Tables.Names {
		if ok, err := db.Exists(name); err != nil {
			return err
		} else if !ok {
			return errors.WithMessage(table.ErrNotFound, name)
		}
		var info, err = table.Stat(db.Path(name))
		if err != nil {
			return err
		}
		out = append(out, tableInfo{
			Name:      name,
			Path:      info.Path,
			Variable:  info.Variable,
			Stride:    info.Stride,
			BlockSize: info.BlockSize,
			Capacity:  info.Capacity,
			Count:     info.Count,
			Head:      info.Head,
			Tail:      info.Tail,
			FileSize:  info.FileSize,
		})
	}

	var b, err = yaml.Marshal(out)
	if err != nil {
		return err
	}
	_, err = stdout.Write(b)
	return err
}
