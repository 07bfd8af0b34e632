package talusctlcmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/sugawarayuuta/sonnet"
	mbp "go.talusdb.dev/core/mainboilerplate"
	"gopkg.in/yaml.v2"
)

type cmdSinksList struct {
	ListConfig
	Prefix struct {
		Prefix string `positional-arg-name:"PREFIX" description:"Path prefix to list, such as a table name followed by '/'"`
	} `positional-args:"yes"`
}

func init() {
	CommandRegistry.AddCommand("sinks", "list", "List content of a sink", `
List the content of a sink beneath an optional path prefix. Paths are
relative to the prefix, and deliveries of a table are listed in delivery
order when its name is the prefix:

>  talusctl sinks list --sink.url s3://bucket/prefix/ SensorReading/

Results can be output in a variety of --format options:
yaml:  Prints a YAML sequence of sink content.
json:  Prints sink content encoded as JSON, one per line.
table: Prints as a table.
`, &cmdSinksList{})
}

// sinkEntry is listed content of a sink.
type sinkEntry struct {
	Path     string    `yaml:"path" json:"path"`
	Modified time.Time `yaml:"modified" json:"modified"`
}

func (cmd *cmdSinksList) Execute([]string) error {
	var sink, err = openSink(SinksCfg.Sink, SinksCfg.Log)
	if err != nil {
		return err
	}
	var ctx, cancel = sinkContext()
	defer cancel()

	var entries []sinkEntry
	if err = sink.List(ctx, cmd.Prefix.Prefix, func(path string, modTime time.Time) error {
		entries = append(entries, sinkEntry{Path: path, Modified: modTime})
		return nil
	}); err != nil {
		return err
	}

	switch cmd.Format {
	case "table":
		var tw = tablewriter.NewWriter(stdout)
		tw.Header("Path", "Modified")

		for _, e := range entries {
			if err = tw.Append([]string{e.Path, humanize.Time(e.Modified)}); err != nil {
				return err
			}
		}
		return tw.Render()
	case "yaml":
		b, err := yaml.Marshal(entries)
		mbp.Must(err, "failed to encode to yaml")
		_, err = stdout.Write(b)
		return err
	case "json":
		for _, e := range entries {
			b, err := sonnet.Marshal(e)
			mbp.Must(err, "failed to encode to json")
			if _, err = fmt.Fprintln(stdout, string(b)); err != nil {
				return err
			}
		}
	}
	return nil
}
