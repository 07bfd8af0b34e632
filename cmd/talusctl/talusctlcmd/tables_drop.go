package talusctlcmd

import "fmt"

type cmdTablesDrop struct {
	Tables struct {
		Names []string `positional-arg-name:"TABLE" required:"1" description:"Names of tables to drop"`
	} `positional-args:"yes"`
	DryRun bool `long:"dry-run" description:"Report the tables which would be dropped, without dropping them"`
}

func init() {
	CommandRegistry.AddCommand("tables", "drop", "Drop tables from the catalog", `
Drop tables from the catalog, deleting their table files and any records
they hold. A table which is open in another process cannot be dropped
until that process closes it.

>  talusctl tables drop SensorReading alerts
`, &cmdTablesDrop{})
}

func (cmd *cmdTablesDrop) Execute([]string) error {
	var db = startup(*TablesCfg)
	defer db.Close()

	for _, name := range cmd.Tables.Names {
		if cmd.DryRun {
			if ok, err := db.Exists(name); err != nil {
				return err
			} else if ok {
				_, _ = fmt.Fprintf(stdout, "would drop %s\n", name)
			}
			continue
		}
		if err := db.Drop(name); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "dropped %s\n", name)
	}
	return nil
}
