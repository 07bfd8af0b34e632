package talusctlcmd

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type cmdSinksRemove struct {
	Paths struct {
		Paths []string `positional-arg-name:"PATH" required:"1" description:"Paths of sink content to remove"`
	} `positional-args:"yes"`
	DryRun bool `long:"dry-run" description:"Report the content which would be removed, without removing it"`
}

func init() {
	CommandRegistry.AddCommand("sinks", "remove", "Remove content of a sink", `
Remove content of a sink, such as deliveries which have been processed.
Paths which don't exist are skipped with a warning:

>  talusctl sinks remove --sink.url file:///var/lib/talus/out/ SensorReading/<path>
`, &cmdSinksRemove{})
}

func (cmd *cmdSinksRemove) Execute([]string) error {
	var sink, err = openSink(SinksCfg.Sink, SinksCfg.Log)
	if err != nil {
		return err
	}
	var ctx, cancel = sinkContext()
	defer cancel()

	for _, path := range cmd.Paths.Paths {
		if ok, err := sink.Exists(ctx, path); err != nil {
			if sink.IsAuthError(err) {
				return errors.WithMessagef(err, "sink %s refused access", sink.Key)
			}
			return err
		} else if !ok {
			log.WithField("path", path).Warn("sink path doesn't exist")
			continue
		}

		if cmd.DryRun {
			_, _ = fmt.Fprintf(stdout, "would remove %s\n", path)
		} else if err = sink.Remove(ctx, path); err != nil {
			return err
		} else {
			_, _ = fmt.Fprintf(stdout, "removed %s\n", path)
		}
	}
	return nil
}
