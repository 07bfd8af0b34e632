package talusctlcmd

import (
	"fmt"
	"time"

	"go.talusdb.dev/core/sinks"
)

type cmdSinksSign struct {
	Paths struct {
		Paths []string `positional-arg-name:"PATH" required:"1" description:"Paths of sink content to sign"`
	} `positional-args:"yes"`
	Duration time.Duration `long:"duration" default:"1h" description:"Duration for which signed URLs are valid"`
	Unsigned bool          `long:"unsigned" description:"Print unsigned URLs, for sinks accessed with ambient credentials"`
}

func init() {
	CommandRegistry.AddCommand("sinks", "sign", "Print URLs which GET content of a sink", `
Print a URL for each sink path, which may be used to GET its content.
Providers which support it (s3://, gs://, and keyed http(s):// sinks) sign
the URL, so that it's usable without further credentials until --duration
elapses:

>  talusctl sinks sign --sink.url gs://bucket/prefix/ --duration 15m SensorReading/<path>
`, &cmdSinksSign{})
}

func (cmd *cmdSinksSign) Execute([]string) error {
	var sink, err = openSink(SinksCfg.Sink, SinksCfg.Log)
	if err != nil {
		return err
	}
	defer func(v bool) { sinks.DisableSignedUrls = v }(sinks.DisableSignedUrls)
	sinks.DisableSignedUrls = cmd.Unsigned

	for _, path := range cmd.Paths.Paths {
		signed, err := sink.SignGet(path, cmd.Duration)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(stdout, signed)
	}
	return nil
}
