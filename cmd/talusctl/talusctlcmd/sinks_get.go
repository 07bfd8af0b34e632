package talusctlcmd

import (
	"io"
	"strings"

	"go.talusdb.dev/core/codecs"
)

type cmdSinksGet struct {
	Paths struct {
		Paths []string `positional-arg-name:"PATH" required:"1" description:"Paths of sink content to print"`
	} `positional-args:"yes"`
	Raw bool `long:"raw" description:"Print content as stored, without decompressing it"`
}

func init() {
	CommandRegistry.AddCommand("sinks", "get", "Print content of a sink", `
Print the content of each sink path to stdout. Content is decompressed
according to the codec of its path extension (.gz, .sz, or .zst), unless
--raw is set. Delivered records are printed as JSON, one per line:

>  talusctl sinks get --sink.url s3://bucket/prefix/ SensorReading/1700000000000000042-<uuid>.json.gz
`, &cmdSinksGet{})
}

func (cmd *cmdSinksGet) Execute([]string) error {
	var sink, err = openSink(SinksCfg.Sink, SinksCfg.Log)
	if err != nil {
		return err
	}
	var ctx, cancel = sinkContext()
	defer cancel()

	for _, path := range cmd.Paths.Paths {
		rc, err := sink.Get(ctx, path)
		if err != nil {
			return err
		}
		var codec = codecs.NONE
		if !cmd.Raw {
			codec = codecOfPath(path)
		}
		err = copyDecompressed(stdout, rc, codec)
		if closeErr := rc.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// codecOfPath returns the Codec of |path|'s extension, or NONE.
func codecOfPath(path string) codecs.Codec {
	for _, codec := range []codecs.Codec{codecs.GZIP, codecs.SNAPPY, codecs.ZSTANDARD} {
		if strings.HasSuffix(path, codec.Extension()) {
			return codec
		}
	}
	return codecs.NONE
}

func copyDecompressed(w io.Writer, r io.Reader, codec codecs.Codec) error {
	var dec, err = codecs.NewCodecReader(r, codec)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, dec)
	if closeErr := dec.Close(); err == nil {
		err = closeErr
	}
	return err
}
