package talusctlcmd

import (
	"context"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/catalog"
	"go.talusdb.dev/core/codecs"
	mbp "go.talusdb.dev/core/mainboilerplate"
	"go.talusdb.dev/core/metrics"
	"go.talusdb.dev/core/publisher"
	"go.talusdb.dev/core/sinks"
	"go.talusdb.dev/core/table"
	"go.talusdb.dev/core/task"
)

type cmdPublish struct {
	BaseConfig
	Sink struct {
		SinkConfig
		Codec codecs.Codec `long:"codec" env:"CODEC" default:"gzip" description:"Compression codec of delivered records (none, gzip, snappy, or zstandard)"`
	} `group:"Sink" namespace:"sink" env-namespace:"SINK"`
	Publisher   publisher.Config      `group:"Publisher" namespace:"publisher" env-namespace:"PUBLISHER"`
	Tables      []string              `long:"table" short:"t" description:"Names of tables to publish. If empty, all cataloged tables are published"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func init() {
	CommandRegistry.AddCommand("", "publish", "Publish table records to a sink", `
Drain the records of catalog tables to a sink, until signaled to stop.

Records are removed from their table only after the sink has accepted them.
Each record is delivered as a JSON document at a path of the sink which is
prefixed by its table name, and ordered on delivery time.

Supported sink URL schemes are memory://, file://, s3://, gs://, azure://,
azure-ad://, sqlite://, postgres://, and http(s)://. Provider-specific
options are given as URL query arguments, eg:

>  talusctl publish --sink.url 's3://bucket/prefix/?Region=us-east-1'
>  talusctl publish --sink.url 'file:///var/lib/talus/out/?Create=true'
>  talusctl publish --sink.url 'sqlite:///var/lib/talus/out.db?Table=outbox'
>  talusctl publish --sink.url 'https://hooks.example.com/talus/?KeysEnv=TALUS_WEBHOOK_KEYS'

Tables are published while the command runs, and tables created by other
processes are published after the command is restarted.
`, &cmdPublish{})
}

func (cmd *cmdPublish) Execute([]string) error {
	var db = startup(cmd.BaseConfig)
	defer db.Close()
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()

	prometheus.MustRegister(metrics.TalusTableCollectors()...)
	prometheus.MustRegister(metrics.TalusPublisherCollectors()...)

	var sink, err = openSink(cmd.Sink.SinkConfig, cmd.Log)
	if err != nil {
		return err
	}
	deliverer, err := sinks.NewDeliverer(sink, cmd.Sink.Codec)
	if err != nil {
		return err
	}
	if err = openTables(db, cmd.Tables); err != nil {
		return err
	}

	var pub = publisher.New(db, deliverer, cmd.Publisher)
	var tasks = task.NewGroup(context.Background())

	tasks.Queue("publisher", func() error {
		pub.Serve()
		return nil
	})
	tasks.Queue("await stop", func() error {
		<-tasks.Context().Done()
		pub.Finish()
		return nil
	})
	tasks.QueueSignalHandler(syscall.SIGTERM, syscall.SIGINT)

	log.WithFields(log.Fields{
		"publisher": pub.Name(),
		"sink":      sink.Key,
		"codec":     cmd.Sink.Codec,
		"tables":    len(db.Tables()),
	}).Info("publishing")

	tasks.GoRun()
	return tasks.Wait()
}

// openTables opens the named tables of |db|, or all of its tables if
// |names| is empty.
func openTables(db *catalog.DB, names []string) error {
	if len(names) == 0 {
		var err error
		if names, err = db.Names(); err != nil {
			return err
		}
	}
	for _, name := range names {
		if _, err := catalog.OpenTable(db, name, table.Options{}); err != nil {
			return err
		}
	}
	return nil
}
