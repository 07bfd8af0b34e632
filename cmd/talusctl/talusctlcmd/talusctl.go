// Package talusctlcmd implements the sub-commands of talusctl, a tool for
// inspecting and operating TalusDB catalogs.
package talusctlcmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"go.talusdb.dev/core/catalog"
	mbp "go.talusdb.dev/core/mainboilerplate"
	"go.talusdb.dev/core/sinks"
	"go.talusdb.dev/core/sinks/azure"
	"go.talusdb.dev/core/sinks/fs"
	"go.talusdb.dev/core/sinks/gcs"
	"go.talusdb.dev/core/sinks/postgres"
	"go.talusdb.dev/core/sinks/s3"
	"go.talusdb.dev/core/sinks/sqlite"
	"go.talusdb.dev/core/sinks/webhook"
)

const iniFilename = "talusctl.ini"

// CatalogConfig locates the catalog operated on by a command.
type CatalogConfig struct {
	Root string `long:"root" env:"ROOT" default:"." description:"Root directory of the TalusDB catalog. Tables live in its .talusdb subdirectory"`
}

// BaseConfig is configuration common to all talusctl commands.
type BaseConfig struct {
	Catalog CatalogConfig `group:"Catalog" namespace:"catalog" env-namespace:"CATALOG"`
	Log     mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

// SinkConfig locates the sink operated on by a command.
type SinkConfig struct {
	URL      string `long:"url" env:"URL" required:"true" description:"URL of the sink, eg s3://bucket/prefix/ or file:///var/lib/talus/out/"`
	FileRoot string `long:"file-root" env:"FILE_ROOT" default:"/" description:"Filesystem path which roots file:// sink URLs"`
}

// ListConfig is common configuration of list operations.
type ListConfig struct {
	Format string `long:"format" short:"o" choice:"table" choice:"yaml" choice:"json" default:"table" description:"Output format"`
}

var (
	TablesCfg  = new(BaseConfig)
	RecordsCfg = new(struct {
		BaseConfig
		Table string `long:"table" short:"t" required:"true" description:"Name of the table"`
	})
	SinksCfg = new(struct {
		Sink    SinkConfig    `group:"Sink" namespace:"sink" env-namespace:"SINK"`
		Log     mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
		Timeout time.Duration `long:"timeout" default:"1m" description:"Timeout of sink operations"`
	})

	// CommandRegistry holds the registered sub-commands of talusctl.
	CommandRegistry = mbp.NewCommandRegistry()

	// stdout and stdin are swapped out by tests.
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

// Execute builds and runs the talusctl command tree.
func Execute() {
	var parser = flags.NewParser(nil, flags.Default)

	mbp.AddPrintConfigCmd(parser, iniFilename)
	parser.LongDescription = `talusctl is a tool for inspecting and operating TalusDB table catalogs.

	See --help pages of each sub-command for documentation and usage examples.
	Optionally configure talusctl with a '` + iniFilename + `' file in the current working directory,
	or with '~/.config/talusdb/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
	the tool's current configuration.
	`

	// Parent commands exist solely to contain nested sub-commands. They're
	// created here so that they exist before registered sub-commands are added.
	_ = mustAddCmd(parser.Command, "tables", "Interact with catalog tables", "", TablesCfg)
	_ = mustAddCmd(parser.Command, "records", "Insert, peek, and remove table records", "", RecordsCfg)
	_ = mustAddCmd(parser.Command, "sinks", "Inspect and manage content delivered to a sink", "", SinksCfg)

	mbp.Must(CommandRegistry.AddCommands("", parser.Command, true), "could not add subcommand")
	mbp.MustParseConfig(parser, iniFilename)
}

// RegisterSinkProviders registers the sink URL schemes supported by talusctl.
func RegisterSinkProviders() {
	sinks.RegisterProviders(map[string]sinks.Constructor{
		"memory":     sinks.NewMemory,
		"file":       fs.New,
		"s3":         s3.New,
		"gs":         gcs.New,
		"azure":      azure.NewAccount,
		"azure-ad":   azure.NewAD,
		"sqlite":     sqlite.New,
		"postgres":   postgres.New,
		"postgresql": postgres.New,
		"http":       webhook.New,
		"https":      webhook.New,
	})
}

func startup(cfg BaseConfig) *catalog.DB {
	mbp.InitLog(cfg.Log)

	var db, err = catalog.Open(cfg.Catalog.Root)
	mbp.Must(err, "failed to open catalog", "root", cfg.Catalog.Root)
	return db
}

// openSink initializes logging and returns the ActiveSink of |cfg|.
func openSink(cfg SinkConfig, logCfg mbp.LogConfig) (*sinks.ActiveSink, error) {
	mbp.InitLog(logCfg)

	fs.SinkRoot = cfg.FileRoot
	RegisterSinkProviders()
	return sinks.Get(cfg.URL)
}

// sinkContext bounds a sink operation by the configured timeout.
func sinkContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), SinksCfg.Timeout)
}

func mustAddCmd(cmd *flags.Command, name, short, long string, cfg interface{}) *flags.Command {
	cmd, err := cmd.AddCommand(name, short, long, cfg)
	mbp.Must(err, "failed to add command")
	return cmd
}
