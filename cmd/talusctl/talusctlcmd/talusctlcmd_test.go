package talusctlcmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"
	"go.talusdb.dev/core/catalog"
	"go.talusdb.dev/core/codecs"
	mbp "go.talusdb.dev/core/mainboilerplate"
	"go.talusdb.dev/core/sinks"
	"go.talusdb.dev/core/table"
	"gopkg.in/yaml.v2"
)

func TestTableAndRecordCommands(t *testing.T) {
	var out = setUp(t)

	require.NoError(t, (&cmdTablesCreateFixed{
		Name:     "readings",
		Schema:   "Index:int32,Temp:float64,Label:text[8]",
		Capacity: 3,
	}).Execute(nil))
	require.NoError(t, (&cmdTablesCreateVariable{
		Name:      "alerts",
		Capacity:  64,
		BlockSize: 16,
	}).Execute(nil))
	require.Equal(t, "created readings (stride 20)\ncreated alerts\n", out.String())

	// Insert more records than fit, evicting the oldest.
	out.Reset()
	RecordsCfg.Table = "readings"
	stdin = strings.NewReader(`{"Index": 1, "Temp": 20.5, "Label": "one"}
{"Index": 2}

{"Index": 3, "Label": "three"}
{"Index": 4, "Temp": -1}
`)
	require.NoError(t, (&cmdRecordsInsert{Input: "-"}).Execute(nil))
	require.Equal(t, "inserted 4 records into readings\n", out.String())

	out.Reset()
	RecordsCfg.Table = "alerts"
	stdin = strings.NewReader("{\"level\": 2, \"msg\": \"hot\"}\n\"plain\"\n")
	require.NoError(t, (&cmdRecordsInsert{Input: "-"}).Execute(nil))

	// Statuses reflect the inserts.
	out.Reset()
	require.NoError(t, (&cmdTablesList{ListConfig: ListConfig{Format: "yaml"}}).Execute(nil))

	var statuses []tableStatus
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	require.Equal(t, "readings", statuses[0].Name)
	require.Equal(t, "fixed:Index:int32,Temp:float64,Label:text[8]", statuses[0].Descriptor)
	require.Equal(t, 3, statuses[0].Count)
	require.Equal(t, 20, statuses[0].Stride)
	require.Equal(t, int64(table.HeaderSize+3*20), statuses[0].FileSize)
	require.Equal(t, "alerts", statuses[1].Name)
	require.True(t, statuses[1].Variable)
	require.Equal(t, 2, statuses[1].Count)

	out.Reset()
	require.NoError(t, (&cmdTablesList{ListConfig: ListConfig{Format: "json"}}).Execute(nil))
	var lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"name":"readings"`)
	require.Contains(t, lines[1], `"variable":true`)

	out.Reset()
	require.NoError(t, (&cmdTablesList{ListConfig: ListConfig{Format: "table"}, Descriptors: true}).Execute(nil))
	require.Contains(t, out.String(), "readings")
	require.Contains(t, out.String(), "variable:json")

	// Peek and remove print records as JSON.
	out.Reset()
	RecordsCfg.Table = "readings"
	require.NoError(t, (&cmdRecordsPeek{}).Execute(nil))
	require.Equal(t, `{"Index":2,"Label":"","Temp":0}`+"\n", out.String())

	out.Reset()
	require.NoError(t, (&cmdRecordsRemove{Count: 2}).Execute(nil))
	require.Equal(t, `{"Index":2,"Label":"","Temp":0}`+"\n"+
		`{"Index":3,"Label":"three","Temp":0}`+"\n", out.String())

	out.Reset()
	RecordsCfg.Table = "alerts"
	require.NoError(t, (&cmdRecordsRemove{Count: 0}).Execute(nil))
	require.Equal(t, `{"level":2,"msg":"hot"}`+"\n"+`"plain"`+"\n", out.String())

	out.Reset()
	require.NoError(t, (&cmdRecordsPeek{}).Execute(nil))
	require.Empty(t, out.String())

	// Stat reads headers.
	out.Reset()
	var stat = &cmdTablesStat{}
	stat.Tables.Names = []string{"readings"}
	require.NoError(t, stat.Execute(nil))

	var infos []tableInfo
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &infos))
	require.Len(t, infos, 1)
	require.Equal(t, 1, infos[0].Count)
	require.Equal(t, 3, infos[0].Capacity)

	stat.Tables.Names = []string{"missing"}
	require.ErrorIs(t, stat.Execute(nil), table.ErrNotFound)

	// Truncate, and drop.
	out.Reset()
	var truncate = &cmdTablesTruncate{}
	truncate.Tables.Names = []string{"readings"}
	require.NoError(t, truncate.Execute(nil))
	require.Equal(t, "truncated readings (1 records)\n", out.String())

	out.Reset()
	var drop = &cmdTablesDrop{DryRun: true}
	drop.Tables.Names = []string{"alerts", "missing"}
	require.NoError(t, drop.Execute(nil))
	require.Equal(t, "would drop alerts\n", out.String())

	out.Reset()
	drop.DryRun = false
	drop.Tables.Names = []string{"alerts"}
	require.NoError(t, drop.Execute(nil))
	require.Equal(t, "dropped alerts\n", out.String())

	var db, err = catalog.Open(TablesCfg.Catalog.Root)
	require.NoError(t, err)
	defer db.Close()

	names, err := db.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"readings"}, names)
}

func TestInsertRecordsFromFile(t *testing.T) {
	var out = setUp(t)

	require.NoError(t, (&cmdTablesCreateVariable{Name: "events", Capacity: 64, BlockSize: 16}).Execute(nil))

	var input = filepath.Join(t.TempDir(), "input.jsonl")
	require.NoError(t, os.WriteFile(input, []byte("1\n2\n3\n"), 0644))

	out.Reset()
	RecordsCfg.Table = "events"
	require.NoError(t, (&cmdRecordsInsert{Input: input}).Execute(nil))
	require.Equal(t, "inserted 3 records into events\n", out.String())

	RecordsCfg.Table = "missing"
	require.ErrorIs(t, (&cmdRecordsInsert{Input: input}).Execute(nil), table.ErrNotFound)
}

func TestInsertRecordsErrors(t *testing.T) {
	var db, err = catalog.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	schema, err := table.ParseSchema("Index:int32")
	require.NoError(t, err)
	dyn, err := catalog.CreateDynamic(db, "dyn", schema, 4, table.Options{})
	require.NoError(t, err)

	n, err := insertRecords(dyn, strings.NewReader("{\"Index\": 1}\n[1, 2]\n"))
	require.EqualError(t, err, "line 2: expected a JSON object, not []interface {}")
	require.Equal(t, 1, n)

	n, err = insertRecords(dyn, strings.NewReader("{\"Other\": 1}\n"))
	require.ErrorIs(t, err, table.ErrSchema)
	require.Equal(t, 0, n)

	n, err = insertRecords(dyn, strings.NewReader("{not json\n"))
	require.Error(t, err)
	require.Equal(t, 0, n)

	type typed struct{ Index int32 }
	fixed, err := catalog.CreateFixed[typed](db, "", 4, table.Options{})
	require.NoError(t, err)
	_, err = insertRecords(fixed, strings.NewReader("{\"Index\": 1}\n"))
	require.ErrorContains(t, err, "doesn't accept JSON records")
}

func TestOpenTablesAndSinkProviders(t *testing.T) {
	var db, err = catalog.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	for _, name := range []string{"one", "two"} {
		_, err = catalog.CreateVariable[any](db, name, 16, table.Options{})
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	db, err = catalog.Open(filepath.Dir(db.Dir()))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, openTables(db, []string{"two"}))
	require.Len(t, db.Tables(), 1)
	require.NoError(t, openTables(db, nil))
	require.Len(t, db.Tables(), 2)
	require.ErrorIs(t, openTables(db, []string{"three"}), table.ErrNotFound)

	var restore = sinks.GetProviders()
	defer sinks.RegisterProviders(restore)

	RegisterSinkProviders()
	var providers = sinks.GetProviders()
	for _, scheme := range []string{"memory", "file", "s3", "gs", "azure", "azure-ad", "sqlite", "postgres", "https"} {
		require.Contains(t, providers, scheme)
	}
}

func TestSinkCommands(t *testing.T) {
	var out = setUp(t)
	var dir = t.TempDir()

	var restore = sinks.GetProviders()
	defer sinks.RegisterProviders(restore)

	SinksCfg.Sink = SinkConfig{URL: "file://" + dir + "/?Create=true", FileRoot: "/"}
	SinksCfg.Log = mbp.LogConfig{Level: "warn", Format: "text"}
	SinksCfg.Timeout = time.Minute

	var sink, err = openSink(SinksCfg.Sink, SinksCfg.Log)
	require.NoError(t, err)
	deliverer, err := sinks.NewDeliverer(sink, codecs.GZIP)
	require.NoError(t, err)

	for _, name := range []string{"readings", "alerts"} {
		ok, err := deliverer.Deliver(context.Background(), name, map[string]int{"Index": 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	out.Reset()
	var list = &cmdSinksList{ListConfig: ListConfig{Format: "json"}}
	list.Prefix.Prefix = "readings/"
	require.NoError(t, list.Execute(nil))

	var entry sinkEntry
	require.NoError(t, sonnet.Unmarshal(out.Bytes(), &entry))
	require.True(t, strings.HasSuffix(entry.Path, ".json.gz"), entry.Path)
	require.False(t, entry.Modified.IsZero())
	var path = "readings/" + entry.Path

	out.Reset()
	list = &cmdSinksList{ListConfig: ListConfig{Format: "table"}}
	require.NoError(t, list.Execute(nil))
	require.Contains(t, out.String(), "alerts/")
	require.Contains(t, out.String(), "readings/")

	// Content is decompressed by its extension, unless raw.
	out.Reset()
	var get = &cmdSinksGet{}
	get.Paths.Paths = []string{path}
	require.NoError(t, get.Execute(nil))
	require.Equal(t, `{"Index":1}`+"\n", out.String())

	out.Reset()
	get.Raw = true
	require.NoError(t, get.Execute(nil))
	require.Equal(t, []byte{0x1f, 0x8b}, out.Bytes()[:2])

	out.Reset()
	var sign = &cmdSinksSign{Duration: time.Minute, Unsigned: true}
	sign.Paths.Paths = []string{path}
	require.NoError(t, sign.Execute(nil))
	require.Equal(t, "file://"+dir+"/"+path+"\n", out.String())
	require.False(t, sinks.DisableSignedUrls)

	// Missing paths are skipped.
	out.Reset()
	var remove = &cmdSinksRemove{DryRun: true}
	remove.Paths.Paths = []string{path, "readings/missing.json"}
	require.NoError(t, remove.Execute(nil))
	require.Equal(t, "would remove "+path+"\n", out.String())

	out.Reset()
	remove.DryRun = false
	require.NoError(t, remove.Execute(nil))
	require.Equal(t, "removed "+path+"\n", out.String())

	out.Reset()
	list = &cmdSinksList{ListConfig: ListConfig{Format: "yaml"}}
	require.NoError(t, list.Execute(nil))

	var entries []sinkEntry
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Path, "alerts/"), entries[0].Path)

	require.Equal(t, codecs.SNAPPY, codecOfPath("t/1.json.sz"))
	require.Equal(t, codecs.NONE, codecOfPath("t/1.json"))
}

func TestBenchReportsEachPhase(t *testing.T) {
	var out = setUp(t)

	var cmd = &cmdBench{
		Log:      mbp.LogConfig{Level: "warn", Format: "text"},
		Dir:      t.TempDir(),
		Records:  50,
		Capacity: 20,
		Stream:   "always-new",
		SQLite:   true,
	}
	var results, err = cmd.run(cmd.Dir)
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, r := range results {
		if i%2 == 0 {
			require.Equal(t, "insert", r.Phase)
			require.Equal(t, 50, r.Records)
		} else {
			require.Equal(t, "remove", r.Phase)
			require.Equal(t, 20, r.Records)
		}
	}
	require.Equal(t, "talus", results[0].Store)
	require.Equal(t, int64(table.HeaderSize+20*36), results[0].FileSize)
	require.Equal(t, "talus (text)", results[2].Store)
	require.Equal(t, "sqlite", results[4].Store)

	require.NoError(t, writeBenchResults(results))
	require.Contains(t, out.String(), "sqlite")

	cmd.Records = 0
	_, err = cmd.run(t.TempDir())
	require.Error(t, err)
}

func setUp(t *testing.T) *bytes.Buffer {
	var out = new(bytes.Buffer)
	var prevOut, prevIn = stdout, stdin
	stdout = out
	t.Cleanup(func() { stdout, stdin = prevOut, prevIn })

	var cfg = BaseConfig{
		Catalog: CatalogConfig{Root: t.TempDir()},
		Log:     mbp.LogConfig{Level: "warn", Format: "text"},
	}
	*TablesCfg = cfg
	RecordsCfg.BaseConfig = cfg
	return out
}
