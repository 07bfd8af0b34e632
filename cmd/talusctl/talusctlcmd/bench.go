package talusctlcmd

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	_ "github.com/mattn/go-sqlite3" // Import for the "sqlite3" driver.
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/catalog"
	mbp "go.talusdb.dev/core/mainboilerplate"
	"go.talusdb.dev/core/table"
)

type cmdBench struct {
	Log      mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Dir      string        `long:"dir" description:"Directory in which benchmark tables are created. Defaults to a temporary directory, which is removed"`
	Records  int           `long:"records" short:"n" default:"10000" description:"Number of records to insert"`
	Capacity int           `long:"capacity" short:"c" default:"1000" description:"Capacity of benchmark tables, in records"`
	Stream   string        `long:"stream" choice:"keep-open" choice:"always-new" default:"keep-open" description:"Stream behavior of benchmark tables"`
	Sync     bool          `long:"sync" description:"Sync table files after every operation"`
	SQLite   bool          `long:"sqlite" description:"Also benchmark an equivalent SQLite table"`
}

func init() {
	CommandRegistry.AddCommand("", "bench", "Benchmark table operations", `
Benchmark insertion and removal of fixed-stride telemetry records.

--records are inserted into tables of --capacity records, evicting the
oldest as tables fill, and the remaining records are then removed. Tables
of numeric records and of records having a text field are measured.

With --sqlite, an equivalent SQLite table which is trimmed to --capacity
rows is measured as well.

>  talusctl bench --records 100000 --capacity 1000 --sqlite
`, &cmdBench{})
}

// benchTelemetry is a numeric benchmark record.
type benchTelemetry struct {
	Timestamp time.Time
	Value     float64
	SensorID  int32
	Latitude  float64
	Longitude float64
}

// benchNamedTelemetry is a benchmark record having a text field.
type benchNamedTelemetry struct {
	Timestamp  time.Time
	Value      float64
	SensorID   int32
	SensorName string `talus:"size=50"`
}

// benchResult is the measurement of a benchmark phase.
type benchResult struct {
	Store    string
	Phase    string
	Records  int
	Elapsed  time.Duration
	FileSize int64
}

func (r benchResult) rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Records) / r.Elapsed.Seconds()
}

func (cmd *cmdBench) Execute([]string) error {
	mbp.InitLog(cmd.Log)

	var dir = cmd.Dir
	if dir == "" {
		var err error
		if dir, err = os.MkdirTemp("", "talus-bench-"); err != nil {
			return err
		}
		defer os.RemoveAll(dir)
	}
	var results, err = cmd.run(dir)
	if err != nil {
		return err
	}
	return writeBenchResults(results)
}

func (cmd *cmdBench) run(dir string) ([]benchResult, error) {
	if cmd.Records <= 0 || cmd.Capacity <= 0 {
		return nil, errors.Errorf("--records (%d) and --capacity (%d) must be positive", cmd.Records, cmd.Capacity)
	}
	var db, err = catalog.Open(dir)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var opts = table.Options{SyncOnWrite: cmd.Sync}
	if cmd.Stream == "always-new" {
		opts.StreamBehavior = table.AlwaysNew
	}
	var rnd = rand.New(rand.NewSource(1))

	log.WithFields(log.Fields{
		"dir":      dir,
		"records":  cmd.Records,
		"capacity": cmd.Capacity,
		"stream":   opts.StreamBehavior,
	}).Info("starting benchmark")

	var out []benchResult

	numeric, err := catalog.CreateFixed[benchTelemetry](db, "", cmd.Capacity, opts)
	if err != nil {
		return nil, err
	}
	res, err := benchFixed("talus", numeric, cmd.Records, func(i int) benchTelemetry {
		return benchTelemetry{
			Timestamp: time.Now(),
			Value:     rnd.Float64() * 100,
			SensorID:  int32(i % 16),
			Latitude:  rnd.Float64()*180 - 90,
			Longitude: rnd.Float64()*360 - 180,
		}
	})
	if err != nil {
		return nil, err
	}
	out = append(out, res...)

	named, err := catalog.CreateFixed[benchNamedTelemetry](db, "", cmd.Capacity, opts)
	if err != nil {
		return nil, err
	}
	res, err = benchFixed("talus (text)", named, cmd.Records, func(i int) benchNamedTelemetry {
		return benchNamedTelemetry{
			Timestamp:  time.Now(),
			Value:      rnd.Float64() * 100,
			SensorID:   int32(i % 16),
			SensorName: fmt.Sprintf("sensor-%d", i%16),
		}
	})
	if err != nil {
		return nil, err
	}
	out = append(out, res...)

	if cmd.SQLite {
		res, err = benchSQLite(context.Background(), filepath.Join(dir, "bench.db"), cmd.Records, cmd.Capacity, rnd)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

// benchFixed inserts |n| records produced by |gen| into |tbl|, and then
// removes all records which remain.
func benchFixed[T any](store string, tbl *table.Fixed[T], n int, gen func(int) T) ([]benchResult, error) {
	var started = time.Now()
	for i := 0; i != n; i++ {
		if err := tbl.Insert(gen(i)); err != nil {
			return nil, errors.WithMessagef(err, "%s insert", store)
		}
	}
	var insert = benchResult{Store: store, Phase: "insert", Records: n, Elapsed: time.Since(started)}

	if info, err := table.Stat(tbl.Path()); err == nil {
		insert.FileSize = info.FileSize
	}

	var remove = benchResult{Store: store, Phase: "remove", FileSize: insert.FileSize}
	started = time.Now()
	for {
		var _, ok, err = tbl.Remove()
		if err != nil {
			return nil, errors.WithMessagef(err, "%s remove", store)
		} else if !ok {
			break
		}
		remove.Records++
	}
	remove.Elapsed = time.Since(started)

	return []benchResult{insert, remove}, nil
}

// benchSQLite measures an SQLite table which is used as a ring buffer of
// |capacity| rows, in the manner of benchFixed.
func benchSQLite(ctx context.Context, path string, n, capacity int, rnd *rand.Rand) ([]benchResult, error) {
	var db, err = sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS telemetry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		value REAL NOT NULL,
		sensor_id INTEGER NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL
	)`); err != nil {
		return nil, errors.WithMessage(err, "creating sqlite table")
	}

	var count int
	var started = time.Now()
	for i := 0; i != n; i++ {
		if _, err = db.ExecContext(ctx,
			`INSERT INTO telemetry (timestamp, value, sensor_id, latitude, longitude) VALUES (?, ?, ?, ?, ?)`,
			time.Now().UnixNano(), rnd.Float64()*100, i%16, rnd.Float64()*180-90, rnd.Float64()*360-180,
		); err != nil {
			return nil, errors.WithMessage(err, "sqlite insert")
		}
		if count++; count > capacity {
			if _, err = db.ExecContext(ctx,
				`DELETE FROM telemetry WHERE id = (SELECT MIN(id) FROM telemetry)`); err != nil {
				return nil, errors.WithMessage(err, "sqlite trim")
			}
			count--
		}
	}
	var insert = benchResult{Store: "sqlite", Phase: "insert", Records: n, Elapsed: time.Since(started)}

	if fi, err := os.Stat(path); err == nil {
		insert.FileSize = fi.Size()
	}

	var remove = benchResult{Store: "sqlite", Phase: "remove", FileSize: insert.FileSize}
	started = time.Now()
	for {
		var rec benchTelemetry
		var id, ts int64

		err = db.QueryRowContext(ctx,
			`SELECT id, timestamp, value, sensor_id, latitude, longitude FROM telemetry ORDER BY id LIMIT 1`,
		).Scan(&id, &ts, &rec.Value, &rec.SensorID, &rec.Latitude, &rec.Longitude)

		if errors.Is(err, sql.ErrNoRows) {
			break
		} else if err != nil {
			return nil, errors.WithMessage(err, "sqlite select")
		}
		rec.Timestamp = time.Unix(0, ts)

		if _, err = db.ExecContext(ctx, `DELETE FROM telemetry WHERE id = ?`, id); err != nil {
			return nil, errors.WithMessage(err, "sqlite delete")
		}
		remove.Records++
	}
	remove.Elapsed = time.Since(started)

	return []benchResult{insert, remove}, nil
}

func writeBenchResults(results []benchResult) error {
	var tw = tablewriter.NewWriter(stdout)
	tw.Header("Store", "Phase", "Records", "Elapsed", "Records/sec", "File Size")

	for _, r := range results {
		if err := tw.Append([]string{
			r.Store,
			r.Phase,
			humanize.Comma(int64(r.Records)),
			r.Elapsed.Round(time.Microsecond).String(),
			humanize.CommafWithDigits(r.rate(), 0),
			humanize.IBytes(uint64(r.FileSize)),
		}); err != nil {
			return err
		}
	}
	return tw.Render()
}
