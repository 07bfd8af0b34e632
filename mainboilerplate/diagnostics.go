package mainboilerplate

import (
	_ "expvar" // Import for /debug/vars
	"fmt"
	"net/http"
	_ "net/http/pprof" // Import for /debug/pprof
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// DiagnosticsConfig configures pull-based application metrics, debugging and diagnostics.
type DiagnosticsConfig struct {
	Listen         string `long:"listen" env:"LISTEN" description:"Address at which metrics and debugging services are served (eg, ':9090'). Disabled if empty"`
	TerminationLog string `long:"termination-log" env:"TERMINATION_LOG" default:"/dev/termination-log" description:"File to which a termination message is written on panic. Disabled if empty"`
}

// InitDiagnosticsAndRecover registers metrics and debugging services on the
// default HTTPMux, and serves them if configured. It also returns a closure
// which should be deferred, which recovers a panic and attempts to write it
// to the configured termination log before re-panicking.
func InitDiagnosticsAndRecover(cfg DiagnosticsConfig) func() {
	// Package "net/http/pprof" serves /debug/pprof/.
	// Package "expvar" serves /debug/vars
	registerDiagnostics.Do(func() {
		// Serve a liveness check at /debug/ready.
		http.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		// Serve Prometheus metrics at /debug/metrics.
		http.Handle("/debug/metrics", promhttp.Handler())
	})

	if cfg.Listen != "" {
		go func() {
			var err = http.ListenAndServe(cfg.Listen, nil)
			log.WithFields(log.Fields{"err": err, "listen": cfg.Listen}).Error("diagnostics server exited")
		}()
	}

	return func() {
		if r := recover(); r != nil {
			writeTerminationMessage(cfg.TerminationLog, r)
			panic(r)
		}
	}
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}

var registerDiagnostics sync.Once

// writeTerminationMessage is a best-effort write of |r| to |path|, which
// must already exist (as it does for container runtimes which collect it).
func writeTerminationMessage(path string, r interface{}) {
	if path == "" {
		return
	}
	if f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0); err == nil {
		fmt.Fprintf(f, "%+v", r)
		_ = f.Close()
	}
}
