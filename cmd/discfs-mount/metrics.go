package main

import (
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sqooid/discfs/transport"
	"github.com/sqooid/discfs/transport/mirror"
)

// stdLoggerFor adapts a zerolog.Logger to the *log.Logger jacobsa/fuse wants
// for its Error/Debug loggers, tagging every line at the given level.
func stdLoggerFor(l zerolog.Logger, level zerolog.Level) *log.Logger {
	return log.New(levelWriter{l: l, level: level}, "", 0)
}

// levelWriter emits each written line as one zerolog event at level.
type levelWriter struct {
	l     zerolog.Logger
	level zerolog.Level
}

func (w levelWriter) Write(p []byte) (int, error) {
	w.l.WithLevel(w.level).Msg(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// serveMetrics registers the package-level Prometheus collectors and serves
// them, along with pprof's debugging endpoints, on addr. It blocks and logs
// a fatal error if the server ever exits.
func serveMetrics(addr string, l zerolog.Logger) {
	registry := []prometheus.Collector{
		transport.RequestsTotal, mirror.PutsTotal,
	}
	for _, coll := range registry {
		if err := prometheus.Register(coll); err != nil {
			l.Fatal().Err(err).Msg("failed to register metric")
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, "404 not found")
			return
		}
		fmt.Fprintln(w, "discfs-mount metrics and debugging server")
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	l.Info().Str("addr", addr).Msg("serving metrics")
	server := http.Server{Addr: addr, Handler: mux}
	l.Fatal().Err(server.ListenAndServe()).Msg("metrics server exited")
}
