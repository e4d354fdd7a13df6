// Spins up the casket demo server: named caches behind a Redis-protocol port, plus a prometheus metrics endpoint.

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casketcache/casket/pkg/port"
	"github.com/casketcache/casket/pkg/registry"
	"github.com/casketcache/casket/pkg/utils"
)

var (
	printVersion   = flag.Bool("print_version", false, "Print the version and exit.")
	configFile     = flag.String("config_file", "casket.yaml", "Path to the registry configuration file.")
	metricsAddress = flag.String("metrics_address", ":9095", "The ip:port to serve prometheus metrics on; empty disables it.")
)

func main() {
	flag.Parse()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Casket build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	conf, err := registry.LoadConfig(*configFile)
	if err != nil {
		// A missing config file is fine; every cache then runs on the default profile without persistence.
		slog.Warn("Running with default registry configuration.", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, os.Kill)

	go func() { // Listen for OS interrupts in the background.
		sig := <-signals
		slog.Info("Received termination signal, cancelling server context.", "signal", sig)
		cancel()
	}()

	if *metricsAddress != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddress, nil); err != nil {
				slog.Error("Metrics endpoint stopped.", "err", err)
			}
		}()
	}

	caches := registry.New[string](ctx, conf)
	if err := port.RunServer(ctx, caches); err != nil {
		slog.Error("Casket server stopped.", "err", err)
		os.Exit(1)
	}
}
