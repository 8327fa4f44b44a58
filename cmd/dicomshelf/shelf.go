package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrsinham/dicomshelf/internal/browser"
	"github.com/mrsinham/dicomshelf/internal/config"
)

// shelfFlags are shared by every command that opens the index.
type shelfFlags struct {
	configPath  string
	dbDir       string
	memory      bool
	metricsAddr string
	verbose     bool
}

func (f *shelfFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", defaultConfigPath(), "Configuration file")
	fs.StringVar(&f.dbDir, "db", "", "Database directory (overrides database_directory)")
	fs.BoolVar(&f.memory, "memory", false, "Keep the index in memory for this run only")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.BoolVar(&f.verbose, "verbose", false, "Log to stderr")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".dicomshelf", "config.yaml")
	}
	return filepath.Join(home, ".dicomshelf", "config.yaml")
}

func (f *shelfFlags) config() (config.Config, error) {
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.dbDir != "" {
		cfg.DatabaseDirectory = f.dbDir
	}
	return cfg, nil
}

func (f *shelfFlags) logger() *log.Logger {
	if !f.verbose {
		return nil
	}
	return log.New(os.Stderr, "dicomshelf: ", log.LstdFlags)
}

// open opens the index described by the flags. The returned close function
// releases the index and stops the metrics endpoint.
func (f *shelfFlags) open(ctx context.Context, cfg config.Config, report io.Writer) (*browser.Browser, func(), error) {
	logger := f.logger()
	opts := browser.Options{
		Config:   cfg,
		InMemory: f.memory,
		Logger:   logger,
		Report:   report,
	}

	var srv *http.Server
	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Registerer = reg

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: f.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "Warning: metrics endpoint: %v\n", err)
			}
		}()
	}

	b, err := browser.Open(ctx, opts)
	if err != nil {
		if srv != nil {
			_ = srv.Close()
		}
		return nil, nil, err
	}

	closeFn := func() {
		if err := b.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: close index: %v\n", err)
		}
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
	}
	return b, closeFn, nil
}
