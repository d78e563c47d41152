package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hexwatch/internal/broadcast"
	"hexwatch/internal/logging"
	"hexwatch/internal/server"
	"hexwatch/internal/store"
	"hexwatch/internal/watch"

	"github.com/urfave/cli/v2"
)

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Level(), os.Stderr)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := newScanner(cfg, log)
	hub := broadcast.New(log.With("component", "broadcast"))
	defer hub.Close()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	// Stops the index writer before the store closes.
	indexCtx, stopIndex := context.WithCancel(ctx)
	defer stopIndex()
	if _, err := hub.Subscribe(st.Subscriber(indexCtx, log.With("component", "store"))); err != nil {
		return fmt.Errorf("subscribe index: %w", err)
	}

	w := watch.New(cfg.ProjectsDir, scanner.Scan, hub.Publish,
		watch.WithDebounce(cfg.Debounce),
		watch.WithLogger(log.With("component", "watch")),
	)
	stopWatching, err := w.Start(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", cfg.ProjectsDir, err)
	}

	srv := server.New(scanner, hub,
		server.WithIndex(st),
		server.WithLogger(log.With("component", "server")),
	)
	fmt.Fprintln(c.App.Writer, banner(cfg))

	serveErr := srv.ListenAndServe(ctx, cfg.Addr)
	log.Info("shutting down")
	if err := stopWatching(); err != nil {
		log.Warn("stop watcher", "error", err)
	}
	return serveErr
}
