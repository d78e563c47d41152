package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"hexwatch/internal/config"
	"hexwatch/internal/highlight"
	"hexwatch/internal/index"
	"hexwatch/internal/logging"
	"hexwatch/internal/report"
	"hexwatch/internal/store"
	"hexwatch/internal/wire"

	"github.com/urfave/cli/v2"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("hexwatch: "+err.Error()))
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "hexwatch",
		Usage:   "Watch agent session logs and stream live session snapshots",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "claude-home", Usage: "path to Claude home directory"},
			&cli.StringFlag{Name: "projects-dir", Usage: "session root to scan (default <claude-home>/projects)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn, error or off"},
			&cli.IntFlag{Name: "max-sessions", Usage: "maximum sessions per snapshot"},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "watch the session root and serve snapshots over HTTP and WebSocket",
				Action: runServe,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address (default :3847)"},
					&cli.DurationFlag{Name: "debounce", Usage: "quiet period before a rescan"},
					&cli.StringFlag{Name: "db-path", Usage: "keep the query index in this SQLite file instead of memory"},
				},
			},
			{
				Name:   "scan",
				Usage:  "scan once and print the snapshot",
				Action: runScan,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the wire document instead of a table"},
					&cli.StringFlag{Name: "search", Aliases: []string{"q"}, Usage: "only show sessions matching every term"},
					&cli.IntFlag{Name: "width", Usage: "table width (default $COLUMNS or 120)"},
				},
			},
			{
				Name:   "report",
				Usage:  "scan once and write a markdown report",
				Action: runReport,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Usage: "override report output directory"},
					&cli.BoolFlag{Name: "render", Usage: "render the report to the terminal instead of writing it"},
					&cli.IntFlag{Name: "width", Usage: "wrap width for --render"},
				},
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, "hexwatch "+version)
					return nil
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (config.AppConfig, error) {
	return config.Load(config.Overrides{
		ConfigPath:  c.String("config"),
		ClaudeHome:  c.String("claude-home"),
		ProjectsDir: c.String("projects-dir"),
		Addr:        c.String("addr"),
		DBPath:      c.String("db-path"),
		LogLevel:    c.String("log-level"),
		Debounce:    c.Duration("debounce"),
		MaxSessions: c.Int("max-sessions"),
		ReportDir:   c.String("out"),
	}, os.Getenv)
}

func newScanner(cfg config.AppConfig, log *logging.Logger) *index.Scanner {
	return index.NewScanner(cfg.ProjectsDir,
		index.WithLimit(cfg.MaxSessions),
		index.WithLogger(log.With("component", "scanner")),
	)
}

func runScan(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Level(), os.Stderr)

	snap, err := newScanner(cfg, log).Scan(c.Context)
	if err != nil {
		return fmt.Errorf("scan sessions: %w", err)
	}

	query := c.String("search")
	if query != "" {
		snap, err = filterSnapshot(c.Context, snap, query)
		if err != nil {
			return err
		}
	}

	if c.Bool("json") {
		data, err := wire.MarshalInit(snap)
		if err != nil {
			return err
		}
		var pretty map[string]any
		if err := json.Unmarshal(data, &pretty); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	}

	out := sessionTable(snap, time.Now(), terminalWidth(c.Int("width")))
	if query != "" {
		out = highlight.Terms(out, store.SearchTerms(query), func(s string) string { return matchStyle.Render(s) }).Text
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

// filterSnapshot keeps the sessions the query index matches, in snapshot order.
func filterSnapshot(ctx context.Context, snap *index.Snapshot, query string) (*index.Snapshot, error) {
	st, err := store.Open("")
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if err := st.Replace(ctx, snap); err != nil {
		return nil, err
	}
	hits, err := st.Search(ctx, query, snap.Len())
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(hits))
	for _, h := range hits {
		keep[h.ID] = true
	}
	filtered := &index.Snapshot{Sessions: make([]index.SessionRecord, 0, len(hits)), ScannedAt: snap.ScannedAt}
	for _, s := range snap.Sessions {
		if keep[s.ID] {
			filtered.Sessions = append(filtered.Sessions, s)
		}
	}
	return filtered, nil
}

func runReport(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Level(), os.Stderr)

	snap, err := newScanner(cfg, log).Scan(c.Context)
	if err != nil {
		return fmt.Errorf("scan sessions: %w", err)
	}
	stats, err := snapshotStats(c.Context, snap)
	if err != nil {
		return err
	}

	now := time.Now()
	if c.Bool("render") {
		md := report.BuildSnapshotMarkdown(snap, stats, now)
		fmt.Fprint(c.App.Writer, report.Render(md, cfg.GlamourStyle, terminalWidth(c.Int("width"))))
		return nil
	}

	exporter, err := report.New(cfg.ReportDir)
	if err != nil {
		return err
	}
	path, err := exporter.Export(snap, stats, now)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Report written to "+path)
	return nil
}

// snapshotStats runs a one-off snapshot through an in-memory index.
func snapshotStats(ctx context.Context, snap *index.Snapshot) (store.Stats, error) {
	st, err := store.Open("")
	if err != nil {
		return store.Stats{}, err
	}
	defer st.Close()
	if err := st.Replace(ctx, snap); err != nil {
		return store.Stats{}, err
	}
	return st.Stats(ctx)
}
