package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hexwatch/internal/index"
	"hexwatch/internal/store"

	"github.com/charmbracelet/glamour"
)

type Exporter struct {
	overrideDir string
	cwd         string
}

func New(overrideDir string) (*Exporter, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	return &Exporter{overrideDir: strings.TrimSpace(overrideDir), cwd: cwd}, nil
}

// Export writes the snapshot report and returns its path.
func (e *Exporter) Export(snap *index.Snapshot, stats store.Stats, now time.Time) (string, error) {
	path := e.outputPath(now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	md := BuildSnapshotMarkdown(snap, stats, now)
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}
	return path, nil
}

func BuildSnapshotMarkdown(snap *index.Snapshot, stats store.Stats, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Session snapshot\n\n")
	b.WriteString("Generated: " + now.UTC().Format(time.RFC3339) + "\n\n")

	b.WriteString("```text\n")
	fmt.Fprintf(&b, "sessions: %d\n", stats.Total)
	fmt.Fprintf(&b, "active: %d\n", stats.Active)
	fmt.Fprintf(&b, "working: %d\n", stats.Working)
	fmt.Fprintf(&b, "files: %d\n", stats.Files)
	fmt.Fprintf(&b, "commits: %d\n", stats.Commits)
	for _, st := range []index.Status{index.StatusWorking, index.StatusActive, index.StatusIdle, index.StatusCompleted} {
		fmt.Fprintf(&b, "%s: %d\n", st, stats.ByStatus[st])
	}
	b.WriteString("```\n\n")

	if snap.Len() == 0 {
		b.WriteString("_No sessions found._\n")
		return b.String()
	}

	b.WriteString("## Sessions\n\n")
	b.WriteString("| Session | Status | Branch | Last activity | Messages | Tools |\n")
	b.WriteString("|---|---|---|---|---:|---:|\n")
	for _, s := range snap.Sessions {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %d |\n",
			cell(s.DisplayName),
			s.Status,
			cell(safeValue(s.BranchName)),
			s.LastActivity.UTC().Format(time.RFC3339),
			s.MessageCount,
			s.ToolCount,
		)
	}
	b.WriteString("\n")

	for _, s := range snap.Sessions {
		b.WriteString(buildSessionSection(s))
	}
	return b.String()
}

func buildSessionSection(s index.SessionRecord) string {
	var b strings.Builder
	b.WriteString("## " + s.DisplayName + " (" + string(s.Status) + ")\n\n")
	b.WriteString("```text\n")
	b.WriteString("id: " + s.ID + "\n")
	b.WriteString("workdir: " + safeValue(s.WorkingDirectory) + "\n")
	b.WriteString("branch: " + safeValue(s.BranchName) + "\n")
	b.WriteString("started: " + s.StartTime.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("last_activity: " + s.LastActivity.UTC().Format(time.RFC3339) + "\n")
	fmt.Fprintf(&b, "messages: %d\n", s.MessageCount)
	fmt.Fprintf(&b, "tools: %d\n", s.ToolCount)
	b.WriteString("source: " + safeValue(s.SourcePath) + "\n")
	b.WriteString("```\n\n")

	if len(s.RecentFileChanges) > 0 {
		b.WriteString("### Recent files\n\n")
		for _, fc := range s.RecentFileChanges {
			line := "- `" + string(fc.Action) + "` " + fc.Path
			if fc.Timestamp != "" {
				line += " (" + fc.Timestamp + ")"
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
	if len(s.RecentCommits) > 0 {
		b.WriteString("### Recent commits\n\n")
		for _, c := range s.RecentCommits {
			b.WriteString("- `" + shortHash(c.Hash) + "` " + c.Message + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Render formats markdown for a terminal. If glamour fails the markdown is
// returned unchanged.
func Render(md, style string, wrap int) string {
	if wrap <= 0 {
		wrap = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func (e *Exporter) outputPath(now time.Time) string {
	name := "snapshot-" + now.UTC().Format("20060102-150405") + ".md"
	if e.overrideDir != "" {
		dir := e.overrideDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(e.cwd, dir)
		}
		return filepath.Join(dir, name)
	}

	root := e.cwd
	if repoRoot := findRepoRoot(e.cwd); repoRoot != "" {
		root = repoRoot
	}
	return filepath.Join(root, "docs", "hexwatch", name)
}

func findRepoRoot(start string) string {
	if start == "" {
		return ""
	}
	path := filepath.Clean(start)
	for {
		if st, err := os.Stat(filepath.Join(path, ".git")); err == nil && st != nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return ""
		}
		path = parent
	}
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}

func safeValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "n/a"
	}
	return s
}
