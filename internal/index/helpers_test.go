package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var baseTime = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func ts(offset time.Duration) string {
	return baseTime.Add(offset).Format(time.RFC3339Nano)
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// eventLine builds one JSONL record. cwd and branch are omitted when empty.
func eventLine(typ string, at time.Duration, cwd, branch string) string {
	line := fmt.Sprintf(`{"type":"%s","timestamp":"%s","message":{"role":"%s","content":"hi"}`, typ, ts(at), typ)
	if cwd != "" {
		line += fmt.Sprintf(`,"cwd":"%s"`, cwd)
	}
	if branch != "" {
		line += fmt.Sprintf(`,"gitBranch":"%s"`, branch)
	}
	return line + "}"
}

func toolResultLine(at time.Duration, tool, path string) string {
	return fmt.Sprintf(`{"type":"tool_result","timestamp":"%s","message":{"role":"tool","content":{"tool":"%s","path":"%s"}}}`, ts(at), tool, path)
}

// writeSession writes lines to root/project/name and pins its mtime so
// fallback timestamps are deterministic.
func writeSession(t *testing.T, root, project, name string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(root, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, baseTime, baseTime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
	return path
}
