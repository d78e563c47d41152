package index

import (
	"path/filepath"
	"strings"
)

const sessionExt = ".jsonl"

func IsSessionFile(path string) bool {
	return strings.HasSuffix(path, sessionExt)
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// isSummaryArtifact reports files the agent writes next to sessions that hold
// conversation summaries rather than a live session.
func isSummaryArtifact(id string) bool {
	return strings.Contains(id, "summary")
}

// workdirFromProjectDir reverses the agent's project directory naming, where
// /Users/eric/projects/foo is stored as -Users-eric-projects-foo.
//
// The encoding is lossy: a directory whose real name contains a dash decodes
// into two path segments. There is no way to tell them apart from the name
// alone, so every dash is treated as a separator.
func workdirFromProjectDir(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	if dir == "" || dir == "." || dir == string(filepath.Separator) {
		return ""
	}
	decoded := strings.ReplaceAll(dir, "-", "/")
	return filepath.Clean(filepath.FromSlash(decoded))
}

func displayName(workdir, id string) string {
	name := workdirBase(workdir) + "/" + lastRunes(id, sessionSuffixLen)
	return lastRunes(name, displayNameBudget)
}

func workdirBase(workdir string) string {
	if workdir == "" {
		return ""
	}
	base := filepath.Base(workdir)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
