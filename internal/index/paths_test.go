package index

import "testing"

func TestSessionIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/user/.claude/projects/-Users-eric/4256a303-4485-4516-8565-464a3379e0fa.jsonl", "4256a303-4485-4516-8565-464a3379e0fa"},
		{"/some/other/path.jsonl", "path"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		if got := sessionIDFromPath(tt.path); got != tt.want {
			t.Errorf("sessionIDFromPath(%q)=%q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestWorkdirFromProjectDir(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/user/.claude/projects/-Users-eric-projects-foo/abc.jsonl", "/Users/eric/projects/foo"},
		// A dash inside a real directory name is indistinguishable from a separator.
		{"/home/user/.claude/projects/-Users-eric-my-app/abc.jsonl", "/Users/eric/my/app"},
		{"/home/user/.claude/projects/noprefix/abc.jsonl", "noprefix"},
		{"abc.jsonl", ""},
	}
	for _, tt := range tests {
		if got := workdirFromProjectDir(tt.path); got != tt.want {
			t.Errorf("workdirFromProjectDir(%q)=%q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		workdir string
		id      string
		want    string
	}{
		{"/Users/eric/projects/foo", "4256a303-4485-4516-8565-464a3379e0fa", "foo/e0fa"},
		{"/x/a-very-long-directory-name", "abcd1234", "-directory-name/1234"},
		{"", "abcd1234", "/1234"},
		{"/", "ab", "/ab"},
	}
	for _, tt := range tests {
		got := displayName(tt.workdir, tt.id)
		if got != tt.want {
			t.Errorf("displayName(%q,%q)=%q, want %q", tt.workdir, tt.id, got, tt.want)
		}
		if n := len([]rune(got)); n > displayNameBudget {
			t.Errorf("displayName(%q,%q) has %d runes, budget %d", tt.workdir, tt.id, n, displayNameBudget)
		}
	}
}

func TestIsSessionFile(t *testing.T) {
	for path, want := range map[string]bool{
		"a.jsonl":     true,
		"A.JSONL":     false,
		"a.Jsonl":     false,
		"a.json":      false,
		"a.jsonl.tmp": false,
		"dir/":        false,
	} {
		if got := IsSessionFile(path); got != want {
			t.Errorf("IsSessionFile(%q)=%v, want %v", path, got, want)
		}
	}
}
