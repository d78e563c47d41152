package index

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseLineUserMessage(t *testing.T) {
	line := `{"type":"user","sessionId":"abc-123","timestamp":"2026-01-15T10:30:00Z","cwd":"/tmp/proj","gitBranch":"main","message":{"role":"user","content":"hello world"}}`
	ev, err := ParseLine([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != KindUserMessage {
		t.Errorf("kind=%q, want %q", ev.Kind, KindUserMessage)
	}
	if ev.WorkingDirectory != "/tmp/proj" {
		t.Errorf("workdir=%q, want /tmp/proj", ev.WorkingDirectory)
	}
	if ev.BranchName != "main" {
		t.Errorf("branch=%q, want main", ev.BranchName)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("expected parsed timestamp")
	}
	if ev.RawTimestamp != "2026-01-15T10:30:00Z" {
		t.Errorf("raw timestamp=%q", ev.RawTimestamp)
	}
	if ev.Message == nil || ev.Message.Role != "user" {
		t.Fatalf("expected user payload, got %#v", ev.Message)
	}
}

func TestParseLineKinds(t *testing.T) {
	tests := []struct {
		typ  string
		want EventKind
	}{
		{"user", KindUserMessage},
		{"assistant", KindAssistantMessage},
		{"tool_use", KindToolInvocation},
		{"tool_result", KindToolResult},
		{"user_message", KindUserMessage},
		{"tool_invocation", KindToolInvocation},
	}
	for _, tt := range tests {
		line := `{"type":"` + tt.typ + `","timestamp":"2026-01-15T10:30:00.123Z"}`
		ev, err := ParseLine([]byte(line))
		if err != nil {
			t.Errorf("type %q: unexpected error: %v", tt.typ, err)
			continue
		}
		if ev.Kind != tt.want {
			t.Errorf("type %q: kind=%q, want %q", tt.typ, ev.Kind, tt.want)
		}
	}
}

func TestParseLineMalformed(t *testing.T) {
	for _, line := range []string{`not json at all`, `{"type":"user",`, `[1,2`} {
		_, err := ParseLine([]byte(line))
		if err == nil {
			t.Errorf("ParseLine(%q) expected error", line)
			continue
		}
		if errors.Is(err, ErrNotEvent) {
			t.Errorf("ParseLine(%q) returned ErrNotEvent, want a decode error", line)
		}
	}
}

func TestParseLineSkipsNonEvents(t *testing.T) {
	for _, line := range []string{
		``,
		`   `,
		`{"type":"progress","timestamp":"2026-01-15T10:33:00Z"}`,
		`{"type":"file-history-snapshot"}`,
		`{"type":"summary","summary":"Refactor parser"}`,
		`{"timestamp":"2026-01-15T10:33:00Z"}`,
	} {
		if _, err := ParseLine([]byte(line)); !errors.Is(err, ErrNotEvent) {
			t.Errorf("ParseLine(%q) err=%v, want ErrNotEvent", line, err)
		}
	}
}

func TestParseLineGarbageTimestamp(t *testing.T) {
	ev, err := ParseLine([]byte(`{"type":"assistant","timestamp":"yesterday-ish"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Timestamp.IsZero() {
		t.Errorf("timestamp=%v, want zero", ev.Timestamp)
	}
	if ev.RawTimestamp != "yesterday-ish" {
		t.Errorf("raw timestamp=%q, want it preserved", ev.RawTimestamp)
	}
}

func TestPayloadFilePath(t *testing.T) {
	tests := []struct {
		content  string
		wantPath string
		wantOK   bool
		wantTool string
	}{
		{`{"tool":"Edit","path":"/tmp/foo.go"}`, "/tmp/foo.go", true, "Edit"},
		{`{"path":"  "}`, "", false, ""},
		{`"plain text result"`, "", false, ""},
		{`[{"type":"text","text":"x"}]`, "", false, ""},
		{``, "", false, ""},
	}
	for _, tt := range tests {
		p := &Payload{Role: "tool", Content: json.RawMessage(tt.content)}
		got, ok := p.FilePath()
		if got != tt.wantPath || ok != tt.wantOK {
			t.Errorf("FilePath(%s)=(%q,%v), want (%q,%v)", tt.content, got, ok, tt.wantPath, tt.wantOK)
		}
		if tool := p.ToolName(); tool != tt.wantTool {
			t.Errorf("ToolName(%s)=%q, want %q", tt.content, tool, tt.wantTool)
		}
	}

	var nilPayload *Payload
	if _, ok := nilPayload.FilePath(); ok {
		t.Error("nil payload should carry no path")
	}
}

func TestActionForTool(t *testing.T) {
	tests := map[string]FileAction{
		"Read":      ActionRead,
		"Write":     ActionCreate,
		"create":    ActionCreate,
		"Delete":    ActionDelete,
		"Edit":      ActionEdit,
		"MultiEdit": ActionEdit,
		"":          ActionEdit,
	}
	for tool, want := range tests {
		if got := actionForTool(tool); got != want {
			t.Errorf("actionForTool(%q)=%q, want %q", tool, got, want)
		}
	}
}
