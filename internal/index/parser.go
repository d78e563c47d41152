package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrNotEvent marks a well-formed line that does not describe a session event
// (blank lines, progress records, summaries).
var ErrNotEvent = errors.New("line is not a session event")

var timestampLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"}

type rawLine struct {
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp"`
	Cwd       string   `json:"cwd"`
	GitBranch string   `json:"gitBranch"`
	Message   *Payload `json:"message"`
}

// ParseLine decodes one log line. Malformed JSON is returned as an error and
// lines of an unknown kind as ErrNotEvent; callers skip both.
func ParseLine(line []byte) (RawEvent, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return RawEvent{}, ErrNotEvent
	}

	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return RawEvent{}, err
	}

	kind, ok := normalizeKind(raw.Type)
	if !ok {
		return RawEvent{}, ErrNotEvent
	}

	rawTS := strings.TrimSpace(raw.Timestamp)
	return RawEvent{
		Kind:             kind,
		Timestamp:        parseTimestamp(rawTS),
		RawTimestamp:     rawTS,
		WorkingDirectory: strings.TrimSpace(raw.Cwd),
		BranchName:       strings.TrimSpace(raw.GitBranch),
		Message:          raw.Message,
	}, nil
}

func normalizeKind(typ string) (EventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "user", string(KindUserMessage):
		return KindUserMessage, true
	case "assistant", string(KindAssistantMessage):
		return KindAssistantMessage, true
	case "tool_use", string(KindToolInvocation):
		return KindToolInvocation, true
	case string(KindToolResult):
		return KindToolResult, true
	}
	return "", false
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

type toolContent struct {
	Tool string `json:"tool"`
	Path string `json:"path"`
}

// toolContent decodes the payload content when it is a JSON object. String
// and array content carry no file metadata.
func (p *Payload) toolContent() (toolContent, bool) {
	if p == nil {
		return toolContent{}, false
	}
	content := bytes.TrimSpace(p.Content)
	if len(content) == 0 || content[0] != '{' {
		return toolContent{}, false
	}
	var tc toolContent
	if err := json.Unmarshal(content, &tc); err != nil {
		return toolContent{}, false
	}
	return tc, true
}

// FilePath reports the file a tool result touched, if the payload names one.
func (p *Payload) FilePath() (string, bool) {
	tc, ok := p.toolContent()
	if !ok {
		return "", false
	}
	path := strings.TrimSpace(tc.Path)
	return path, path != ""
}

func (p *Payload) ToolName() string {
	tc, _ := p.toolContent()
	return strings.TrimSpace(tc.Tool)
}

func actionForTool(tool string) FileAction {
	switch strings.ToLower(tool) {
	case "read":
		return ActionRead
	case "write", "create":
		return ActionCreate
	case "delete", "remove":
		return ActionDelete
	default:
		return ActionEdit
	}
}
