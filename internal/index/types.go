package index

import (
	"encoding/json"
	"time"
)

const (
	MaxFileChanges = 10
	MaxCommits     = 5
	MaxSessions    = 50

	displayNameBudget = 20
	sessionSuffixLen  = 4
)

type EventKind string

const (
	KindUserMessage      EventKind = "user_message"
	KindAssistantMessage EventKind = "assistant_message"
	KindToolInvocation   EventKind = "tool_invocation"
	KindToolResult       EventKind = "tool_result"
)

func (k EventKind) IsMessage() bool {
	return k == KindUserMessage || k == KindAssistantMessage
}

func (k EventKind) IsTool() bool {
	return k == KindToolInvocation || k == KindToolResult
}

type Status string

const (
	StatusWorking   Status = "working"
	StatusActive    Status = "active"
	StatusIdle      Status = "idle"
	StatusCompleted Status = "completed"
	// StatusError is part of the wire vocabulary; classification never yields it.
	StatusError     Status = "error"
)

type FileAction string

const (
	ActionRead   FileAction = "read"
	ActionEdit   FileAction = "edit"
	ActionCreate FileAction = "create"
	ActionDelete FileAction = "delete"
)

// Payload is the nested message of a log line. Content is kept raw and only
// inspected through the accessors in parser.go.
type Payload struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type RawEvent struct {
	Kind             EventKind
	Timestamp        time.Time
	RawTimestamp     string
	WorkingDirectory string
	BranchName       string
	Message          *Payload
}

type FileChangeEvent struct {
	Path      string     `json:"path"`
	Action    FileAction `json:"action"`
	Timestamp string     `json:"timestamp"`
}

type CommitEvent struct {
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Author    string `json:"author"`
}

type SessionRecord struct {
	ID                string            `json:"id"`
	DisplayName       string            `json:"name"`
	Status            Status            `json:"status"`
	WorkingDirectory  string            `json:"workingDirectory"`
	BranchName        string            `json:"gitBranch,omitempty"`
	StartTime         time.Time         `json:"startTime"`
	LastActivity      time.Time         `json:"lastActivity"`
	MessageCount      int               `json:"messageCount"`
	ToolCount         int               `json:"toolUseCount"`
	RecentFileChanges []FileChangeEvent `json:"modifiedFiles"`
	RecentCommits     []CommitEvent     `json:"recentCommits"`
	SourcePath        string            `json:"filePath"`
}

// Snapshot is immutable once built. Sessions are ordered by LastActivity,
// newest first, and never exceed MaxSessions.
type Snapshot struct {
	Sessions  []SessionRecord
	ScannedAt time.Time
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Sessions)
}

type FileMeta struct {
	Path       string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

type Clock func() time.Time
