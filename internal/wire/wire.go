// Package wire defines the JSON documents snapshots travel in.
package wire

import (
	"encoding/json"
	"fmt"

	"hexwatch/internal/index"
)

type MessageType string

const (
	// TypeInit carries a complete snapshot that replaces whatever the client holds.
	TypeInit   MessageType = "init"
	// TypeUpdate is reserved for partial updates; nothing sends it yet.
	TypeUpdate MessageType = "update"
	TypeError  MessageType = "error"
)

type UpdateType string

const (
	UpdateSession UpdateType = "session_update"
	UpdateAdd     UpdateType = "session_add"
	UpdateRemove  UpdateType = "session_remove"
	UpdateFile    UpdateType = "file_change"
	UpdateCommit  UpdateType = "commit"
)

type SessionUpdate struct {
	Type      UpdateType      `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type Message struct {
	Type     MessageType           `json:"type"`
	Sessions []index.SessionRecord `json:"sessions,omitempty"`
	Update   *SessionUpdate        `json:"update,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func Init(snap *index.Snapshot) Message {
	sessions := []index.SessionRecord{}
	if snap != nil && snap.Sessions != nil {
		sessions = snap.Sessions
	}
	return Message{Type: TypeInit, Sessions: sessions}
}

func Error(msg string) Message {
	return Message{Type: TypeError, Error: msg}
}

// MarshalInit encodes snap as a full-replacement document. An empty snapshot
// still carries "sessions": [] so clients can clear their view.
func MarshalInit(snap *index.Snapshot) ([]byte, error) {
	msg := Init(snap)
	type initDoc struct {
		Type     MessageType           `json:"type"`
		Sessions []index.SessionRecord `json:"sessions"`
	}
	b, err := json.Marshal(initDoc{Type: msg.Type, Sessions: msg.Sessions})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	switch msg.Type {
	case TypeInit, TypeUpdate, TypeError:
		return msg, nil
	}
	return Message{}, fmt.Errorf("decode message: unknown type %q", msg.Type)
}
