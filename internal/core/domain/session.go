package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// SessionID uniquely identifies a chat session
type SessionID string

// MessageID uniquely identifies a message within a session
type MessageID string

// MessageRole defines who authored a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Session is a multi-turn chat container a run executes in
type Session struct {
	ID        SessionID `json:"id"`
	UserID    UserID    `json:"user_id"`
	AgentID   AgentID   `json:"agent_id"`
	TaskID    TaskID    `json:"task_id,omitempty"` // set when the session was created for a scheduled run
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single turn in a session. RunID tags the user turn inserted
// for a scheduled run; it is the idempotence key against duplicate submission.
type Message struct {
	ID        MessageID   `json:"id"`
	SessionID SessionID   `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	RunID     RunID       `json:"run_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
)

// NewSessionID generates a compact random session ID (sess-<12 hex>)
func NewSessionID() SessionID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return SessionID("sess-" + hex.EncodeToString(b))
}

// NewMessageID generates a compact random message ID (msg-<12 hex>)
func NewMessageID() MessageID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return MessageID("msg-" + hex.EncodeToString(b))
}
