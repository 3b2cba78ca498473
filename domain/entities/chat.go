package entities

import (
	"sync"
	"time"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ChatEntry is a single line of the running transcript
type ChatEntry struct {
	Role       MessageRole `json:"role"`
	Text       string      `json:"text"`
	ReceivedAt time.Time   `json:"received_at"`
}

// ChatLog is the append-only transcript of the current process. It is written
// from the session listener and read by the debug API, so access is guarded.
type ChatLog struct {
	mu      sync.RWMutex
	entries []ChatEntry
}

// NewChatLog creates an empty transcript
func NewChatLog() *ChatLog {
	return &ChatLog{entries: make([]ChatEntry, 0)}
}

// Append adds an entry at the end of the log
func (l *ChatLog) Append(entry ChatEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the log in arrival order
func (l *ChatLog) Entries() []ChatEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ChatEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries
func (l *ChatLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
