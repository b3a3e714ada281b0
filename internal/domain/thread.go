package domain

import (
	"time"

	"github.com/google/uuid"
)

// titleMaxLen is the number of leading characters of the first message
// used as the thread title.
const titleMaxLen = 25

// Thread is one independent conversation: metadata plus an ordered,
// append-only list of messages.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// NewThread creates an empty thread with a generated ID.
func NewThread() *Thread {
	return &Thread{
		ID:        uuid.NewString(),
		Title:     "New chat",
		CreatedAt: time.Now().UTC(),
		Messages:  []Message{},
	}
}

// Append adds a message to the end of the thread.
func (t *Thread) Append(msg Message) {
	t.Messages = append(t.Messages, msg)
}

// TitleFrom derives a thread title from the first message text: the first
// 25 characters, with an ellipsis marker when truncated. Rune-safe.
func TitleFrom(text string) string {
	runes := []rune(text)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen]) + "..."
	}
	return text
}

// Snapshot is the full persisted session state: every thread plus the id
// of the active one.
type Snapshot struct {
	Threads        []*Thread `json:"threads"`
	ActiveThreadID string    `json:"activeThreadId"`
}
