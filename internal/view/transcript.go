package view

import (
	"strings"
	"sync"

	"librarydesk/internal/models"
)

// Transcript is the chat history of one desk. It only grows, except that a
// pending placeholder is removed, by turn id, right before its reply is added.
type Transcript struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	version  uint64
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Append(role models.Role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, models.ChatMessage{Role: role, Content: content})
	t.version++
}

// AppendPending adds the bot placeholder of turnID.
func (t *Transcript) AppendPending(turnID, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, models.ChatMessage{Role: models.RoleBot, Content: content, TurnID: turnID, Pending: true})
	t.version++
}

// Resolve removes the placeholder of turnID and appends the final bot
// message for that turn. It returns false, and changes nothing, when the turn
// has no pending placeholder.
func (t *Transcript) Resolve(turnID, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := -1
	for i, m := range t.messages {
		if m.Pending && m.TurnID == turnID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
	t.messages = append(t.messages, models.ChatMessage{Role: models.RoleBot, Content: content, TurnID: turnID})
	t.version++
	return true
}

// TranscriptView is a copy of the transcript. ScrollTo is the index the
// front end keeps in view, always the latest entry (-1 when empty).
type TranscriptView struct {
	Version  uint64               `json:"version"`
	Messages []models.ChatMessage `json:"messages"`
	ScrollTo int                  `json:"scroll_to"`
}

func (t *Transcript) Snapshot() TranscriptView {
	t.mu.Lock()
	defer t.mu.Unlock()
	messages := make([]models.ChatMessage, len(t.messages))
	copy(messages, t.messages)
	return TranscriptView{Version: t.version, Messages: messages, ScrollTo: len(messages) - 1}
}

// PendingCount returns the number of unresolved placeholders.
func (t *Transcript) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, m := range t.messages {
		if m.Pending {
			n++
		}
	}
	return n
}

// Lines splits a message body on line breaks so each line renders on its own.
func Lines(content string) []string {
	return strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
}
