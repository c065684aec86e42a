package models

// Role identifies who authored a transcript message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// ChatMessage is one entry of a desk's chat transcript. Pending marks the
// "thinking" placeholder of the turn identified by TurnID.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	TurnID  string `json:"turn_id,omitempty"`
	Pending bool   `json:"pending,omitempty"`
}
