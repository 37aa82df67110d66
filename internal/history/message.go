package history

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message. Title ties it to its conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// FormatTimestamp renders the hour and minute on a 12-hour clock, e.g. "3:04 PM".
func FormatTimestamp(t time.Time) string {
	return t.Format("3:04 PM")
}
