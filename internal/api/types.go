package api

// StartRequest begins a new conversation.
type StartRequest struct {
	Query      string `json:"query"`
	Language   string `json:"language,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// ContinueRequest sends a follow-up message within an existing session.
type ContinueRequest struct {
	Message    string `json:"message"`
	Language   string `json:"language,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Answer is the generated response body.
type Answer struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// Source is a provenance reference backing an answer.
type Source struct {
	Title   string  `json:"title"`
	URL     string  `json:"url,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// ConversationResult is the terminal payload of both start and continue calls.
type ConversationResult struct {
	SessionID string   `json:"session_id"`
	Response  Answer   `json:"response"`
	Sources   []Source `json:"sources,omitempty"`
}

// Push message types delivered over the session channel.
const (
	MessageConnected      = "connected"
	MessageStatus         = "status"
	MessageSessionExpired = "session_expired"
	MessageActivityAck    = "activity_ack"
	MessageError          = "error"

	// Outbound from client to server.
	MessageActivity = "activity"
)

// PushMessage is a framed JSON message on the session channel.
type PushMessage struct {
	Type         string `json:"type"`
	RemainingMS  int64  `json:"remaining_ms,omitempty"`
	LastActivity int64  `json:"last_activity,omitempty"` // unix milliseconds
	Message      string `json:"message,omitempty"`
}
