package models

// Chat roles used when building the generation exchange.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fragment is one piece of a streamed generation. The final fragment has Done
// set; a fragment with Err set terminates the stream.
type Fragment struct {
	Content string
	Done    bool
	Err     error
}

// AskResponse is the JSON answer returned by the ask endpoint.
type AskResponse struct {
	Model  string `json:"model"`
	Answer string `json:"answer"`
	TimeMs int64  `json:"time_ms"`
	Cached bool   `json:"cached,omitempty"`
}
