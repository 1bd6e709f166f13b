package models

import "encoding/json"

// ChatMessage represents a single chat message in a completion request.
// Content must arrive as a JSON string; null or a missing field sets
// ContentMissing so the admission pipeline can reject the message rather
// than treating it as empty content.
type ChatMessage struct {
	Role           string `json:"role"`
	Content        string `json:"content"`
	ContentMissing bool   `json:"-"`
}

// UnmarshalJSON distinguishes a null or absent content field from an
// empty string, which is a valid message body.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Role = wire.Role
	if wire.Content == nil {
		m.Content = ""
		m.ContentMissing = true
		return nil
	}
	m.Content = *wire.Content
	m.ContentMissing = false
	return nil
}

// RequestMetadata carries caller-supplied attestations about the request
// content. The gateway trusts these claims; it never verifies or scrubs.
type RequestMetadata struct {
	Scrubbed        bool   `json:"scrubbed"`
	Scrubber        string `json:"scrubber,omitempty"`
	ScrubberVersion string `json:"scrubber_version,omitempty"`
}

// Usage represents token usage reported by the provider router
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AllowedRoles is the set of message roles the gateway accepts
var AllowedRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// RoleAllowed reports whether role is in the allowed role set
func RoleAllowed(role string) bool {
	return AllowedRoles[role]
}

// RoleList returns the allowed roles in a stable order for error details
func RoleList() []string {
	return []string{"system", "user", "assistant"}
}
