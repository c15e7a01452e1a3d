package chat

import (
	"encoding/json"
	"strings"
)

// Message is one turn in a conversation. Content carries the plain text;
// Parts carries structured multimodal content when the caller sent an array
// (OpenAI content-part form). Parts takes precedence when non-empty.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	Name       string        `json:"name,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
}

// ContentPart is a structured content fragment.
type ContentPart struct {
	Type     string `json:"type"` // "text", "image_url", "audio"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// ToolCall is a model-requested tool invocation with parsed arguments.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a callable tool in OpenAI function-schema style.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// wireMessage matches the OpenAI request shape where content is either a
// string or an array of typed parts.
type wireMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type wirePart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
	AudioURL struct {
		URL string `json:"url"`
	} `json:"audio_url,omitempty"`
}

// UnmarshalJSON accepts both content forms.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	m.Role = w.Role
	m.Name = w.Name
	m.ToolCallID = w.ToolCallID
	m.Content = ""
	m.Parts = nil

	if len(w.Content) == 0 || string(w.Content) == "null" {
		return nil
	}

	// String form first.
	var text string
	if err := json.Unmarshal(w.Content, &text); err == nil {
		m.Content = text
		return nil
	}

	// Array-of-parts form.
	var parts []wirePart
	if err := json.Unmarshal(w.Content, &parts); err != nil {
		return err
	}
	var texts []string
	for _, p := range parts {
		part := ContentPart{Type: p.Type, Text: p.Text}
		part.ImageURL = p.ImageURL.URL
		part.AudioURL = p.AudioURL.URL
		m.Parts = append(m.Parts, part)
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	m.Content = strings.Join(texts, "\n")
	return nil
}

// Text returns the message's plain text content.
func (m *Message) Text() string {
	return m.Content
}

// HasImage reports whether any content part is an image reference.
func (m *Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == "image_url" {
			return true
		}
	}
	return false
}

// HasAudio reports whether any content part is an audio reference.
func (m *Message) HasAudio() bool {
	for _, p := range m.Parts {
		if p.Type == "audio" || p.AudioURL != "" {
			return true
		}
	}
	return false
}

// System builds a system-role message.
func System(text string) Message {
	return Message{Role: "system", Content: text}
}

// User builds a user-role message.
func User(text string) Message {
	return Message{Role: "user", Content: text}
}

// Assistant builds an assistant-role message.
func Assistant(text string) Message {
	return Message{Role: "assistant", Content: text}
}

// ToolResult builds a tool-role message carrying an execution result.
func ToolResult(callID, name, content string) Message {
	return Message{Role: "tool", ToolCallID: callID, Name: name, Content: content}
}

// LastUserText returns the text of the last user message, or "".
func LastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Text()
		}
	}
	return ""
}

// JoinedText concatenates all message text for content-heuristic scans.
func JoinedText(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if t := m.Text(); t != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(t)
		}
	}
	return b.String()
}

// AnyImage reports whether any message carries an image part.
func AnyImage(messages []Message) bool {
	for _, m := range messages {
		if m.HasImage() {
			return true
		}
	}
	return false
}

// AnyAudio reports whether any message carries an audio part.
func AnyAudio(messages []Message) bool {
	for _, m := range messages {
		if m.HasAudio() {
			return true
		}
	}
	return false
}
