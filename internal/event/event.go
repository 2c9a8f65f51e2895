// Package event defines the validated vocabulary of the agent's stream-json
// output: the four recognized top-level event types and the typed content
// items nested inside assistant/user messages.
//
// Everything downstream of the extractor speaks in these types. An object
// that does not decode into a recognized shape never leaves the extractor.
package event

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type is the top-level tag of a stream event.
type Type string

const (
	TypeAssistant Type = "assistant"
	TypeUser      Type = "user"
	TypeSystem    Type = "system"
	TypeResult    Type = "result"
)

// Content item kinds within assistant/user messages.
const (
	KindText       = "text"
	KindToolUse    = "tool_use"
	KindToolResult = "tool_result"
)

// Content is one typed item of a message's content list.
// Which fields are populated depends on Kind.
type Content struct {
	Kind      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`   // tool_use: invocation id
	Name      string         `json:"name,omitempty"` // tool_use: tool name
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"` // tool_result: back-reference
	Content   any            `json:"content,omitempty"`     // tool_result: string or block list
	IsError   bool           `json:"is_error,omitempty"`
}

// Message nests the content list of assistant/user events.
type Message struct {
	Role    string    `json:"role,omitempty"`
	Model   string    `json:"model,omitempty"`
	Content []Content `json:"content,omitempty"`
}

// UnmarshalJSON accepts content as either a block list or a bare string
// (some producers collapse single-text messages).
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string              `json:"role"`
		Model   string              `json:"model"`
		Content jsoniter.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Model = raw.Model
	m.Content = nil

	trimmed := strings.TrimSpace(string(raw.Content))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw.Content, &s); err != nil {
			return err
		}
		m.Content = []Content{{Kind: KindText, Text: s}}
		return nil
	}
	var items []Content
	if err := json.Unmarshal(raw.Content, &items); err != nil {
		return err
	}
	m.Content = items
	return nil
}

// Validated is one decoded, shape-checked event from the stream.
type Validated struct {
	Type      Type     `json:"type"`
	Subtype   string   `json:"subtype,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Message   *Message `json:"message,omitempty"`

	// Result events only.
	IsError      bool    `json:"is_error,omitempty"`
	Result       string  `json:"result,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

// Decode parses raw into a Validated event. The second return is false when
// the bytes are not a JSON object or its type tag is not one of the four
// recognized tags — the stream is assumed noisy, so this is not an error.
func Decode(raw []byte) (Validated, bool) {
	var ev Validated
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Validated{}, false
	}
	switch ev.Type {
	case TypeAssistant, TypeUser, TypeSystem, TypeResult:
		return ev, true
	default:
		return Validated{}, false
	}
}

// FirstToolUse returns the first tool_use content item, or nil.
func (v *Validated) FirstToolUse() *Content {
	if v.Message == nil {
		return nil
	}
	for i := range v.Message.Content {
		if v.Message.Content[i].Kind == KindToolUse {
			return &v.Message.Content[i]
		}
	}
	return nil
}

// FirstToolResult returns the first tool_result content item, or nil.
func (v *Validated) FirstToolResult() *Content {
	if v.Message == nil {
		return nil
	}
	for i := range v.Message.Content {
		if v.Message.Content[i].Kind == KindToolResult {
			return &v.Message.Content[i]
		}
	}
	return nil
}

// Text joins the event's text content items.
func (v *Validated) Text() string {
	if v.Message == nil {
		return ""
	}
	var parts []string
	for _, c := range v.Message.Content {
		if c.Kind == KindText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// TextOf flattens a tool_result content payload to plain text. The payload
// may be a bare string or a list of typed blocks; anything else renders
// as its JSON form, best effort.
func TextOf(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var parts []string
		for _, item := range c {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := block["text"].(string); ok && t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	default:
		data, err := json.Marshal(content)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
