// Package sessionlog implements the Session Log Reader: it
// parses append-only NDJSON conversation logs, derives session
// summaries, slices messages for the UI, and deletes sessions by
// rewriting logs with matching lines removed.
//
// Each line decodes type-first, with the raw JSON preserved alongside
// the typed view so content parts of an unmodeled type pass through
// unchanged.
package sessionlog

import "encoding/json"

// PartType tags one element of a message's content array.
type PartType string

const (
	PartText       PartType = "text"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
	PartOther      PartType = "other"
)

// Part is one content element. Only the fields for its Type are
// populated; Raw always holds the original JSON. On output, Other parts
// emit Raw verbatim, while text/tool_use/tool_result parts re-serialize
// only their modeled fields, so any extra fields on them are dropped.
type Part struct {
	Type PartType        `json:"type"`
	Raw  json.RawMessage `json:"-"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// PartToolResult
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// MarshalJSON re-serializes the part. Other parts emit their Raw form
// verbatim so unknown shapes pass through unchanged.
func (p Part) MarshalJSON() ([]byte, error) {
	if p.Type == PartOther && len(p.Raw) > 0 {
		return p.Raw, nil
	}
	type alias Part
	return json.Marshal(alias(p))
}

// parsePart decodes one element of a content array into the tagged sum.
func parsePart(raw json.RawMessage) Part {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Part{Type: PartOther, Raw: raw}
	}
	switch head.Type {
	case "text":
		var t struct {
			Text string `json:"text"`
		}
		json.Unmarshal(raw, &t)
		return Part{Type: PartText, Raw: raw, Text: t.Text}
	case "tool_use":
		var u struct {
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}
		json.Unmarshal(raw, &u)
		return Part{Type: PartToolUse, Raw: raw, ID: u.ID, Name: u.Name, Input: u.Input}
	case "tool_result":
		var r struct {
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content"`
			IsError   bool            `json:"is_error"`
		}
		json.Unmarshal(raw, &r)
		return Part{Type: PartToolResult, Raw: raw, ToolUseID: r.ToolUseID, Content: r.Content, IsError: r.IsError}
	default:
		return Part{Type: PartOther, Raw: raw}
	}
}

// Content is a message body: either a plain string or an array of
// typed Parts. Exactly one of Text/Parts is meaningful, selected by
// IsParts.
type Content struct {
	IsParts bool
	Text    string
	Parts   []Part
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.IsParts = false
		c.Text = s
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	c.IsParts = true
	c.Parts = make([]Part, 0, len(raws))
	for _, r := range raws {
		c.Parts = append(c.Parts, parsePart(r))
	}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if !c.IsParts {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// FlatText concatenates all text parts (or the plain string) for
// summary extraction.
func (c Content) FlatText() string {
	if !c.IsParts {
		return c.Text
	}
	out := ""
	for _, p := range c.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// innerMessage is the nested "message" object on a log line.
type innerMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// logLine is one parsed NDJSON line from a session file.
type logLine struct {
	raw json.RawMessage

	SessionID string        `json:"sessionId"`
	Type      string        `json:"type"`
	Timestamp string        `json:"timestamp"`
	Cwd       string        `json:"cwd"`
	Summary   string        `json:"summary"`
	Message   *innerMessage `json:"message"`
}

// Message is a reader-facing chronological message.
type Message struct {
	Role      string    `json:"role"`
	Content   Content   `json:"content"`
	Timestamp string    `json:"timestamp"`
}

// Summary is the derived per-session view.
type Summary struct {
	ID           string `json:"id"`
	Summary      string `json:"summary"`
	LastActivity string `json:"lastActivity"`
	MessageCount int    `json:"messageCount"`
	Cwd          string `json:"cwd"`
}
