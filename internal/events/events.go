// Package events parses the agent CLI's record-per-line JSON output into
// tagged events, isolating format-sensitivity from the loop's control logic.
package events

import (
	"encoding/json"
	"errors"
	"strings"
)

// Kind enumerates the event variants the loop cares about.
type Kind string

const (
	KindSystemInit Kind = "system_init"
	KindText       Kind = "text"
	KindThinking   Kind = "thinking"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindResult     Kind = "result"
	KindUnknown    Kind = "unknown"
)

// Usage holds token counts from a result event. Input tokens are split
// across cache fields by prompt caching, so InputTokens sums all of them.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Event is a single parsed record from the agent's output stream.
type Event struct {
	Kind       Kind            `json:"kind"`
	SessionID  string          `json:"session_id,omitempty"`
	Text       string          `json:"text,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	ResultText string          `json:"result,omitempty"`
	Subtype    string          `json:"subtype,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
}

// ErrNotJSON marks a line that is not a JSON record at all (progress noise,
// iteration headers). Callers usually skip these silently.
var ErrNotJSON = errors.New("line is not a JSON record")

type rawContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Content  any             `json:"content,omitempty"`
}

type rawMessage struct {
	Content []rawContentBlock `json:"content"`
	Usage   *rawUsage         `json:"usage,omitempty"`
}

type rawUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

type rawLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Result    string          `json:"result,omitempty"`
	Usage     *rawUsage       `json:"usage,omitempty"`
}

// ParseLine parses one output line into zero or more events. An assistant
// message carrying several content blocks yields one event per block.
// Returns ErrNotJSON for non-record lines and a wrapped error for records
// that are JSON but not in a recognizable shape.
func ParseLine(line string) ([]Event, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return nil, ErrNotJSON
	}

	var raw rawLine
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "system":
		if raw.Subtype == "init" {
			return []Event{{Kind: KindSystemInit, SessionID: raw.SessionID, Subtype: raw.Subtype}}, nil
		}
		return []Event{{Kind: KindUnknown, Subtype: raw.Subtype}}, nil

	case "assistant", "user":
		var msg rawMessage
		if err := json.Unmarshal(raw.Message, &msg); err != nil {
			return nil, err
		}
		return blockEvents(msg.Content, msg.Usage), nil

	case "result":
		event := Event{
			Kind:       KindResult,
			Subtype:    raw.Subtype,
			SessionID:  raw.SessionID,
			IsError:    raw.IsError,
			ResultText: raw.Result,
			Usage:      sumUsage(raw.Usage),
		}
		return []Event{event}, nil

	default:
		return []Event{{Kind: KindUnknown, Subtype: raw.Subtype}}, nil
	}
}

func blockEvents(blocks []rawContentBlock, usage *rawUsage) []Event {
	evts := make([]Event, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case "text":
			evts = append(evts, Event{Kind: KindText, Text: block.Text, Usage: sumUsage(usage)})
		case "thinking":
			evts = append(evts, Event{Kind: KindThinking, Text: block.Thinking})
		case "tool_use":
			evts = append(evts, Event{Kind: KindToolCall, ToolName: block.Name, ToolInput: block.Input})
		case "tool_result":
			evts = append(evts, Event{Kind: KindToolResult, Text: blockContentString(block.Content)})
		default:
			evts = append(evts, Event{Kind: KindUnknown, Subtype: block.Type})
		}
	}
	return evts
}

func blockContentString(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func sumUsage(raw *rawUsage) *Usage {
	if raw == nil {
		return nil
	}
	return &Usage{
		InputTokens:  raw.InputTokens + raw.CacheCreationInputTokens + raw.CacheReadInputTokens,
		OutputTokens: raw.OutputTokens,
	}
}
