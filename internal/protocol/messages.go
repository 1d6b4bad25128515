// Package protocol defines the /ws/chat frame protocol shared by the client and the server.
package protocol

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// Message types from client to server
const (
	TypeUserMessage = "user_message"
)

// Message types from server to client
const (
	TypeThinking         = "thinking"
	TypeAssistantMessage = "assistant_message"
	TypeSuggestions      = "suggestions"
)

// Recognized metadata keys.
const (
	MetaQueryTime = "query_time"
	MetaToolsUsed = "tools_used"
)

// ChatPath is the fixed path of the realtime endpoint.
const ChatPath = "/ws/chat"

// BaseMessage contains the tag every frame carries.
type BaseMessage struct {
	Type string `json:"type"`
}

// UserMessage is sent by the client for every accepted submission.
type UserMessage struct {
	BaseMessage
	Content string `json:"content"`
	ID      int    `json:"id"`
}

// NewUserMessage builds the outbound frame for a submission.
func NewUserMessage(id int, content string) UserMessage {
	return UserMessage{
		BaseMessage: BaseMessage{Type: TypeUserMessage},
		Content:     content,
		ID:          id,
	}
}

// ThinkingMessage announces that the server started working on an id.
type ThinkingMessage struct {
	BaseMessage
	ID int `json:"id"`
}

// AssistantMessage carries the answer for an id.
type AssistantMessage struct {
	BaseMessage
	ID       int      `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// SuggestionsMessage replaces the client's suggestion set.
type SuggestionsMessage struct {
	BaseMessage
	Suggestions []string `json:"suggestions"`
	ID          *int     `json:"id,omitempty"`
}

// Metadata is the opaque key/value bag attached to assistant messages.
// Keys the client does not know about are kept untouched.
type Metadata map[string]json.RawMessage

// NewMetadata builds metadata with both recognized keys set.
func NewMetadata(queryTime float64, toolsUsed []string) Metadata {
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	qt, _ := json.Marshal(queryTime)
	tu, _ := json.Marshal(toolsUsed)
	return Metadata{
		MetaQueryTime: qt,
		MetaToolsUsed: tu,
	}
}

// QueryTime returns query_time in seconds. ok is false when the key is
// absent, null, or not a number.
func (m Metadata) QueryTime() (seconds float64, ok bool) {
	raw, present := m[MetaQueryTime]
	if !present || isNull(raw) {
		return 0, false
	}
	if err := json.Unmarshal(raw, &seconds); err != nil {
		// tolerate numbers sent as strings
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return seconds, true
}

// ToolsUsed returns tools_used. ok is false when the key is absent, null or
// malformed; an explicit empty list returns ok with a zero-length slice.
func (m Metadata) ToolsUsed() (tools []string, ok bool) {
	raw, present := m[MetaToolsUsed]
	if !present || isNull(raw) {
		return nil, false
	}
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, false
	}
	if tools == nil {
		tools = []string{}
	}
	return tools, true
}

// ParseMetadata decodes a raw metadata value. Absent or null metadata yields
// nil; anything other than a JSON object is an error.
func ParseMetadata(raw json.RawMessage) (Metadata, error) {
	if isNull(raw) {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "decode metadata")
	}
	return m, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// RawMessage is used for parsing incoming frames before type dispatch.
type RawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// Decode reads the type tag and keeps the payload for typed decoding.
func Decode(data []byte) (*RawMessage, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	return &RawMessage{Type: base.Type, Data: data}, nil
}
