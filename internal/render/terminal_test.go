package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/fedchat/internal/chat"
	"github.com/xiaot623/fedchat/internal/protocol"
)

func TestTerminalExchange(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, Options{})

	ex := chat.Exchange{ID: 2, UserText: "what is document number 2024-01234?"}
	term.UserMessage(ex)
	term.Thinking(ex)
	ex.AssistantText = "It is document number 2024-01234."
	term.AssistantMessage(ex, chat.PlacementReplace)

	out := buf.String()
	assert.Contains(t, out, "you › what is document number 2024-01234?")
	assert.Contains(t, out, "thinking… (#2)")
	assert.Contains(t, out, "assistant ›")
	assert.Contains(t, out, "document number 2024-01234 [doc:2024-01234]")
}

func TestTerminalUpdatedAndFailedAnswers(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, Options{})

	term.AssistantMessage(chat.Exchange{ID: 1, AssistantText: "second take"}, chat.PlacementUpdate)
	term.AssistantMessage(chat.Exchange{ID: 3, AssistantText: chat.ExpiredText, Failed: true}, chat.PlacementReplace)

	out := buf.String()
	assert.Contains(t, out, "assistant (updated) ›")
	assert.Contains(t, out, "assistant ✗")
	assert.Contains(t, out, chat.ExpiredText)
}

func TestTerminalSuggestionsAndMetadata(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, Options{})

	term.Suggestions(nil)
	assert.Empty(t, buf.String())

	term.Suggestions([]string{"Recent rules", "Executive orders"})
	term.Metadata(chat.MetadataView{QueryTime: "0.42s", ToolsUsed: "Database Search"})
	term.Metadata(chat.MetadataView{})

	out := buf.String()
	assert.Contains(t, out, "/1 Recent rules")
	assert.Contains(t, out, "/2 Executive orders")
	assert.Contains(t, out, "query time: 0.42s · tools: Database Search")
	assert.Equal(t, 1, strings.Count(out, "query time"))
}

func TestTerminalConnectionStateChangesOnly(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, Options{})

	term.ConnectionState(chat.StateConnecting)
	term.ConnectionState(chat.StateOpen)
	term.ConnectionState(chat.StateOpen)
	term.ConnectionState(chat.StateClosed)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "connected\n"))
	assert.Contains(t, out, "connecting…")
	assert.Contains(t, out, "disconnected, retrying")
}

func TestTerminalStats(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, Options{})

	min, max := "2024-01-02", "2024-03-04"
	term.Stats(&protocol.Stats{
		TotalDocuments: 12345,
		DateRange:      protocol.DateRange{Min: &min, Max: &max},
		DocumentTypes:  map[string]int{"rule": 30, "executive_order": 1200, "": 3},
	})

	out := buf.String()
	assert.Contains(t, out, "12,345 documents · 2024-01-02 to 2024-03-04")
	assert.Contains(t, out, "Executive Order: 1,200")
	assert.Contains(t, out, "Unspecified: 3")
	assert.Less(t, strings.Index(out, "Executive Order"), strings.Index(out, "Rule:"))
	assert.Contains(t, out, "No data")
}

func TestTerminalStatsFreshness(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"2024-03-15T09:30:00Z":   "Updated Today",
		"2024-03-14T09:30:00Z":   "Updated Yesterday",
		"2024-03-05T18:00:00Z":   "Updated 10 days ago",
		"2020-03-15T18:00:00Z":   "Updated 1,461 days ago",
		"2024-03-15":             "Updated Today",
		"not a timestamp at all": "Updated not a timestamp at all",
	}
	for lastUpdate, want := range cases {
		var buf bytes.Buffer
		term := NewTerminal(&buf, Options{})
		term.now = func() time.Time { return now }

		lastUpdate := lastUpdate
		term.Stats(&protocol.Stats{TotalDocuments: 1, LastUpdate: &lastUpdate})
		assert.Contains(t, buf.String(), want, lastUpdate)
	}
}
