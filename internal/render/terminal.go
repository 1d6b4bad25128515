// Package render draws a chat session in a terminal.
package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/xiaot623/fedchat/internal/chat"
	"github.com/xiaot623/fedchat/internal/protocol"
)

// Options configures a Terminal.
type Options struct {
	// Markdown renders assistant answers through glamour.
	Markdown bool
	// Width is the word wrap width for markdown. Zero means 80.
	Width int
}

type styles struct {
	user       lipgloss.Style
	assistant  lipgloss.Style
	failed     lipgloss.Style
	thinking   lipgloss.Style
	muted      lipgloss.Style
	link       lipgloss.Style
	suggestion lipgloss.Style
	online     lipgloss.Style
	offline    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		user:       r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		assistant:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		failed:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		thinking:   r.NewStyle().Italic(true).Foreground(lipgloss.Color("244")),
		muted:      r.NewStyle().Foreground(lipgloss.Color("244")),
		link:       r.NewStyle().Underline(true).Foreground(lipgloss.Color("33")),
		suggestion: r.NewStyle().Foreground(lipgloss.Color("214")),
		online:     r.NewStyle().Foreground(lipgloss.Color("42")),
		offline:    r.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Terminal writes session output as styled lines. It implements
// chat.Renderer.
type Terminal struct {
	mu       sync.Mutex
	out      io.Writer
	styles   styles
	markdown *glamour.TermRenderer

	lastState chat.ConnState
	seenState bool

	now func() time.Time
}

var _ chat.Renderer = (*Terminal)(nil)

// NewTerminal returns a renderer writing to out. When glamour cannot be set
// up, answers are printed as plain text.
func NewTerminal(out io.Writer, opts Options) *Terminal {
	t := &Terminal{
		out:    out,
		styles: newStyles(lipgloss.NewRenderer(out)),
		now:    time.Now,
	}
	if opts.Markdown {
		width := opts.Width
		if width <= 0 {
			width = 80
		}
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			t.markdown = md
		}
	}
	return t
}

func (t *Terminal) UserMessage(ex chat.Exchange) {
	t.printf("%s %s\n", t.styles.user.Render("you ›"), ex.UserText)
}

func (t *Terminal) Thinking(ex chat.Exchange) {
	t.printf("%s\n", t.styles.thinking.Render(fmt.Sprintf("thinking… (#%d)", ex.ID)))
}

func (t *Terminal) AssistantMessage(ex chat.Exchange, placement chat.Placement) {
	label := t.styles.assistant.Render("assistant ›")
	switch {
	case ex.Failed:
		label = t.styles.failed.Render("assistant ✗")
	case placement == chat.PlacementUpdate:
		label = t.styles.assistant.Render("assistant (updated) ›")
	}
	t.printf("%s\n%s\n", label, t.answer(ex.AssistantText))
}

func (t *Terminal) Suggestions(items []string) {
	if len(items) == 0 {
		return
	}
	var b strings.Builder
	b.WriteString(t.styles.muted.Render("You might also want to ask:"))
	b.WriteByte('\n')
	for i, item := range items {
		fmt.Fprintf(&b, "  %s %s\n", t.styles.suggestion.Render(fmt.Sprintf("/%d", i+1)), item)
	}
	t.printf("%s", b.String())
}

func (t *Terminal) Metadata(view chat.MetadataView) {
	parts := make([]string, 0, 2)
	if view.QueryTime != "" {
		parts = append(parts, "query time: "+view.QueryTime)
	}
	if view.ToolsUsed != "" {
		parts = append(parts, "tools: "+view.ToolsUsed)
	}
	if len(parts) == 0 {
		return
	}
	t.printf("%s\n", t.styles.muted.Render(strings.Join(parts, " · ")))
}

// ConnectionState prints only actual changes.
func (t *Terminal) ConnectionState(state chat.ConnState) {
	t.mu.Lock()
	if t.seenState && t.lastState == state {
		t.mu.Unlock()
		return
	}
	t.seenState = true
	t.lastState = state
	t.mu.Unlock()

	var line string
	switch state {
	case chat.StateOpen:
		line = t.styles.online.Render("● connected")
	case chat.StateConnecting:
		line = t.styles.muted.Render("○ connecting…")
	default:
		line = t.styles.offline.Render("○ disconnected, retrying")
	}
	t.printf("%s\n", line)
}

// Stats prints the database summary shown when the client starts.
func (t *Terminal) Stats(stats *protocol.Stats) {
	if stats == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s documents", humanize.Comma(int64(stats.TotalDocuments)))
	if stats.DateRange.Min != nil && stats.DateRange.Max != nil {
		fmt.Fprintf(&b, " · %s to %s", *stats.DateRange.Min, *stats.DateRange.Max)
	}
	b.WriteByte('\n')

	labels := make([]string, 0, len(stats.DocumentTypes))
	for label := range stats.DocumentTypes {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		ci, cj := stats.DocumentTypes[labels[i]], stats.DocumentTypes[labels[j]]
		if ci != cj {
			return ci > cj
		}
		return labels[i] < labels[j]
	})
	for _, label := range labels {
		fmt.Fprintf(&b, "  %s: %s\n", protocol.FormatDocumentType(label), humanize.Comma(int64(stats.DocumentTypes[label])))
	}
	t.printf("%s", t.styles.muted.Render(strings.TrimRight(b.String(), "\n"))+"\n")
	t.printf("%s\n", t.freshness(stats.LastUpdate))
}

// freshness tells how many whole days ago the database was last updated.
func (t *Terminal) freshness(lastUpdate *string) string {
	if lastUpdate == nil {
		return t.styles.offline.Render("● No data")
	}
	updated, ok := parseUpdateTime(*lastUpdate)
	if !ok {
		return t.styles.muted.Render("● Updated " + *lastUpdate)
	}
	days := int64(t.now().Sub(updated) / (24 * time.Hour))
	switch {
	case days <= 0:
		return t.styles.online.Render("● Updated Today")
	case days == 1:
		return t.styles.suggestion.Render("● Updated Yesterday")
	default:
		return t.styles.offline.Render(fmt.Sprintf("● Updated %s days ago", humanize.Comma(days)))
	}
}

func parseUpdateTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Info prints a muted line of client chatter.
func (t *Terminal) Info(format string, args ...interface{}) {
	t.printf("%s\n", t.styles.muted.Render(fmt.Sprintf(format, args...)))
}

func (t *Terminal) answer(content string) string {
	if t.markdown != nil {
		linked := chat.LinkDocuments(content, func(mention, number string) string {
			return mention + " (`doc:" + number + "`)"
		})
		rendered, err := t.markdown.Render(linked)
		if err == nil {
			return strings.TrimRight(rendered, "\n")
		}
	}
	return chat.LinkDocuments(content, func(mention, number string) string {
		return mention + " " + t.styles.link.Render("[doc:"+number+"]")
	})
}

func (t *Terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}
