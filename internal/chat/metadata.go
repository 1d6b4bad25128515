package chat

import (
	"fmt"
	"strings"

	"github.com/xiaot623/fedchat/internal/protocol"
)

// EmptyValue is shown for a metadata field that has no value yet.
const EmptyValue = "-"

var toolDisplayNames = map[string]string{
	"query_federal_register":  "Database Search",
	"get_database_statistics": "Statistics",
	"suggest_related_queries": "Query Suggestions",
}

// ToolDisplayName maps a tool name to its display label. Unknown names are
// returned unchanged.
func ToolDisplayName(name string) string {
	if label, ok := toolDisplayNames[name]; ok {
		return label
	}
	return name
}

// MetadataView is what the metadata panel shows.
type MetadataView struct {
	QueryTime string
	ToolsUsed string
}

// MetadataDisplay keeps the displayed values across assistant messages.
type MetadataDisplay struct {
	view MetadataView
}

// NewMetadataDisplay creates a display with nothing shown yet.
func NewMetadataDisplay() *MetadataDisplay {
	return &MetadataDisplay{}
}

// View returns the values currently displayed.
func (d *MetadataDisplay) View() MetadataView {
	return d.view
}

// Apply folds one metadata bag into the display and reports whether anything
// changed. Absent keys keep what is shown. An empty tools_used list is "no
// change" so the panel never flickers back to a placeholder.
func (d *MetadataDisplay) Apply(m protocol.Metadata) bool {
	if m == nil {
		return false
	}
	before := d.view

	if seconds, ok := m.QueryTime(); ok {
		if seconds == 0 {
			d.view.QueryTime = EmptyValue
		} else {
			d.view.QueryTime = fmt.Sprintf("%.2fs", seconds)
		}
	}

	tools, ok := m.ToolsUsed()
	switch {
	case !ok:
		if d.view.ToolsUsed == "" {
			d.view.ToolsUsed = EmptyValue
		}
	case len(tools) > 0:
		labels := make([]string, len(tools))
		for i, tool := range tools {
			labels[i] = ToolDisplayName(tool)
		}
		d.view.ToolsUsed = strings.Join(labels, ", ")
	}

	return d.view != before
}
