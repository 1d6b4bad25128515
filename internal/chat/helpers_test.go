package chat

import (
	"fmt"
	"sync"
)

// recordingRenderer keeps every renderer call as a short string.
type recordingRenderer struct {
	mu     sync.Mutex
	calls  []string
	states []ConnState
	meta   MetadataView
}

func (r *recordingRenderer) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recordingRenderer) UserMessage(ex Exchange) { r.add("user %d %s", ex.ID, ex.UserText) }
func (r *recordingRenderer) Thinking(ex Exchange)    { r.add("thinking %d", ex.ID) }
func (r *recordingRenderer) AssistantMessage(ex Exchange, p Placement) {
	r.add("assistant %d %s %s", ex.ID, p, ex.AssistantText)
}
func (r *recordingRenderer) Suggestions(items []string) { r.add("suggestions %d", len(items)) }
func (r *recordingRenderer) Metadata(view MetadataView) {
	r.mu.Lock()
	r.meta = view
	r.mu.Unlock()
	r.add("metadata %s|%s", view.QueryTime, view.ToolsUsed)
}
func (r *recordingRenderer) ConnectionState(state ConnState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recordingRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingRenderer) States() []ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnState(nil), r.states...)
}
