package chat

// Renderer reflects store transitions in some output. Calls arrive from the
// session event loop, one at a time.
type Renderer interface {
	UserMessage(ex Exchange)
	Thinking(ex Exchange)
	AssistantMessage(ex Exchange, placement Placement)
	Suggestions(items []string)
	Metadata(view MetadataView)
	ConnectionState(state ConnState)
}

// NopRenderer discards everything.
type NopRenderer struct{}

func (NopRenderer) UserMessage(Exchange)                 {}
func (NopRenderer) Thinking(Exchange)                    {}
func (NopRenderer) AssistantMessage(Exchange, Placement) {}
func (NopRenderer) Suggestions([]string)                 {}
func (NopRenderer) Metadata(MetadataView)                {}
func (NopRenderer) ConnectionState(ConnState)            {}

var _ Renderer = NopRenderer{}
