package chat

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/xiaot623/fedchat/internal/protocol"
)

// Dispatched summarizes what a frame did.
type Dispatched struct {
	Type string
	ID   int
	// OK is false for malformed or unknown frames, which change nothing.
	OK bool
}

// Router decodes inbound frames and applies them to the store, the metadata
// display and the renderer. It keeps no state of its own.
type Router struct {
	store    *Store
	metadata *MetadataDisplay
	renderer Renderer
	logger   zerolog.Logger
}

// NewRouter creates a router over the given collaborators.
func NewRouter(store *Store, metadata *MetadataDisplay, renderer Renderer, logger zerolog.Logger) *Router {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	return &Router{
		store:    store,
		metadata: metadata,
		renderer: renderer,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// Dispatch handles one inbound frame. It never panics on bad input; unknown
// and malformed frames are logged and dropped.
func (r *Router) Dispatch(data []byte) Dispatched {
	raw, err := protocol.Decode(data)
	if err != nil {
		r.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
		return Dispatched{}
	}

	switch raw.Type {
	case protocol.TypeThinking:
		return r.handleThinking(raw.Data)
	case protocol.TypeAssistantMessage:
		return r.handleAssistantMessage(raw.Data)
	case protocol.TypeSuggestions:
		return r.handleSuggestions(raw.Data)
	default:
		r.logger.Info().Str("type", raw.Type).Msg("unknown message type")
		return Dispatched{Type: raw.Type}
	}
}

func (r *Router) handleThinking(data []byte) Dispatched {
	var msg protocol.ThinkingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Warn().Err(err).Msg("invalid thinking frame")
		return Dispatched{Type: protocol.TypeThinking}
	}

	ex, created := r.store.MarkThinking(msg.ID)
	if created {
		r.renderer.Thinking(ex)
	}
	return Dispatched{Type: protocol.TypeThinking, ID: msg.ID, OK: true}
}

// inboundAssistantMessage keeps metadata raw so a malformed bag never
// blocks the answer itself.
type inboundAssistantMessage struct {
	ID       int             `json:"id"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata"`
}

func (r *Router) handleAssistantMessage(data []byte) Dispatched {
	var msg inboundAssistantMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Warn().Err(err).Msg("invalid assistant_message frame")
		return Dispatched{Type: protocol.TypeAssistantMessage}
	}

	ex, placement := r.store.Resolve(msg.ID, msg.Content)
	r.renderer.AssistantMessage(ex, placement)

	meta, err := protocol.ParseMetadata(msg.Metadata)
	if err != nil {
		r.logger.Warn().Err(err).Int("id", msg.ID).Msg("ignoring malformed metadata")
		return Dispatched{Type: protocol.TypeAssistantMessage, ID: msg.ID, OK: true}
	}
	if r.metadata != nil && r.metadata.Apply(meta) {
		r.renderer.Metadata(r.metadata.View())
	}
	return Dispatched{Type: protocol.TypeAssistantMessage, ID: msg.ID, OK: true}
}

func (r *Router) handleSuggestions(data []byte) Dispatched {
	var msg protocol.SuggestionsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Warn().Err(err).Msg("invalid suggestions frame")
		return Dispatched{Type: protocol.TypeSuggestions}
	}

	r.store.SetSuggestions(msg.Suggestions)
	r.renderer.Suggestions(r.store.Suggestions())

	d := Dispatched{Type: protocol.TypeSuggestions, OK: true}
	if msg.ID != nil {
		d.ID = *msg.ID
	}
	return d
}
