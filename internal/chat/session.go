package chat

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xiaot623/fedchat/internal/protocol"
)

// ExpiredText is shown in place of an answer that never arrived.
const ExpiredText = "No response received. Please try again."

// ErrSessionStopped is returned when the session loop is no longer running.
var ErrSessionStopped = errors.New("chat session stopped")

// Options configures a Session.
type Options struct {
	// Endpoint is the full websocket URL, see EndpointFromOrigin.
	Endpoint         string
	Dialer           Dialer
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// PendingTimeout expires placeholders that wait longer than this.
	// Zero keeps them pending forever.
	PendingTimeout time.Duration
	Renderer       Renderer
	Logger         zerolog.Logger
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Exchanges   []Exchange
	Suggestions []string
	NextID      int
	Pending     int
	State       ConnState
	Metadata    MetadataView
}

type transport interface {
	Connect() bool
	Send(v interface{}) error
	State() ConnState
	Close() error
}

// Session ties transport, router and store together. All state changes run
// on the single goroutine started by Run, in arrival order.
type Session struct {
	transport transport
	store     *Store
	metadata  *MetadataDisplay
	router    *Router
	renderer  Renderer
	logger    zerolog.Logger

	nextID         int
	pendingTimeout time.Duration
	timers         map[int]*time.Timer

	events chan func()
	done   chan struct{}
}

// NewSession builds a session for opts.Endpoint. Nothing connects until Run.
func NewSession(opts Options) (*Session, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	s := newSession(opts)
	s.transport = NewTransport(TransportOptions{
		URL:              opts.Endpoint,
		Dialer:           opts.Dialer,
		ReconnectDelay:   opts.ReconnectDelay,
		HandshakeTimeout: opts.HandshakeTimeout,
		Logger:           opts.Logger,
		Callbacks: Callbacks{
			OnMessage: s.onMessage,
			OnState:   s.onState,
		},
	})
	return s, nil
}

func newSession(opts Options) *Session {
	renderer := opts.Renderer
	if renderer == nil {
		renderer = NopRenderer{}
	}
	store := NewStore()
	metadata := NewMetadataDisplay()
	return &Session{
		store:          store,
		metadata:       metadata,
		router:         NewRouter(store, metadata, renderer, opts.Logger),
		renderer:       renderer,
		logger:         opts.Logger.With().Str("component", "session").Logger(),
		pendingTimeout: opts.PendingTimeout,
		timers:         make(map[int]*time.Timer),
		events:         make(chan func(), 256),
		done:           make(chan struct{}),
	}
}

// Run connects and processes events until ctx is cancelled. The transport
// is closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		close(s.done)
		s.stopTimers()
		if err := s.transport.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("closing transport")
		}
	}()

	s.transport.Connect()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.events:
			fn()
		}
	}
}

// Submit sends text as a new user turn. Blank input is ignored and reported
// as not accepted. A frame that cannot be sent because the connection is
// down is dropped; the turn still stays in the conversation.
func (s *Session) Submit(ctx context.Context, text string) (bool, error) {
	var accepted bool
	err := s.do(ctx, func() {
		accepted = s.submit(text)
	})
	return accepted, err
}

func (s *Session) submit(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	id := s.nextID
	ex := s.store.AddUserTurn(id, text)
	s.renderer.UserMessage(ex)

	if err := s.transport.Send(protocol.NewUserMessage(id, text)); err != nil {
		s.logger.Warn().Err(err).Int("id", id).Msg("user message dropped")
	}

	s.store.ClearSuggestions()
	s.renderer.Suggestions(nil)

	s.nextID++
	return true
}

// Snapshot returns a copy of the conversation as seen by the event loop.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		snap = Snapshot{
			Exchanges:   s.store.Exchanges(),
			Suggestions: s.store.Suggestions(),
			NextID:      s.nextID,
			Pending:     s.store.PendingCount(),
			State:       s.transport.State(),
			Metadata:    s.metadata.View(),
		}
	})
	return snap, err
}

// State returns the transport state.
func (s *Session) State() ConnState {
	return s.transport.State()
}

func (s *Session) onMessage(data []byte) {
	s.post(func() {
		d := s.router.Dispatch(data)
		if !d.OK {
			return
		}
		switch d.Type {
		case protocol.TypeThinking:
			s.armTimeout(d.ID)
		case protocol.TypeAssistantMessage:
			s.disarmTimeout(d.ID)
		}
	})
}

func (s *Session) onState(state ConnState) {
	s.post(func() {
		s.renderer.ConnectionState(state)
	})
}

func (s *Session) armTimeout(id int) {
	if s.pendingTimeout <= 0 {
		return
	}
	if _, armed := s.timers[id]; armed {
		return
	}
	s.timers[id] = time.AfterFunc(s.pendingTimeout, func() {
		s.post(func() { s.expire(id) })
	})
}

func (s *Session) disarmTimeout(id int) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Session) expire(id int) {
	delete(s.timers, id)
	ex, ok := s.store.Expire(id, ExpiredText)
	if !ok {
		return
	}
	s.logger.Warn().Int("id", id).Dur("timeout", s.pendingTimeout).Msg("no response for placeholder")
	s.renderer.AssistantMessage(ex, PlacementReplace)
}

func (s *Session) stopTimers() {
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// post queues fn on the event loop. Events arriving after Run returned are
// dropped.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// do runs fn on the event loop and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.events <- wrapped:
	case <-s.done:
		return ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
