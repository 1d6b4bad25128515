package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/fedchat/internal/protocol"
)

type fakeTransport struct {
	mu       sync.Mutex
	state    ConnState
	sent     []interface{}
	connects int
	closed   bool
}

func (f *fakeTransport) Connect() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return true
}

func (f *fakeTransport) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateOpen {
		return ErrNotConnected
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Sent() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.sent...)
}

func startFakeSession(t *testing.T, opts Options) (*Session, *fakeTransport, *recordingRenderer) {
	t.Helper()
	rec := &recordingRenderer{}
	opts.Renderer = rec
	opts.Logger = zerolog.Nop()
	s := newSession(opts)
	ft := &fakeTransport{state: StateOpen}
	s.transport = ft

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, ft, rec
}

func TestSessionSubmitSendsOneFrameAndIncrements(t *testing.T) {
	ctx := context.Background()
	s, ft, rec := startFakeSession(t, Options{})

	accepted, err := s.Submit(ctx, "  latest executive orders  ")
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = s.Submit(ctx, "climate rules")
	require.NoError(t, err)
	require.True(t, accepted)

	sent := ft.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.NewUserMessage(0, "latest executive orders"), sent[0])
	assert.Equal(t, protocol.NewUserMessage(1, "climate rules"), sent[1])

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.NextID)
	require.Len(t, snap.Exchanges, 2)
	assert.Equal(t, StatusSubmitted, snap.Exchanges[0].Status)
	assert.Contains(t, rec.Calls(), "user 0 latest executive orders")
}

func TestSessionSubmitRejectsBlank(t *testing.T) {
	ctx := context.Background()
	s, ft, _ := startFakeSession(t, Options{})

	for _, text := range []string{"", "   ", "\t\n"} {
		accepted, err := s.Submit(ctx, text)
		require.NoError(t, err)
		assert.False(t, accepted)
	}

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.NextID)
	assert.Empty(t, snap.Exchanges)
	assert.Empty(t, ft.Sent())
}

func TestSessionSubmitClearsSuggestions(t *testing.T) {
	ctx := context.Background()
	s, _, _ := startFakeSession(t, Options{})

	s.onMessage([]byte(`{"type":"suggestions","suggestions":["a","b"]}`))
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, snap.Suggestions)

	_, err = s.Submit(ctx, "a")
	require.NoError(t, err)

	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Suggestions)
}

func TestSessionSubmitWhileDisconnectedDropsFrame(t *testing.T) {
	ctx := context.Background()
	s, ft, _ := startFakeSession(t, Options{})
	ft.mu.Lock()
	ft.state = StateClosed
	ft.mu.Unlock()

	accepted, err := s.Submit(ctx, "hello?")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Empty(t, ft.Sent())

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.NextID)
}

func TestSessionConcurrentSubmissionsResolveByID(t *testing.T) {
	ctx := context.Background()
	s, _, _ := startFakeSession(t, Options{})

	_, err := s.Submit(ctx, "first")
	require.NoError(t, err)
	_, err = s.Submit(ctx, "second")
	require.NoError(t, err)

	s.onMessage([]byte(`{"type":"thinking","id":0}`))
	s.onMessage([]byte(`{"type":"thinking","id":1}`))
	s.onMessage([]byte(`{"type":"assistant_message","id":1,"content":"two"}`))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Pending)

	s.onMessage([]byte(`{"type":"assistant_message","id":0,"content":"one"}`))

	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Pending)
	require.Len(t, snap.Exchanges, 2)
	assert.Equal(t, "first", snap.Exchanges[0].UserText)
	assert.Equal(t, "one", snap.Exchanges[0].AssistantText)
	assert.Equal(t, "second", snap.Exchanges[1].UserText)
	assert.Equal(t, "two", snap.Exchanges[1].AssistantText)
}

func TestSessionPendingTimeout(t *testing.T) {
	ctx := context.Background()
	s, _, rec := startFakeSession(t, Options{PendingTimeout: 30 * time.Millisecond})

	_, err := s.Submit(ctx, "anyone there?")
	require.NoError(t, err)
	s.onMessage([]byte(`{"type":"thinking","id":0}`))
	s.onMessage([]byte(`{"type":"thinking","id":1}`))
	s.onMessage([]byte(`{"type":"assistant_message","id":1,"content":"fast"}`))

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		return err == nil && len(snap.Exchanges) > 0 && snap.Exchanges[0].Failed
	}, time.Second, 5*time.Millisecond)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpiredText, snap.Exchanges[0].AssistantText)
	assert.False(t, snap.Exchanges[1].Failed)
	assert.Contains(t, rec.Calls(), "assistant 0 replace "+ExpiredText)
}

func TestSessionWithoutTimeoutKeepsWaiting(t *testing.T) {
	ctx := context.Background()
	s, _, _ := startFakeSession(t, Options{})

	s.onMessage([]byte(`{"type":"thinking","id":3}`))
	time.Sleep(20 * time.Millisecond)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Exchanges, 1)
	assert.Equal(t, StatusPending, snap.Exchanges[0].Status)
}

func TestSessionStopped(t *testing.T) {
	s := newSession(Options{Logger: zerolog.Nop()})
	s.transport = &fakeTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	_, err := s.Submit(context.Background(), "late")
	assert.ErrorIs(t, err, ErrSessionStopped)
}

func TestSessionEndToEnd(t *testing.T) {
	srv := newWSTestServer(t, func(conn *websocket.Conn) {
		greeting := protocol.AssistantMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.TypeAssistantMessage},
			ID:          0,
			Content:     "Welcome!",
			Metadata:    protocol.NewMetadata(0, nil),
		}
		_ = conn.WriteJSON(greeting)
		for {
			var msg protocol.UserMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.WriteJSON(protocol.ThinkingMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeThinking}, ID: msg.ID})
			_ = conn.WriteJSON(protocol.AssistantMessage{
				BaseMessage: protocol.BaseMessage{Type: protocol.TypeAssistantMessage},
				ID:          msg.ID,
				Content:     "echo: " + msg.Content,
				Metadata:    protocol.NewMetadata(0.25, []string{"query_federal_register"}),
			})
			data, _ := json.Marshal(map[string]interface{}{"type": "suggestions", "suggestions": []string{"more?"}, "id": msg.ID})
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	})

	rec := &recordingRenderer{}
	s, err := NewSession(Options{
		Endpoint:       srv.URL(),
		ReconnectDelay: 50 * time.Millisecond,
		Renderer:       rec,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return s.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)

	// the greeting arrives right after the handshake
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		return err == nil && len(snap.Exchanges) == 1
	}, 2*time.Second, 5*time.Millisecond)

	accepted, err := s.Submit(ctx, "rules about water")
	require.NoError(t, err)
	require.True(t, accepted)

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		return err == nil && len(snap.Suggestions) == 1
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Exchanges, 2)
	assert.Equal(t, "Welcome!", snap.Exchanges[0].AssistantText)
	assert.Equal(t, "rules about water", snap.Exchanges[1].UserText)
	assert.Equal(t, "echo: rules about water", snap.Exchanges[1].AssistantText)
	assert.Equal(t, MetadataView{QueryTime: "0.25s", ToolsUsed: "Database Search"}, snap.Metadata)
	assert.Contains(t, rec.States(), StateOpen)
}
