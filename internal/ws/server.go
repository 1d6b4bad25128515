// Package ws serves the /ws/chat endpoint.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/fedchat/internal/agent"
	"github.com/xiaot623/fedchat/internal/config"
	"github.com/xiaot623/fedchat/internal/hub"
	"github.com/xiaot623/fedchat/internal/protocol"
	"github.com/xiaot623/fedchat/internal/tools"
)

// WelcomeText is the first message of every connection.
const WelcomeText = "Welcome! Ask me anything about federal regulations, executive orders, or other government documents."

// responseTimeout bounds one answer.
const responseTimeout = 30 * time.Second

// Responder produces answers; *agent.Agent implements it.
type Responder interface {
	Respond(ctx context.Context, sessionID, question string, history []agent.Turn) (agent.Reply, error)
	Suggest(ctx context.Context, sessionID, question string) ([]string, error)
	Stats(ctx context.Context, sessionID string) (*protocol.Stats, error)
}

// Server handles websocket connections.
type Server struct {
	cfg       *config.ServerConfig
	hub       *hub.Hub
	responder Responder
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
}

// NewServer creates a websocket server.
func NewServer(cfg *config.ServerConfig, h *hub.Hub, responder Responder, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		hub:       h,
		responder: responder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the chat page may be served from anywhere
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// chatState is the per-connection conversation. Only the connection's
// worker goroutine touches it.
type chatState struct {
	history   []agent.Turn
	lastTools []string
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return nil
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)
	s.logger.Info().Str("session_id", conn.SessionID).Msg("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	requests := newRequestQueue()
	go s.writePump(conn)
	go s.worker(ctx, conn, requests)
	go s.readPump(conn, requests, cancel)
	return nil
}

// readPump reads frames and hands them to the worker in order. Leaving it
// cancels whatever the worker is still doing for the connection.
func (s *Server) readPump(conn *hub.Connection, requests *requestQueue, cancel context.CancelFunc) {
	defer func() {
		cancel()
		s.hub.Unregister(conn)
		conn.Close()
		s.logger.Info().Str("session_id", conn.SessionID).Msg("client disconnected")
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("session_id", conn.SessionID).Msg("websocket read error")
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		requests.push(message)
	}
}

// writePump drains the connection queue and keeps the peer alive with pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{}, deadline)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message, deadline); err != nil {
				s.logger.Debug().Err(err).Str("session_id", conn.SessionID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// worker greets the client and then answers its frames one at a time.
// It stops when the connection is gone; frames still queued are dropped.
func (s *Server) worker(ctx context.Context, conn *hub.Connection, requests *requestQueue) {
	state := &chatState{}
	s.welcome(ctx, conn, state)
	for {
		data, ok := requests.pop(ctx)
		if !ok {
			return
		}
		s.handleMessage(ctx, conn, state, data)
	}
}

func (s *Server) welcome(ctx context.Context, conn *hub.Connection, state *chatState) {
	s.send(conn, assistantMessage(0, WelcomeText, 0, nil))

	stats, err := s.responder.Stats(ctx, conn.SessionID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to get database stats")
		return
	}
	if stats.TotalDocuments == 0 {
		return
	}
	state.lastTools = []string{tools.GetDatabaseStatistics}
	s.send(conn, statsMessage(stats))
}

// AnnounceStats sends the refreshed database summary to every live
// session. It replaces the summary each session got on connect.
func (s *Server) AnnounceStats(ctx context.Context) error {
	stats, err := s.responder.Stats(ctx, "")
	if err != nil {
		return err
	}
	if stats.TotalDocuments == 0 {
		return nil
	}
	data, err := json.Marshal(statsMessage(stats))
	if err != nil {
		return err
	}
	return s.hub.Broadcast(ctx, data)
}

func statsMessage(stats *protocol.Stats) protocol.AssistantMessage {
	content := fmt.Sprintf("I have access to %d Federal Register documents from %s to %s.",
		stats.TotalDocuments, deref(stats.DateRange.Min), deref(stats.DateRange.Max))
	return assistantMessage(0, content, 0, []string{tools.GetDatabaseStatistics})
}

// handleMessage dispatches one client frame.
func (s *Server) handleMessage(ctx context.Context, conn *hub.Connection, state *chatState, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", conn.SessionID).Msg("invalid frame")
		return
	}
	switch msg.Type {
	case protocol.TypeUserMessage:
		s.handleUserMessage(ctx, conn, state, msg.Data)
	default:
		s.logger.Warn().Str("type", msg.Type).Str("session_id", conn.SessionID).Msg("unknown message type")
	}
}

type inboundUserMessage struct {
	Content string `json:"content"`
	ID      *int   `json:"id"`
}

func (s *Server) handleUserMessage(ctx context.Context, conn *hub.Connection, state *chatState, data []byte) {
	var in inboundUserMessage
	if err := json.Unmarshal(data, &in); err != nil {
		s.logger.Warn().Err(err).Str("session_id", conn.SessionID).Msg("invalid user_message")
		return
	}
	id := len(state.history) / 2
	if in.ID != nil {
		id = *in.ID
	}

	history := state.history
	state.history = append(state.history, agent.Turn{Role: "user", Content: in.Content})
	s.send(conn, protocol.ThinkingMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeThinking}, ID: id})

	rctx, cancel := context.WithTimeout(ctx, responseTimeout)
	defer cancel()

	reply, err := s.responder.Respond(rctx, conn.SessionID, in.Content, history)
	if err != nil {
		s.logger.Error().Err(err).Int("id", id).Str("session_id", conn.SessionID).Msg("failed to generate response")
		content := fmt.Sprintf("I'm sorry, I encountered an error: %v. Please try rephrasing your question.", err)
		s.send(conn, assistantMessage(id, content, 0, state.lastTools))
		return
	}
	state.history = append(state.history, agent.Turn{Role: "assistant", Content: reply.Content})

	toolsUsed := reply.ToolsUsed
	if len(toolsUsed) > 0 {
		state.lastTools = toolsUsed
	} else {
		toolsUsed = state.lastTools
	}
	s.send(conn, assistantMessage(id, reply.Content, reply.QueryTime, toolsUsed))

	suggestions, err := s.responder.Suggest(rctx, conn.SessionID, in.Content)
	if err != nil {
		s.logger.Warn().Err(err).Int("id", id).Msg("failed to generate suggestions")
		return
	}
	if len(suggestions) > 0 {
		s.send(conn, protocol.SuggestionsMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.TypeSuggestions},
			Suggestions: suggestions,
			ID:          &id,
		})
	}
}

func (s *Server) send(conn *hub.Connection, v interface{}) {
	if err := s.hub.SendJSON(conn, v); err != nil {
		s.logger.Debug().Err(err).Str("session_id", conn.SessionID).Msg("frame not queued")
	}
}

func assistantMessage(id int, content string, queryTime float64, toolsUsed []string) protocol.AssistantMessage {
	return protocol.AssistantMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeAssistantMessage},
		ID:          id,
		Content:     content,
		Metadata:    protocol.NewMetadata(queryTime, toolsUsed),
	}
}

func deref(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}
