// Package httpapi hosts the HTTP routes of the chat server.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/xiaot623/fedchat/internal/hub"
	"github.com/xiaot623/fedchat/internal/pipeline"
	"github.com/xiaot623/fedchat/internal/protocol"
	"github.com/xiaot623/fedchat/internal/store"
)

// Documents is the part of the document store the routes use.
type Documents interface {
	Stats(ctx context.Context) (*protocol.Stats, error)
	UpsertDocuments(ctx context.Context, docs []store.Document) (store.UpsertResult, error)
}

// Updater loads one publication day from the Federal Register.
type Updater interface {
	ParseDay(s string) (time.Time, error)
	RunDay(ctx context.Context, day time.Time) (pipeline.DayResult, error)
}

// Announcer tells live chat sessions that the database changed.
type Announcer interface {
	AnnounceStats(ctx context.Context) error
}

// Options are the optional collaborators of the server.
type Options struct {
	// Chat handles upgrades on the chat path.
	Chat      echo.HandlerFunc
	Updater   Updater
	Announcer Announcer
}

// Server is the HTTP server. It also mounts the websocket handler.
type Server struct {
	echo      *echo.Echo
	hub       *hub.Hub
	docs      Documents
	updater   Updater
	announcer Announcer
	logger    zerolog.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(h *hub.Hub, docs Documents, opts Options, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		hub:       h,
		docs:      docs,
		updater:   opts.Updater,
		announcer: opts.Announcer,
		logger:    logger.With().Str("component", "http").Logger(),
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil {
				ev = s.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/api/health", s.handleHealth)
	e.GET(protocol.StatsPath, s.handleStats)
	e.POST("/api/database/documents", s.handleImport)
	if s.updater != nil {
		e.GET("/api/database/update", s.handleUpdate)
	}
	if opts.Chat != nil {
		e.GET(protocol.ChatPath, opts.Chat)
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Format(time.RFC3339),
		"connections": s.hub.Count(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.docs.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get database stats")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get database stats"})
	}
	return c.JSON(http.StatusOK, stats)
}

// handleImport loads a JSON array of documents, the way the ingest
// pipeline feeds the database.
func (s *Server) handleImport(c echo.Context) error {
	var docs []store.Document
	if err := c.Bind(&docs); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	res, err := s.docs.UpsertDocuments(c.Request().Context(), docs)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to import documents")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to import documents"})
	}
	s.logger.Info().Int("added", res.Added).Int("updated", res.Updated).Msg("documents imported")
	if res.Added > 0 || res.Updated > 0 {
		s.announce(c.Request().Context())
	}
	return c.JSON(http.StatusOK, res)
}

// handleUpdate downloads the documents of ?date= (today when absent).
func (s *Server) handleUpdate(c echo.Context) error {
	day, err := s.updater.ParseDay(c.QueryParam("date"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	res, err := s.updater.RunDay(c.Request().Context(), day)
	if err != nil {
		s.logger.Error().Err(err).Str("date", res.Date).Msg("failed to update database")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "error updating database: " + err.Error()})
	}
	if res.Added > 0 || res.Updated > 0 {
		s.announce(c.Request().Context())
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) announce(ctx context.Context) {
	if s.announcer == nil {
		return
	}
	if err := s.announcer.AnnounceStats(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to announce database stats")
	}
}
