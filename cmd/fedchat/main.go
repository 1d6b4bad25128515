// Command fedchat is a terminal client for the Federal Register chat service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xiaot623/fedchat/internal/chat"
	"github.com/xiaot623/fedchat/internal/config"
	"github.com/xiaot623/fedchat/internal/render"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadClient()

	var markdown bool
	root := &cobra.Command{
		Use:           "fedchat",
		Short:         "Chat with the Federal Register assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, markdown)
		},
	}
	flags := root.Flags()
	flags.StringVar(&cfg.Origin, "origin", cfg.Origin, "origin of the chat service")
	flags.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "delay before reconnecting after a drop")
	flags.DurationVar(&cfg.PendingTimeout, "pending-timeout", cfg.PendingTimeout, "give up on an answer after this long (0 waits forever)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&markdown, "markdown", true, "render answers as markdown")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fedchat:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, markdown bool) error {
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	endpoint, err := chat.EndpointFromOrigin(cfg.Origin)
	if err != nil {
		return err
	}
	base, err := chat.HTTPBaseFromOrigin(cfg.Origin)
	if err != nil {
		return err
	}

	term := render.NewTerminal(os.Stdout, render.Options{Markdown: markdown})
	session, err := chat.NewSession(chat.Options{
		Endpoint:         endpoint,
		ReconnectDelay:   cfg.ReconnectDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PendingTimeout:   cfg.PendingTimeout,
		Renderer:         term,
		Logger:           logger,
	})
	if err != nil {
		return errors.Wrap(err, "create session")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	logger.Info().Str("endpoint", endpoint).Msg("starting chat client")
	stats := chat.NewStatsClient(base)
	showStats(ctx, stats, term, logger)
	term.Info("%s", helpText)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	for ctx.Err() == nil {
		input, err := line.Prompt("> ")
		if err != nil {
			// Ctrl+C, Ctrl+D or a closed terminal all end the session.
			break
		}
		cmd := parseCommand(input)
		switch cmd.kind {
		case commandQuit:
			cancel()
		case commandHelp:
			term.Info("%s", helpText)
		case commandStats:
			showStats(ctx, stats, term, logger)
			if snap, err := session.Snapshot(ctx); err == nil {
				term.Info("%d questions asked · %d answers pending", snap.NextID, snap.Pending)
			}
		case commandDocs:
			snap, err := session.Snapshot(ctx)
			if err != nil {
				break
			}
			numbers := citedDocuments(snap.Exchanges)
			if len(numbers) == 0 {
				term.Info("no documents cited in the last answer")
				break
			}
			for _, number := range numbers {
				term.Info("%s  %s", number, chat.DocumentURL(number))
			}
		case commandUnknown:
			term.Info("unknown command %s, try /help", cmd.text)
		case commandSuggestion:
			snap, err := session.Snapshot(ctx)
			if err != nil {
				break
			}
			if cmd.index >= len(snap.Suggestions) {
				term.Info("no suggestion /%d", cmd.index+1)
				break
			}
			submit(ctx, session, line, term, snap.Suggestions[cmd.index], logger)
		case commandMessage:
			submit(ctx, session, line, term, cmd.text, logger)
		}
	}

	cancel()
	return <-done
}

func submit(ctx context.Context, session *chat.Session, line *liner.State, term *render.Terminal, text string, logger zerolog.Logger) {
	accepted, err := session.Submit(ctx, text)
	if err != nil {
		logger.Debug().Err(err).Msg("submit failed")
		return
	}
	if !accepted {
		return
	}
	line.AppendHistory(text)
	if session.State() != chat.StateOpen {
		term.Info("not connected, message not delivered")
	}
}

// citedDocuments returns the document numbers of the latest answer.
func citedDocuments(exchanges []chat.Exchange) []string {
	for i := len(exchanges) - 1; i >= 0; i-- {
		if exchanges[i].HasAssistant {
			return chat.DocumentNumbers(exchanges[i].AssistantText)
		}
	}
	return nil
}

func showStats(ctx context.Context, stats *chat.StatsClient, term *render.Terminal, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s, err := stats.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("database statistics unavailable")
		return
	}
	term.Stats(s)
}
