// Command fedchat-server serves the Federal Register chat backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/xiaot623/fedchat/internal/agent"
	"github.com/xiaot623/fedchat/internal/config"
	"github.com/xiaot623/fedchat/internal/httpapi"
	"github.com/xiaot623/fedchat/internal/hub"
	"github.com/xiaot623/fedchat/internal/pipeline"
	"github.com/xiaot623/fedchat/internal/policy"
	"github.com/xiaot623/fedchat/internal/store"
	"github.com/xiaot623/fedchat/internal/tools"
	"github.com/xiaot623/fedchat/internal/ws"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadServer()

	root := &cobra.Command{
		Use:           "fedchat-server",
		Short:         "Serve the Federal Register chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "SQLite database DSN")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	root.Flags().IntVar(&cfg.HTTPPort, "port", cfg.HTTPPort, "HTTP port")
	root.Flags().StringVar(&cfg.BlockedTools, "blocked-tools", cfg.BlockedTools, "comma separated tools the policy blocks")

	var days int
	var date string
	update := &cobra.Command{
		Use:   "update",
		Short: "Download documents from the Federal Register API",
		Long: "Download documents from the Federal Register API. With --date a single day is " +
			"loaded; otherwise every day since the last checkpoint, at most --days back.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), cfg, date, days)
		},
	}
	update.Flags().IntVar(&days, "days", 7, "number of days to process")
	update.Flags().StringVar(&date, "date", "", "single date to process (YYYY-MM-DD)")
	root.AddCommand(update)

	root.AddCommand(&cobra.Command{
		Use:   "history SESSION_ID",
		Short: "Print the logged questions and answers of a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printHistory(cmd.Context(), cmd.OutOrStdout(), cfg, args[0])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Load a JSON array of documents into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return importFile(cmd.Context(), cfg, args[0])
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fedchat-server:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.ServerConfig) error {
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	logger.Info().Int("port", cfg.HTTPPort).Str("db", cfg.DatabaseURL).Msg("starting fedchat server")

	docs, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer docs.Close()

	registry := tools.NewRegistry()
	registry.SetTimeout(cfg.ToolTimeout)
	tools.RegisterBuiltins(registry, docs)

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy, splitList(cfg.BlockedTools))
	if err != nil {
		return err
	}

	assistant := agent.New(agent.Options{
		Tools:   registry,
		Policy:  engine,
		ChatLog: docs,
		Logger:  logger,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	connections := hub.New(logger)
	go connections.Run(hubCtx)

	wsServer := ws.NewServer(cfg, connections, assistant, logger)
	updater := pipeline.New(pipeline.NewClient(cfg.FederalRegisterURL, cfg.FetchInterval), docs, logger)
	httpServer := httpapi.NewServer(connections, docs, httpapi.Options{
		Chat:      wsServer.HandleWebSocket,
		Updater:   updater,
		Announcer: wsServer,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Wrap(err, "start http server")
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to shut down http server gracefully")
	}
	// closing the queues makes every write pump send a close frame
	stopHub()
	logger.Info().Msg("stopped")
	return nil
}

func importFile(ctx context.Context, cfg *config.ServerConfig, path string) error {
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read documents")
	}
	var docs []store.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.UpsertDocuments(ctx, docs)
	if err != nil {
		return err
	}
	logger.Info().Str("file", path).Int("added", res.Added).Int("updated", res.Updated).Msg("documents imported")
	return nil
}

func runUpdate(ctx context.Context, cfg *config.ServerConfig, date string, days int) error {
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	p := pipeline.New(pipeline.NewClient(cfg.FederalRegisterURL, cfg.FetchInterval), db, logger)
	if date == "" {
		_, err := p.Run(ctx, days)
		return err
	}
	day, err := p.ParseDay(date)
	if err != nil {
		return err
	}
	_, err = p.RunDay(ctx, day)
	return err
}

func printHistory(ctx context.Context, out io.Writer, cfg *config.ServerConfig, sessionID string) error {
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.ChatHistory(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.Errorf("no chat history for session %s", sessionID)
	}
	writeHistory(out, entries)
	return nil
}

func writeHistory(out io.Writer, entries []store.ChatEntry) {
	for i, e := range entries {
		fmt.Fprintf(out, "#%d Q: %s\n", i+1, e.Query)
		fmt.Fprintf(out, "   A: %s\n", e.Response)
		if len(e.ToolsUsed) > 0 {
			fmt.Fprintf(out, "   tools: %s\n", strings.Join(e.ToolsUsed, ", "))
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
