package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	glamourstyles "github.com/charmbracelet/glamour/styles"
	"github.com/spf13/cobra"
	"github.com/upb/llm-chat-gateway/app"
	"github.com/upb/llm-chat-gateway/config"
	"github.com/upb/llm-chat-gateway/internal/observability"
	"github.com/upb/llm-chat-gateway/routes"
	"github.com/upb/llm-chat-gateway/services/chat"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat-gateway",
		Short:         "Chat gateway driven by remotely managed model configuration",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newAskCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and the configuration refresher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one refresh cycle and print the redacted configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), func(ctx context.Context, deps *app.Dependencies) error {
				snap, err := deps.RefreshOnce(ctx)
				if err != nil {
					return fmt.Errorf("refresh failed: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), snap.View())
			})
		},
	}
}

func newAskCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Refresh once and send a single chat message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), func(ctx context.Context, deps *app.Dependencies) error {
				if _, err := deps.RefreshOnce(ctx); err != nil {
					return fmt.Errorf("refresh failed: %w", err)
				}

				resp, err := deps.Chat.Complete(ctx, &chat.Request{Message: strings.Join(args, " ")})
				if err != nil {
					return err
				}

				out := resp.Message
				if !plain {
					out, err = renderMarkdown(resp.Message)
					if err != nil {
						return err
					}
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print the reply without markdown rendering")
	return cmd
}

// withDependencies loads configuration, builds the dependencies and closes them after fn.
func withDependencies(ctx context.Context, fn func(context.Context, *app.Dependencies) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := initLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Warn("shutdown finished with errors", zap.Error(err))
		}
	}()

	return fn(ctx, deps)
}

func serve(ctx context.Context) error {
	logger, err := initLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.New(ctx)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		return err
	}

	if err := deps.Start(ctx); err != nil {
		_ = deps.Close(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.ServerWriteTimeout(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("chat gateway listening",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.Server.TLS.Enabled),
			zap.String("environment", cfg.Environment))

		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			logger.Error("server error", zap.Error(err))
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop refreshing before draining so no snapshot is published mid-shutdown.
	if err := deps.Refresher.Stop(shutdownCtx); err != nil {
		logger.Warn("refresher did not stop cleanly", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
		runErr = errors.Join(runErr, err)
	}

	if err := deps.Close(shutdownCtx); err != nil {
		logger.Warn("dependency shutdown finished with errors", zap.Error(err))
	}

	logger.Info("chat gateway stopped")
	return runErr
}

// initLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func initLogger() (*zap.Logger, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	return observability.NewLogger(level, format)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderMarkdown(text string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(glamourstyles.DarkStyleConfig),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render(text)
	if err != nil {
		return "", fmt.Errorf("failed to render reply: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}
