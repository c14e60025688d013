package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/snek/internal/completion"
	"github.com/fakeyudi/snek/internal/config"
	"github.com/fakeyudi/snek/internal/document"
	"github.com/fakeyudi/snek/internal/server"
	"github.com/fakeyudi/snek/internal/session"
	"github.com/fakeyudi/snek/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve inline completions over MCP on stdin/stdout",
	Long: `serve watches the active session under .snek/ and answers editor requests
over MCP on stdio. A workspace with an empty default session is created when
none exists. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := findWorkspace()
		if errors.Is(err, session.ErrNoWorkspace) {
			dir, derr := projectDir()
			if derr != nil {
				return derr
			}
			var meta *session.Meta
			if root, meta, err = session.Init(dir); err == nil {
				logger.Info("workspace initialized", zap.String("root", root), zap.String("session", meta.ID))
			}
		}
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := newClient(ctx, cfg)
		if err != nil {
			return err
		}

		fsw, err := watch.NewFSWatcher()
		if err != nil {
			return err
		}
		defer fsw.Close()

		engine := watch.New(root, fsw,
			watch.WithDebounce(cfg.Debounce),
			watch.WithLogger(logger.Named("watch")),
		)
		if err := engine.Start(); err != nil {
			return err
		}

		docs := document.NewStore()
		handler := completion.NewHandler(engine.State(), docs, client,
			completion.WithTimeout(cfg.RequestTimeout),
			completion.WithLogger(logger.Named("completion")),
		)
		srv := server.New(engine.State(), docs, handler,
			server.WithLogger(logger.Named("mcp")),
			server.WithRoot(root),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return engine.Run(gctx)
		})
		g.Go(func() error {
			// The editor closing stdin ends the session.
			defer stop()
			return srv.Serve(gctx, os.Stdin, os.Stdout)
		})
		err = g.Wait()

		st := engine.Stats()
		logger.Info("serve stopped",
			zap.Uint64("reloads", st.Reloads),
			zap.Uint64("publishes", st.Publishes),
			zap.Uint64("failed_reloads", st.FailedReloads),
		)
		return err
	},
}

// newClient builds the completion client for the configured provider.
func newClient(ctx context.Context, c config.Config) (completion.Client, error) {
	switch c.Provider {
	case config.ProviderGemini:
		gc, err := completion.NewGeminiClient(ctx, c.APIKey, c.Model)
		if err != nil {
			return nil, err
		}
		return gc, nil
	case config.ProviderOpenAI:
		return completion.NewOpenAIClient(completion.OpenAIConfig{
			URL:        c.APIURL,
			APIKey:     c.APIKey,
			Model:      c.Model,
			MaxRetries: max(c.MaxRetries, 0),
			Logger:     logger.Named("openai"),
		}), nil
	}
	return nil, fmt.Errorf("unknown provider %q", c.Provider)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
