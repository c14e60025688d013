package cmd

import (
	"context"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/snek/internal/render"
	"github.com/fakeyudi/snek/internal/session"
	"github.com/fakeyudi/snek/internal/tui"
	"github.com/fakeyudi/snek/internal/watch"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Watch the active session live",
	Long: `view runs its own watch engine on the workspace and shows the snapshot it
publishes, refreshing as session or context files change. With --plain, or
when stdout is not a terminal, the session is printed once as Markdown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if plainOutput || !term.IsTerminal(os.Stdout.Fd()) {
			rep, err := loadReport()
			if err != nil {
				return err
			}
			out, err := (&render.MarkdownRenderer{}).Render(rep)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}

		root, dir, err := activeSession()
		if err != nil {
			return err
		}
		title := dir
		if meta, err := session.ReadMeta(dir); err == nil {
			title = meta.Name
		}

		fsw, err := watch.NewFSWatcher()
		if err != nil {
			return err
		}
		defer fsw.Close()

		// The TUI owns the terminal; engine logs are discarded.
		engine := watch.New(root, fsw, watch.WithDebounce(cfg.Debounce))
		if err := engine.Start(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return engine.Run(gctx)
		})
		g.Go(func() error {
			defer cancel()
			return tui.Run(engine.State(), title, tui.WithStats(engine.Stats))
		})
		return g.Wait()
	},
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "print the session once instead of opening the viewer")
	rootCmd.AddCommand(viewCmd)
}
