package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/x/term"
	"github.com/koki-develop/go-fzf"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/session"
)

var sessionNoActivate bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, list and switch sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create an empty session and make it active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := requireWorkspace()
		if err != nil {
			return err
		}
		meta, err := session.Create(root, args[0])
		if err != nil {
			return err
		}
		if !sessionNoActivate {
			if err := session.Activate(root, meta.ID); err != nil {
				return err
			}
		}
		logger.Debug("session created", zap.String("id", meta.ID), zap.Bool("active", !sessionNoActivate))
		fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s)\n", meta.Name, meta.ID)
		return nil
	},
}

var sessionUseCmd = &cobra.Command{
	Use:   "use [id|name]",
	Short: "Switch the active session",
	Long: `use makes the named session active. The argument may be a session id, a
unique id prefix or a session name. Without an argument an interactive picker
is shown when running in a terminal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := requireWorkspace()
		if err != nil {
			return err
		}
		metas, err := session.List(root)
		if err != nil {
			return err
		}

		var meta *session.Meta
		switch {
		case len(args) == 1:
			meta, err = matchSession(metas, args[0])
		case term.IsTerminal(os.Stdin.Fd()):
			meta, err = pickSession(metas)
			if meta == nil && err == nil {
				return nil // cancelled
			}
		default:
			err = errors.New("session id or name required")
		}
		if err != nil {
			return err
		}

		if err := session.Activate(root, meta.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Active session: %s (%s)\n", meta.Name, meta.ID)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := requireWorkspace()
		if err != nil {
			return err
		}
		metas, err := session.List(root)
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
			return nil
		}

		var activeID string
		if p, err := session.ReadPointer(root); err == nil {
			activeID = p.ID
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tNAME\tVERSION\tUPDATED")
		for _, m := range metas {
			mark := ""
			if m.ID == activeID {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", mark, m.ID, m.Name, m.Version, m.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

// matchSession finds the session whose id, unique id prefix or name is q.
func matchSession(metas []session.Meta, q string) (*session.Meta, error) {
	var byPrefix, byName []int
	for i, m := range metas {
		if m.ID == q {
			return &metas[i], nil
		}
		if strings.HasPrefix(m.ID, q) {
			byPrefix = append(byPrefix, i)
		}
		if m.Name == q {
			byName = append(byName, i)
		}
	}
	for _, hits := range [][]int{byName, byPrefix} {
		switch len(hits) {
		case 0:
			continue
		case 1:
			return &metas[hits[0]], nil
		default:
			return nil, fmt.Errorf("%q matches %d sessions; use the full id", q, len(hits))
		}
	}
	return nil, fmt.Errorf("no session matches %q", q)
}

// pickSession presents an interactive fuzzy finder. A nil session with a nil
// error means the user cancelled.
func pickSession(metas []session.Meta) (*session.Meta, error) {
	if len(metas) == 0 {
		return nil, errors.New("no sessions found")
	}

	f, err := fzf.New(
		fzf.WithPrompt("snek sessions > "),
		fzf.WithInputPosition(fzf.InputPositionTop),
		fzf.WithLimit(1),
	)
	if err != nil {
		return nil, err
	}

	idxs, err := f.Find(
		metas,
		func(i int) string {
			m := metas[i]
			return fmt.Sprintf("%s  %-20s  v%d", m.UpdatedAt.Local().Format("2006-01-02 15:04"), m.Name, m.Version)
		},
		fzf.WithPreviewWindow(func(i, w, h int) string {
			if i < 0 || i >= len(metas) {
				return ""
			}
			m := metas[i]
			return fmt.Sprintf("Session: %s\nID: %s\nVersion: %d\nMax tokens: %d\n", m.Name, m.ID, m.Version, m.Limits.MaxTokens)
		}),
	)
	if err != nil {
		if errors.Is(err, fzf.ErrAbort) {
			return nil, nil
		}
		return nil, err
	}
	if len(idxs) == 0 {
		return nil, nil
	}
	return &metas[idxs[0]], nil
}

func init() {
	sessionNewCmd.Flags().BoolVar(&sessionNoActivate, "no-activate", false, "create the session without switching to it")
	sessionCmd.AddCommand(sessionNewCmd, sessionUseCmd, sessionListCmd)
	rootCmd.AddCommand(sessionCmd)
}
