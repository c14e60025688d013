package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/session"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a snek workspace with an empty default session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir()
		if err != nil {
			return err
		}
		dir, err = filepath.Abs(dir)
		if err != nil {
			return err
		}

		if existing, err := session.FindRoot(dir); err == nil && existing == filepath.Join(dir, session.DirName) {
			return fmt.Errorf("workspace already initialized at %s", existing)
		}

		root, meta, err := session.Init(dir)
		if err != nil {
			return err
		}
		logger.Info("workspace initialized", zap.String("root", root), zap.String("session", meta.ID))

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Initialized snek workspace in %s\n", root)
		fmt.Fprintf(out, "Active session: %s (%s)\n", meta.Name, meta.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
