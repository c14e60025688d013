package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/config"
	"github.com/fakeyudi/snek/internal/logging"
	"github.com/fakeyudi/snek/internal/session"
)

var (
	// cfg holds the merged configuration, populated in PersistentPreRunE.
	cfg config.Config

	// logger writes to stderr; stdout is reserved for command output and
	// the MCP stream.
	logger = zap.NewNop()

	rootDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "snek",
	Short:         "Serve inline completions grounded in a curated session of chat and code",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The project layer lives in the workspace, which may not exist yet.
		root, err := findWorkspace()
		if err != nil && !errors.Is(err, session.ErrNoWorkspace) {
			return err
		}

		c, err := config.Load(root)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = c

		l, err := logging.New(logging.Options{Level: cfg.LogLevel, Verbose: verbose})
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "snek:", err)
		os.Exit(1)
	}
}

// projectDir is the directory the workspace is searched from or created in.
func projectDir() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	return os.Getwd()
}

// findWorkspace returns the .snek directory governing projectDir.
func findWorkspace() (string, error) {
	dir, err := projectDir()
	if err != nil {
		return "", err
	}
	return session.FindRoot(dir)
}

// requireWorkspace is findWorkspace with a hint for the user.
func requireWorkspace() (string, error) {
	root, err := findWorkspace()
	if errors.Is(err, session.ErrNoWorkspace) {
		return "", fmt.Errorf("no snek workspace found (run 'snek init' first)")
	}
	return root, err
}

// activeSession resolves the active session directory of the workspace.
func activeSession() (root, dir string, err error) {
	root, err = requireWorkspace()
	if err != nil {
		return "", "", err
	}
	dir, err = session.ResolveActive(root)
	if err != nil {
		return "", "", err
	}
	return root, dir, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "project directory (default: current directory, searched upwards for .snek)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
