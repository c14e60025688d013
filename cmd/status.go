package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fakeyudi/snek/internal/render"
	"github.com/fakeyudi/snek/internal/session"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active session as the server would load it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		renderer, err := render.ForFormat(statusFormat)
		if err != nil {
			return err
		}
		rep, err := loadReport()
		if err != nil {
			return err
		}
		out, err := renderer.Render(rep)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// loadReport loads the active session once, the same way the engine does.
func loadReport() (*render.Report, error) {
	_, dir, err := activeSession()
	if err != nil {
		return nil, err
	}
	res, err := session.Load(dir)
	if err != nil {
		return nil, err
	}
	rep := &render.Report{SessionDir: dir, Snapshot: res.Snapshot}
	if meta, err := session.ReadMeta(dir); err == nil {
		rep.SessionName = meta.Name
	}
	for _, w := range res.Warnings {
		rep.Warnings = append(rep.Warnings, w.Error())
	}
	return rep, nil
}

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "text", "output format: text, json or markdown")
	rootCmd.AddCommand(statusCmd)
}
