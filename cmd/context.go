package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/session"
	"github.com/fakeyudi/snek/internal/snapshot"
)

var (
	contextStart       int
	contextEnd         int
	contextLanguage    string
	contextDescription string
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Edit the code contexts and notes of the active session",
}

var contextAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Add a line range of a file as a code context",
	Long: `add records lines [start, end) of file (zero-based, end exclusive) as a
code context of the active session. The code is extracted now and kept in
sync with the file while a server is running. Adding the same range again
refreshes it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, dir, err := activeSession()
		if err != nil {
			return err
		}

		uri, err := session.PathToURI(args[0])
		if err != nil {
			return err
		}
		end := contextEnd
		if end < 0 {
			end = contextStart + 1
		}
		lang := contextLanguage
		if lang == "" {
			lang = languageFor(args[0])
		}

		c, err := session.AddContext(dir, snapshot.CodeContext{
			URI:         uri,
			StartLine:   contextStart,
			EndLine:     end,
			LanguageID:  lang,
			Description: contextDescription,
		})
		if err != nil {
			return err
		}
		logger.Debug("code context added", zap.String("uri", c.URI), zap.Int("start", c.StartLine), zap.Int("end", c.EndLine))
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s lines %d-%d (%d bytes)\n", c.URI, c.StartLine, c.EndLine, len(c.Code))
		return nil
	},
}

var contextNoteCmd = &cobra.Command{
	Use:   "note <name> <file|->",
	Short: "Save a markdown note into the active session",
	Long: `note copies a markdown file, or stdin when the argument is "-", into the
context/ directory of the active session as <name>.md. Notes are sent to the
model ahead of the code contexts. Saving a note under an existing name
replaces it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, dir, err := activeSession()
		if err != nil {
			return err
		}

		var data []byte
		if args[1] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[1])
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(data)) == "" {
			return errors.New("note is empty")
		}

		path, err := session.AddNote(dir, args[0], string(data))
		if err != nil {
			return err
		}
		logger.Debug("note saved", zap.String("path", path))
		fmt.Fprintf(cmd.OutOrStdout(), "Saved note %s\n", filepath.Base(path))
		return nil
	},
}

var languageByExt = map[string]string{
	".go":   "go",
	".py":   "python",
	".rs":   "rust",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".rb":   "ruby",
	".lua":  "lua",
	".sh":   "shellscript",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
}

// languageFor guesses an editor language id from the file extension.
func languageFor(path string) string {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "plaintext"
}

func init() {
	contextAddCmd.Flags().IntVarP(&contextStart, "start", "s", 0, "first line, zero-based")
	contextAddCmd.Flags().IntVarP(&contextEnd, "end", "e", -1, "line after the last one (default start+1)")
	contextAddCmd.Flags().StringVarP(&contextLanguage, "language", "l", "", "language id (default: from the file extension)")
	contextAddCmd.Flags().StringVarP(&contextDescription, "description", "d", "", "why this code matters")
	contextCmd.AddCommand(contextAddCmd, contextNoteCmd)
	rootCmd.AddCommand(contextCmd)
}
