package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/session"
	"github.com/fakeyudi/snek/internal/snapshot"
)

var chatRole string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Edit the chat history of the active session",
}

var chatAddCmd = &cobra.Command{
	Use:   "add <message>|-",
	Short: "Append a message to the active session's chat",
	Long: `add appends one message to chat.json of the active session. Pass "-" to
read the message from stdin. A running server picks the change up on its own.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, dir, err := activeSession()
		if err != nil {
			return err
		}

		content := args[0]
		if content == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			content = string(data)
		}
		content = strings.TrimRight(content, "\n")
		if strings.TrimSpace(content) == "" {
			return errors.New("message is empty")
		}

		if err := session.AppendMessage(dir, snapshot.ChatMessage{Role: chatRole, Content: content}); err != nil {
			return err
		}
		logger.Debug("chat message added", zap.String("session", dir), zap.String("role", chatRole))
		fmt.Fprintln(cmd.OutOrStdout(), "Message added.")
		return nil
	},
}

func init() {
	chatAddCmd.Flags().StringVarP(&chatRole, "role", "r", snapshot.RoleUser, "message role: system, user or assistant")
	chatCmd.AddCommand(chatAddCmd)
	rootCmd.AddCommand(chatCmd)
}
