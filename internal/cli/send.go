package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattisv/tradetalk/internal/chat"
)

var sendCmd = &cobra.Command{
	Use:   "send CONVERSATION_ID BODY...",
	Short: "Send a message to a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	client, creds, err := newHubClient(cfg)
	if err != nil {
		return err
	}
	if creds.Token == "" {
		return errNotLoggedIn
	}

	conversationID := args[0]
	body := strings.Join(args[1:], " ")
	if err := chat.ValidateBody(body); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Hub.RequestTimeout)
	defer cancel()

	msgID, err := client.SendMessage(ctx, conversationID, creds.UserID, body)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("sent %s\n", msgID)
	return nil
}
