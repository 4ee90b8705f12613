package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattisv/tradetalk/internal/chat"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations with unread counts",
	RunE:    runConversations,
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
}

func runConversations(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	client, creds, err := newHubClient(cfg)
	if err != nil {
		return err
	}
	if creds.Token == "" {
		return errNotLoggedIn
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Hub.RequestTimeout)
	defer cancel()

	summaries, err := client.ConversationSummaries(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("no conversations")
		return nil
	}

	headers := []string{"ID", "COUNTERPARTY", "JOB", "UNREAD", "LAST ACTIVITY"}
	rows := make([][]string, 0, len(summaries))
	for _, conv := range summaries {
		rows = append(rows, []string{
			conv.ID,
			partyLabel(conv.Counterparty),
			conv.Counterparty.JobTitle,
			strconv.Itoa(conv.UnreadCount),
			formatLastActivity(conv.LastActivityAt),
		})
	}
	if err := writeTable(os.Stdout, headers, rows); err != nil {
		return err
	}
	if total := chat.TotalUnread(summaries); total > 0 {
		fmt.Printf("\n%d unread\n", total)
	}
	return nil
}

func partyLabel(p chat.Party) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.ID != "" {
		return p.ID
	}
	return "unknown contact"
}

func formatLastActivity(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
