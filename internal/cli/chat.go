package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattisv/tradetalk/internal/session"
	"github.com/mattisv/tradetalk/internal/tui"
)

type chatOptions struct {
	jobID        string
	counterparty string
	prefill      string
}

var chatOpts chatOptions

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the chat TUI",
	Long: `Open the interactive chat screen. With --job set the client jumps
straight into the conversation for that job, creating one if none exists,
which is how the payment flow hands off into chat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, chatOpts)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatOpts.jobID, "job", "", "jump into the conversation for this job id")
	chatCmd.Flags().StringVar(&chatOpts.counterparty, "with", "", "counterparty display name shown while the conversation loads")
	chatCmd.Flags().StringVar(&chatOpts.prefill, "prefill", "", "pre-filled draft for the input field")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, opts chatOptions) error {
	cfg := GetConfig()
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.shutdown()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := eng.dir.Start(ctx); err != nil {
		return fmt.Errorf("start directory cache: %w", err)
	}

	var entry *session.PaymentEntry
	if strings.TrimSpace(opts.jobID) != "" {
		entry = &session.PaymentEntry{
			JobID:            opts.jobID,
			CounterpartyName: opts.counterparty,
			Prefill:          opts.prefill,
		}
	} else if opts.counterparty != "" || opts.prefill != "" {
		return fmt.Errorf("--with and --prefill require --job")
	}

	return tui.Run(tui.Config{
		Theme:          cfg.TUI.Theme,
		ShowTimestamps: cfg.TUI.ShowTimestamps,
		CompactMode:    cfg.TUI.CompactMode,
	}, tui.Deps{
		Session:   eng.sess,
		Directory: eng.dir,
		Unread:    eng.counter,
		Bus:       eng.bus,
		Entry:     entry,
	})
}
