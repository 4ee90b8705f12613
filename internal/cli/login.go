package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mattisv/tradetalk/internal/config"
	"github.com/mattisv/tradetalk/internal/hub"
	"github.com/mattisv/tradetalk/internal/logging"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the hub and save the session",
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email (prompted if omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	email := strings.TrimSpace(loginEmail)
	if email == "" {
		fmt.Print("email: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}

	password, err := readPassword()
	if err != nil {
		return err
	}

	client := hub.NewClient(hub.ClientConfig{
		Addr:           cfg.Hub.Addr,
		DialTimeout:    cfg.Hub.DialTimeout,
		RequestTimeout: cfg.Hub.RequestTimeout,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	creds, err := client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	store := config.DefaultSessionStore()
	saved := &config.SavedSession{
		UserID:    creds.UserID,
		Email:     email,
		Token:     creds.Token,
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.Save(saved); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	userLog := logging.WithUser(creds.UserID)
	userLog.Info().Msg("logged in")
	fmt.Printf("logged in as %s\n", email)
	return nil
}

// readPassword reads the password without echo when attached to a
// terminal, falling back to a plain line read for piped input.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.DefaultSessionStore()
		if err := store.Clear(); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		fmt.Println("logged out")
		return nil
	},
}
