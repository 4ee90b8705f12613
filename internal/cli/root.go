// Package cli implements the tradetalk command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattisv/tradetalk/internal/config"
	"github.com/mattisv/tradetalk/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	hubAddr   string

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "tradetalk",
	Short:         "Chat with the other side of a job",
	Long:          "tradetalk keeps homeowners and traders talking: conversation list, per-job chat, unread tracking.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Bare invocation opens the conversation list TUI.
		return runChat(cmd, chatOptions{})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/tradetalk/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging format (json, console)")
	rootCmd.PersistentFlags().StringVar(&hubAddr, "hub", "", "hub address (host:port)")
}

// Execute runs the CLI.
func Execute(version string) error {
	rootCmd.Version = version
	return rootCmd.Execute()
}

// GetConfig returns the loaded configuration, or nil before initConfig.
func GetConfig() *config.Config {
	return appConfig
}

func initConfig() error {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if hubAddr != "" {
		cfg.Hub.Addr = hubAddr
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       os.Stderr,
		EnableCaller: cfg.Logging.EnableCaller,
	})

	appConfig = cfg
	return nil
}
