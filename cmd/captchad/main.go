// Command captchad runs a demo server whose routes are protected by the
// captcha gate, and verifies single tokens from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bluescreen10/captchax/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "captchad <command>",
	Short:        "Captcha protected demo server and verification tool",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CAPTCHAX_CONFIG"), "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default .env when present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
}

func newLogger(c *config.Config) (*slog.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
