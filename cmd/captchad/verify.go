package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bluescreen10/captchax/recaptcha"
	"github.com/spf13/cobra"
)

var (
	verifyToken    string
	verifyRemoteIP string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a single response token and print the result as JSON",
	Long: `Verify a single response token with the configured secret and endpoint.

Exits with status 1 when the challenge failed or the service could not be
asked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Secret == "" {
			return errors.New("CAPTCHAX_SECRET is required")
		}

		res, err := recaptcha.Check(cmd.Context(), cfg.Secret, verifyToken, verifyRemoteIP,
			recaptcha.WithEndpoint(cfg.Endpoint),
			recaptcha.WithTimeout(cfg.Timeout.Duration),
		)
		if err != nil {
			return fmt.Errorf("verifying token: %w", err)
		}

		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))

		if !res.Success {
			return fmt.Errorf("challenge failed: %s", strings.Join(res.ErrorCodes, ", "))
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyToken, "token", "", "response token to verify")
	verifyCmd.Flags().StringVar(&verifyRemoteIP, "remote-ip", "", "client address sent along with the token")
	verifyCmd.MarkFlagRequired("token")
}
