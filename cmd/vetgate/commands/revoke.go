package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vetgate/vetgate/internal/config"
	"github.com/vetgate/vetgate/sdk"
)

func newRevokeCmd() *cobra.Command {
	var tokenID, userID, reason, server string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a token or every token of a user",
		Long:  "Revocation takes effect on the next decision the gateway makes; there is no grace period.",
		Example: `  vetgate revoke --token tok-8f2e --reason "leaked in logs"
  vetgate revoke --user svc-batch --reason "credential rotation"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokenID == "" && userID == "" {
				return fmt.Errorf("--token or --user is required")
			}
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}

			if server == "" {
				cfg, err := config.Load(cfgFile)
				if err != nil {
					cfg = config.Defaults()
				}
				bind := cfg.Server.Bind
				if bind == "" {
					bind = "127.0.0.1"
				}
				server = fmt.Sprintf("http://%s:%d", bind, cfg.Server.Port)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			c := sdk.NewClient(server, "", nil)
			list, err := c.Revoke(ctx, tokenID, userID, reason)
			if err != nil {
				return fmt.Errorf("revoking (is the gateway running at %s?): %w", server, err)
			}

			fmt.Printf("Revocation list version %d\n", list.Version)
			fmt.Printf("  Revoked tokens: %d\n", len(list.Tokens))
			fmt.Printf("  Revoked users:  %d\n", len(list.Users))
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenID, "token", "", "token ID to revoke")
	cmd.Flags().StringVar(&userID, "user", "", "user whose tokens should all be revoked")
	cmd.Flags().StringVar(&reason, "reason", "", "why the credentials are being revoked")
	cmd.Flags().StringVar(&server, "server", "", "gateway base URL (default: from config)")
	return cmd
}
