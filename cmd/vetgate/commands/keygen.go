package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vetgate/vetgate/internal/identity"
	"github.com/vetgate/vetgate/internal/model"
)

func newKeygenCmd() *cobra.Command {
	var users []string
	var outDir string
	var clearanceName string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate Ed25519 keypairs for callers",
		Example: `  vetgate keygen --user svc-reporting --out ./keys/
  vetgate keygen --user svc-a --user svc-b --clearance BETA --out ./keys/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(users) == 0 {
				return fmt.Errorf("at least one --user is required")
			}

			clearance, err := model.ParseClearance(clearanceName)
			if err != nil {
				return err
			}

			for _, name := range users {
				kp, err := identity.GenerateKeypair(name)
				if err != nil {
					return fmt.Errorf("generating keypair for %s: %w", name, err)
				}
				if err := kp.Save(outDir, clearance); err != nil {
					return fmt.Errorf("saving keypair for %s: %w", name, err)
				}
				fp := identity.Fingerprint(kp.PublicKey)
				fmt.Printf("Generated keypair for %s (%s)\n", name, clearance)
				fmt.Printf("  Private: %s/%s.key\n", outDir, name)
				fmt.Printf("  Public:  %s/%s.pub\n", outDir, name)
				fmt.Printf("  Fingerprint: %s\n\n", fp[:16]+"...")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&users, "user", nil, "caller name(s) to generate keys for")
	cmd.Flags().StringVar(&outDir, "out", "./keys", "output directory for keys")
	cmd.Flags().StringVar(&clearanceName, "clearance", "PUBLIC", "clearance level: PUBLIC, ALPHA, BETA, GAMMA, OMEGA")
	return cmd
}
