package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vetgate/vetgate/internal/auditchain"
	"github.com/vetgate/vetgate/internal/config"
	"github.com/vetgate/vetgate/internal/identity"
)

func newVerifyCmd() *cobra.Command {
	var chainPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify audit chain integrity offline",
		Long:  "Walks the audit chain and checks every hash link and Ed25519 signature against the system public key. Reports the first tampered entry if the chain is broken.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				cfg = config.Defaults()
			}
			if chainPath == "" {
				chainPath = cfg.Audit.ChainPath
			}

			rec, err := identity.LoadPublicRecord(cfg.Identity.KeysDir, cfg.Identity.SystemKeyName)
			if err != nil {
				return fmt.Errorf("loading system public key: %w", err)
			}

			report, err := auditchain.VerifyFile(chainPath, rec.PublicKey)
			if err != nil {
				return err
			}

			if !term.IsTerminal(int(os.Stdout.Fd())) {
				color.NoColor = true
			}
			ok := color.New(color.FgGreen, color.Bold)
			bad := color.New(color.FgRed, color.Bold)

			if report.Valid {
				ok.Printf("VALID") //nolint:errcheck // CLI output
				fmt.Printf("  %d entries, every link and signature checks out\n", report.Entries)
				return nil
			}

			bad.Printf("TAMPERED") //nolint:errcheck // CLI output
			fmt.Printf("  entry %d: %s\n", report.TamperedAt, report.Reason)
			fmt.Printf("  %d entries before the break are intact\n", report.Entries)
			return fmt.Errorf("audit chain failed verification")
		},
	}

	cmd.Flags().StringVar(&chainPath, "chain", "", "chain file to verify (default: audit.chain_path from config)")
	return cmd
}
