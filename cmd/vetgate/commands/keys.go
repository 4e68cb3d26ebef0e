package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vetgate/vetgate/internal/config"
	"github.com/vetgate/vetgate/internal/identity"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage caller keypairs",
	}

	cmd.AddCommand(newKeysListCmd())
	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered caller keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				cfg = config.Defaults()
			}

			if cfg.Identity.KeysDir == "" {
				return fmt.Errorf("no keys_dir configured")
			}

			records, err := identity.LoadPublicRecords(cfg.Identity.KeysDir)
			if err != nil {
				return fmt.Errorf("loading keys: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("No keys found. Generate one with: vetgate keygen --user <name>")
				return nil
			}

			names := make([]string, 0, len(records))
			for name := range records {
				names = append(names, name)
			}
			sort.Strings(names)

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "USER\tCLEARANCE\tFINGERPRINT\tISSUED\n") //nolint:errcheck // CLI output
			for _, name := range names {
				rec := records[name]
				fp := identity.Fingerprint(rec.PublicKey)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", //nolint:errcheck // CLI output
					rec.UserID, rec.Clearance, fp[:16]+"...", rec.IssuedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}
