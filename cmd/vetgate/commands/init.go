package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vetgate/vetgate/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfgFile); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", cfgFile)
			}

			cfg := config.Defaults()
			if err := cfg.Save(cfgFile); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			fmt.Printf("Wrote %s\n", cfgFile)
			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Println("  vetgate keygen --user <caller-id>   generate caller keypairs")
			fmt.Println("  vetgate serve                       start the gateway")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
