package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vetgate/vetgate/internal/auditchain"
	"github.com/vetgate/vetgate/internal/config"
	"github.com/vetgate/vetgate/internal/identity"
	"github.com/vetgate/vetgate/internal/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway configuration and audit summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			fmt.Println()
			fmt.Println("  vetgate status")
			fmt.Println("  ────────────────────────────────────────")
			fmt.Printf("  Bind:          %s:%d\n", cfg.Server.Bind, cfg.Server.Port)
			fmt.Printf("  Config:        %s\n", cfgFile)
			fmt.Printf("  Chain:         %s\n", cfg.Audit.ChainPath)
			fmt.Printf("  Floors:        %d clearance rules\n", len(cfg.Gates.MinClearance))
			if len(cfg.Gates.Disabled) > 0 {
				fmt.Printf("  Disabled:      %v\n", cfg.Gates.Disabled)
			}

			// Key stats
			if cfg.Identity.KeysDir != "" {
				keys := identity.NewKeyStore()
				if err := keys.LoadFromDir(cfg.Identity.KeysDir); err == nil {
					fmt.Printf("  Keys:          %d loaded\n", keys.Count())
				}
			}

			// Chain stats
			entries, err := auditchain.ReadAll(cfg.Audit.ChainPath)
			if err == nil && len(entries) > 0 {
				fmt.Printf("  Entries:       %d\n", len(entries))
				fmt.Printf("  Head:          %s...\n", entries[len(entries)-1].CurrentHash[:16])
			}

			// Decision stats
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			index, err := auditchain.NewSQLiteIndex(cfg.Audit.IndexPath, logger)
			if err == nil {
				defer index.Close() //nolint:errcheck // best-effort cleanup

				all, _ := index.Query(auditchain.QueryOpts{Limit: 100000})
				var allowed, quarantined, denied int
				for _, e := range all {
					switch model.Outcome(e.Outcome) {
					case model.OutcomeAllowed:
						allowed++
					case model.OutcomeQuarantined:
						quarantined++
					case model.OutcomeDenied:
						denied++
					}
				}

				fmt.Println("  ────────────────────────────────────────")
				fmt.Printf("  Decisions:     %d\n", len(all))
				fmt.Printf("  Allowed:       %d\n", allowed)
				fmt.Printf("  Quarantined:   %d\n", quarantined)
				fmt.Printf("  Denied:        %d\n", denied)
			}

			fmt.Println()
			return nil
		},
	}
}
