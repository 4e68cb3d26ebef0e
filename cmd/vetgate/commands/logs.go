package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vetgate/vetgate/internal/auditchain"
	"github.com/vetgate/vetgate/internal/config"
)

func newLogsCmd() *cobra.Command {
	var outcome, caller, action, since string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query past gate decisions",
		Example: `  vetgate logs
  vetgate logs --outcome QUARANTINED
  vetgate logs --caller svc-reporting --since 1h
  vetgate logs --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				cfg = config.Defaults()
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			index, err := auditchain.NewSQLiteIndex(cfg.Audit.IndexPath, logger)
			if err != nil {
				return fmt.Errorf("opening decision index: %w", err)
			}
			defer index.Close() //nolint:errcheck // best-effort cleanup

			var sinceTime string
			if since != "" {
				dur, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", since, err)
				}
				sinceTime = time.Now().Add(-dur).UTC().Format(time.RFC3339)
			}

			entries, err := index.Query(auditchain.QueryOpts{
				Outcome: outcome,
				Caller:  caller,
				Action:  action,
				Since:   sinceTime,
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Println("No decisions found.")
				return nil
			}

			if !term.IsTerminal(int(os.Stdout.Fd())) {
				color.NoColor = true
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TIME\tCALLER\tACTION\tOUTCOME\tCRITICAL\n") //nolint:errcheck // CLI output
			for _, e := range entries {
				who := e.CallerID
				if who == "" {
					who = e.SourceAddress
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", //nolint:errcheck // CLI output
					e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					who, e.Action, colorOutcome(e.Outcome), e.CriticalFailures)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome: ALLOWED, QUARANTINED, DENIED")
	cmd.Flags().StringVar(&caller, "caller", "", "filter by caller ID")
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().StringVar(&since, "since", "", "only decisions newer than this duration, e.g. 1h")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to return")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output raw JSON")
	return cmd
}

func colorOutcome(outcome string) string {
	switch outcome {
	case "ALLOWED":
		return color.GreenString(outcome)
	case "QUARANTINED":
		return color.YellowString(outcome)
	case "DENIED":
		return color.RedString(outcome)
	default:
		return outcome
	}
}
