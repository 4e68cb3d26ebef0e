package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "vetgate",
		Short: "Request-validation security gateway",
		Long:  "Vetgate — every inbound request runs through signature verification, revocation, rate limiting, SSRF validation, content screening, and anomaly scoring, with a hash-chained audit trail. Single binary.",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "vetgate.yaml", "config file path")

	root.AddCommand(
		newServeCmd(),
		newKeygenCmd(),
		newKeysCmd(),
		newVerifyCmd(),
		newRevokeCmd(),
		newLogsCmd(),
		newStatusCmd(),
		newInitCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)

	return root
}
