package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vetgate/vetgate/internal/anomaly"
	"github.com/vetgate/vetgate/internal/auditchain"
	"github.com/vetgate/vetgate/internal/config"
	"github.com/vetgate/vetgate/internal/content"
	"github.com/vetgate/vetgate/internal/identity"
	mcpserver "github.com/vetgate/vetgate/internal/mcp"
	"github.com/vetgate/vetgate/internal/pipeline"
	"github.com/vetgate/vetgate/internal/ratelimit"
	"github.com/vetgate/vetgate/internal/revocation"
	"github.com/vetgate/vetgate/internal/ssrf"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start vetgate as an MCP server (stdio)",
		Long: `Exposes vetgate as an MCP tool server. Add to your MCP client config:

  {
    "mcpServers": {
      "vetgate": {
        "command": "vetgate",
        "args": ["mcp", "--config", "./vetgate.yaml"]
      }
    }
  }

Tools: evaluate_request, verify_chain, revocation_list, audit_query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				cfg = config.Defaults()
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

			systemKey, err := identity.LoadKeypair(cfg.Identity.KeysDir, cfg.Identity.SystemKeyName)
			if err != nil {
				kp, genErr := identity.GenerateKeypair(cfg.Identity.SystemKeyName)
				if genErr != nil {
					return fmt.Errorf("generating system keypair: %w", genErr)
				}
				systemKey = kp
			}

			keys := identity.NewKeyStore()
			if err := keys.LoadFromDir(cfg.Identity.KeysDir); err != nil {
				logger.Warn("loading keys", "dir", cfg.Identity.KeysDir, "error", err)
			}

			revocations := revocation.NewRegistry(15*time.Minute, logger)

			levels := make([]ratelimit.Level, 0, len(cfg.RateLimit.DDoS))
			for _, l := range cfg.RateLimit.DDoS {
				levels = append(levels, ratelimit.Level{
					Threshold: l.Threshold,
					Duration:  time.Duration(l.BlockS) * time.Second,
				})
			}

			comps := pipeline.Components{
				Identity: identity.NewService(keys, revocations,
					time.Duration(cfg.Identity.NonceWindowS)*time.Second, logger),
				Revocations: revocations,
				Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryStore(),
					time.Duration(cfg.RateLimit.WindowS)*time.Second,
					cfg.RateLimit.MaxRequests, cfg.RateLimit.BurstAllowance, levels, logger),
				SSRF: ssrf.NewValidator(cfg.SSRF.AllowedHosts, cfg.SSRF.DeniedHosts,
					time.Duration(cfg.SSRF.ResolveTimeoutS)*time.Second, logger,
					ssrf.WithDeniedCIDRs(cfg.SSRF.DeniedCIDRs)),
				Content: content.NewVerifier(cfg.Content.EntropyThreshold, cfg.Content.EntropyMinLen,
					content.NewAguaraScorer(cfg.Content.CustomRulesDir), logger),
				Anomaly: anomaly.NewDetector(cfg.Anomaly.ScoreThreshold, cfg.Anomaly.MinSamples,
					time.Duration(cfg.Anomaly.WindowHours)*time.Hour, logger),
			}
			gates, err := pipeline.BuildGates(cfg, comps)
			if err != nil {
				return err
			}

			chain, err := auditchain.Open(cfg.Audit.ChainPath, systemKey.PrivateKey, nil, logger)
			if err != nil {
				return fmt.Errorf("opening audit chain: %w", err)
			}
			defer func() { _ = chain.Close() }()

			index, err := auditchain.NewSQLiteIndex(cfg.Audit.IndexPath, logger)
			if err != nil {
				return fmt.Errorf("opening decision index: %w", err)
			}
			defer func() { _ = index.Close() }()

			orch := pipeline.NewOrchestrator(gates, chain, index, nil, logger)
			s := mcpserver.NewServer(orch, cfg.Audit.ChainPath, systemKey.PublicKey, revocations, index, logger)
			return mcpserver.Serve(s)
		},
	}
}
