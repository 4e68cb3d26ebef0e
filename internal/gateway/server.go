// Package gateway serves the decision API: one endpoint that runs the
// full gate pipeline, plus revocation, audit query, health, and metrics
// surfaces.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vetgate/vetgate/internal/anomaly"
	"github.com/vetgate/vetgate/internal/auditchain"
	"github.com/vetgate/vetgate/internal/config"
	"github.com/vetgate/vetgate/internal/content"
	"github.com/vetgate/vetgate/internal/identity"
	"github.com/vetgate/vetgate/internal/metrics"
	"github.com/vetgate/vetgate/internal/model"
	"github.com/vetgate/vetgate/internal/pipeline"
	"github.com/vetgate/vetgate/internal/ratelimit"
	"github.com/vetgate/vetgate/internal/revocation"
	"github.com/vetgate/vetgate/internal/ssrf"
)

// Server is the vetgate HTTP gateway.
type Server struct {
	cfg         *config.Config
	srv         *http.Server
	ln          net.Listener
	orch        *pipeline.Orchestrator
	chain       *auditchain.Chain
	index       auditchain.Index
	limiter     *ratelimit.Limiter
	redisStore  *ratelimit.RedisStore
	revocations *revocation.Registry
	identity    *identity.Service
	detector    *anomaly.Detector
	metrics     *metrics.Metrics
	logger      *slog.Logger

	baselineCancel context.CancelFunc
}

// NewServer wires every component from config and binds the listener.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	keys := identity.NewKeyStore()
	if cfg.Identity.KeysDir != "" {
		if err := keys.LoadFromDir(cfg.Identity.KeysDir); err != nil {
			logger.Warn("could not load caller keys", "dir", cfg.Identity.KeysDir, "error", err)
		} else {
			logger.Info("loaded caller keys", "count", keys.Count())
		}
	}

	systemKey, err := loadOrCreateSystemKey(cfg, logger)
	if err != nil {
		return nil, err
	}

	revocations := revocation.NewRegistry(15*time.Minute, logger)
	identitySvc := identity.NewService(keys, revocations,
		time.Duration(cfg.Identity.NonceWindowS)*time.Second, logger)

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	var redisStore *ratelimit.RedisStore
	if cfg.RateLimit.RedisAddr != "" {
		redisStore, err = ratelimit.NewRedisStore(cfg.RateLimit.RedisAddr,
			time.Duration(cfg.RateLimit.WindowS)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		store = redisStore
		logger.Info("rate limit counters in redis", "addr", cfg.RateLimit.RedisAddr)
	}

	levels := make([]ratelimit.Level, 0, len(cfg.RateLimit.DDoS))
	for _, l := range cfg.RateLimit.DDoS {
		levels = append(levels, ratelimit.Level{
			Threshold: l.Threshold,
			Duration:  time.Duration(l.BlockS) * time.Second,
		})
	}
	limiter := ratelimit.NewLimiter(store,
		time.Duration(cfg.RateLimit.WindowS)*time.Second,
		cfg.RateLimit.MaxRequests, cfg.RateLimit.BurstAllowance, levels, logger)

	validator := ssrf.NewValidator(cfg.SSRF.AllowedHosts, cfg.SSRF.DeniedHosts,
		time.Duration(cfg.SSRF.ResolveTimeoutS)*time.Second, logger,
		ssrf.WithDeniedCIDRs(cfg.SSRF.DeniedCIDRs))

	scorer := content.NewAguaraScorer(cfg.Content.CustomRulesDir)
	verifier := content.NewVerifier(cfg.Content.EntropyThreshold, cfg.Content.EntropyMinLen, scorer, logger)

	detector := anomaly.NewDetector(cfg.Anomaly.ScoreThreshold, cfg.Anomaly.MinSamples,
		time.Duration(cfg.Anomaly.WindowHours)*time.Hour, logger)

	fallback, err := auditchain.NewFallback(cfg.Audit.FallbackPath, logger)
	if err != nil {
		return nil, err
	}
	chain, err := auditchain.Open(cfg.Audit.ChainPath, systemKey.PrivateKey, fallback, logger)
	if err != nil {
		return nil, err
	}

	var index auditchain.Index
	if cfg.Audit.PostgresDSN != "" {
		index, err = auditchain.NewPostgresIndex(context.Background(), cfg.Audit.PostgresDSN, logger)
	} else {
		index, err = auditchain.NewSQLiteIndex(cfg.Audit.IndexPath, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("opening decision index: %w", err)
	}

	m := metrics.New()

	gates, err := pipeline.BuildGates(cfg, pipeline.Components{
		Identity:    identitySvc,
		Revocations: revocations,
		Limiter:     limiter,
		SSRF:        validator,
		Content:     verifier,
		Anomaly:     detector,
	})
	if err != nil {
		return nil, err
	}
	orch := pipeline.NewOrchestrator(gates, chain, index, m, logger)

	s := &Server{
		cfg:         cfg,
		orch:        orch,
		chain:       chain,
		index:       index,
		limiter:     limiter,
		redisStore:  redisStore,
		revocations: revocations,
		identity:    identitySvc,
		detector:    detector,
		metrics:     m,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/decisions", s.handleDecision)
	mux.HandleFunc("GET /v1/revocations", s.handleRevocationList)
	mux.HandleFunc("POST /v1/revocations", s.handleRevoke)
	mux.HandleFunc("GET /v1/audit", s.handleAuditQuery)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", m.Handler())

	var h http.Handler = mux
	h = securityHeaders(h)
	h = logging(logger)(h)
	h = recovery(logger)(h)
	h = requestID(h)
	if cfg.Tracing.Enabled {
		h = otelhttp.NewHandler(h, "vetgate")
	}

	bind := cfg.Server.Bind
	if bind == "" {
		bind = "127.0.0.1"
	}
	ln, actualPort, err := listenAutoPort(bind, cfg.Server.Port, logger)
	if err != nil {
		return nil, fmt.Errorf("binding port: %w", err)
	}
	cfg.Server.Port = actualPort

	s.ln = ln
	s.srv = &http.Server{
		Handler:        h,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s, nil
}

func loadOrCreateSystemKey(cfg *config.Config, logger *slog.Logger) (*identity.Keypair, error) {
	kp, err := identity.LoadKeypair(cfg.Identity.KeysDir, cfg.Identity.SystemKeyName)
	if err == nil {
		return kp, nil
	}

	logger.Info("generating system signing key", "name", cfg.Identity.SystemKeyName)
	kp, err = identity.GenerateKeypair(cfg.Identity.SystemKeyName)
	if err != nil {
		return nil, fmt.Errorf("generating system key: %w", err)
	}
	if err := kp.Save(cfg.Identity.KeysDir, model.ClearanceOmega); err != nil {
		return nil, fmt.Errorf("saving system key: %w", err)
	}
	return kp, nil
}

// Start serves requests until the listener closes. The baseline
// refresher runs alongside it.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.baselineCancel = cancel
	go s.baselineLoop(ctx)

	s.logger.Info("gateway listening",
		"addr", s.ln.Addr().String(), "gates", s.orch.Gates())
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// baselineLoop recomputes per-caller velocity baselines once a minute.
func (s *Server) baselineLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.detector.UpdateBaselines()
			s.metrics.SetChainLength(s.chain.Length())
		}
	}
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.cfg.Server.Port
}

// Revocations exposes the registry for administrative commands.
func (s *Server) Revocations() *revocation.Registry {
	return s.revocations
}

// ReloadKeys re-reads the caller key directory.
func (s *Server) ReloadKeys() error {
	if s.cfg.Identity.KeysDir == "" {
		return nil
	}
	if err := s.identity.Keys().ReloadFromDir(s.cfg.Identity.KeysDir); err != nil {
		return fmt.Errorf("reloading keys: %w", err)
	}
	s.logger.Info("caller keys reloaded", "count", s.identity.Keys().Count())
	return nil
}

// Shutdown stops the server and flushes the audit chain and index.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.baselineCancel != nil {
		s.baselineCancel()
	}
	err := s.srv.Shutdown(ctx)
	if cerr := s.index.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := s.chain.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if s.redisStore != nil {
		if cerr := s.redisStore.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// listenAutoPort tries the configured port; if busy, scans up to 10
// higher ports.
func listenAutoPort(bind string, port int, logger *slog.Logger) (net.Listener, int, error) {
	addr := fmt.Sprintf("%s:%d", bind, port)
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		actual := ln.Addr().(*net.TCPAddr).Port
		return ln, actual, nil
	}

	if !errors.Is(err, syscall.EADDRINUSE) {
		return nil, 0, err
	}

	logger.Warn("port in use, searching for available port", "port", port)
	for offset := 1; offset <= 10; offset++ {
		tryPort := port + offset
		ln, err = net.Listen("tcp", fmt.Sprintf("%s:%d", bind, tryPort))
		if err == nil {
			logger.Info("using alternative port", "original", port, "actual", tryPort)
			return ln, tryPort, nil
		}
	}
	return nil, 0, fmt.Errorf("port %d and next 10 ports are all in use", port)
}
