// Package mcp exposes the gate pipeline as MCP tools so agent runtimes
// can ask vetgate for a verdict before executing a request.
package mcp

import (
	"crypto/ed25519"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/vetgate/vetgate/internal/auditchain"
	"github.com/vetgate/vetgate/internal/pipeline"
	"github.com/vetgate/vetgate/internal/revocation"
)

// NewServer creates an MCP server exposing vetgate tools.
func NewServer(orch *pipeline.Orchestrator, chainPath string, chainKey ed25519.PublicKey,
	revocations *revocation.Registry, index auditchain.Index, logger *slog.Logger) *server.MCPServer {

	s := server.NewMCPServer(
		"vetgate",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithInstructions(
			"Vetgate is a request-validation gateway. Use evaluate_request to run "+
				"a proposed action through the full security gate pipeline before "+
				"executing it, verify_chain to check audit log integrity, and the "+
				"remaining tools to inspect revocations and past decisions.",
		),
	)

	h := &handlers{
		orch:        orch,
		chainPath:   chainPath,
		chainKey:    chainKey,
		revocations: revocations,
		index:       index,
		logger:      logger,
	}

	s.AddTool(evaluateRequestTool(), h.handleEvaluateRequest)
	s.AddTool(verifyChainTool(), h.handleVerifyChain)
	s.AddTool(revocationListTool(), h.handleRevocationList)
	s.AddTool(auditQueryTool(), h.handleAuditQuery)

	return s
}

// Serve runs the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
