package mcp

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/vetgate/vetgate/internal/auditchain"
	"github.com/vetgate/vetgate/internal/model"
	"github.com/vetgate/vetgate/internal/pipeline"
	"github.com/vetgate/vetgate/internal/revocation"
)

type handlers struct {
	orch        *pipeline.Orchestrator
	chainPath   string
	chainKey    ed25519.PublicKey
	revocations *revocation.Registry
	index       auditchain.Index
	logger      *slog.Logger
}

// --- Tool definitions ---

func evaluateRequestTool() mcplib.Tool {
	return mcplib.NewTool("evaluate_request",
		mcplib.WithDescription(
			"Run a proposed action through every security gate: signature "+
				"verification, revocation, rate limiting, outbound URL validation, "+
				"content screening, clearance, and anomaly scoring. Returns the "+
				"outcome (ALLOWED, QUARANTINED, DENIED) with per-gate results.",
		),
		mcplib.WithString("action",
			mcplib.Required(),
			mcplib.Description("Action verb, e.g. db.query or files.write"),
		),
		mcplib.WithString("caller_id",
			mcplib.Description("Caller identity; omit for anonymous requests"),
		),
		mcplib.WithString("resource",
			mcplib.Description("Resource the action targets"),
		),
		mcplib.WithString("payload",
			mcplib.Description("Request payload to screen for injection patterns"),
		),
		mcplib.WithString("target_url",
			mcplib.Description("Outbound URL the request wants to reach"),
		),
		mcplib.WithString("clearance",
			mcplib.Description("Claimed clearance: PUBLIC, ALPHA, BETA, GAMMA, or OMEGA"),
		),
		mcplib.WithString("signature",
			mcplib.Description("Base64 Ed25519 signature over signed_message"),
		),
		mcplib.WithString("signed_message",
			mcplib.Description("Message the signature covers"),
		),
		mcplib.WithReadOnlyHintAnnotation(false),
		mcplib.WithDestructiveHintAnnotation(false),
		mcplib.WithOpenWorldHintAnnotation(false),
	)
}

func verifyChainTool() mcplib.Tool {
	return mcplib.NewTool("verify_chain",
		mcplib.WithDescription(
			"Walk the audit chain and verify every hash link and signature. "+
				"Reports the index of the first tampered entry if the chain is broken.",
		),
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithDestructiveHintAnnotation(false),
		mcplib.WithOpenWorldHintAnnotation(false),
	)
}

func revocationListTool() mcplib.Tool {
	return mcplib.NewTool("revocation_list",
		mcplib.WithDescription(
			"Export the current revocation list: revoked tokens, revoked users, "+
				"list version, and the next-update hint.",
		),
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithDestructiveHintAnnotation(false),
		mcplib.WithOpenWorldHintAnnotation(false),
	)
}

func auditQueryTool() mcplib.Tool {
	return mcplib.NewTool("audit_query",
		mcplib.WithDescription(
			"Query past gate decisions. Returns entries with outcome, caller, "+
				"action, and per-gate results.",
		),
		mcplib.WithString("outcome",
			mcplib.Description("Filter by outcome: ALLOWED, QUARANTINED, DENIED"),
		),
		mcplib.WithString("caller",
			mcplib.Description("Filter by caller ID"),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum entries to return (default 20)"),
		),
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithDestructiveHintAnnotation(false),
		mcplib.WithOpenWorldHintAnnotation(false),
	)
}

// --- Handlers ---

func (h *handlers) handleEvaluateRequest(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	action := request.GetString("action", "")
	if action == "" {
		return mcplib.NewToolResultError("action is required"), nil
	}

	clearance := model.ClearancePublic
	if c := request.GetString("clearance", ""); c != "" {
		parsed, err := model.ParseClearance(c)
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		clearance = parsed
	}

	sc := &model.SecurityContext{
		CallerID:      request.GetString("caller_id", ""),
		SourceAddress: "mcp",
		Timestamp:     time.Now().UTC(),
		Clearance:     clearance,
		Action:        action,
		Resource:      request.GetString("resource", ""),
		Payload:       request.GetString("payload", ""),
		TargetURL:     request.GetString("target_url", ""),
		Signature:     request.GetString("signature", ""),
		SignedMessage: request.GetString("signed_message", ""),
	}

	decision, err := h.orch.Process(ctx, sc)
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
	}

	result := map[string]any{
		"request_id":   sc.RequestID,
		"outcome":      decision.Outcome,
		"allowed":      decision.Allowed,
		"gate_results": decision.Results,
	}
	if decision.Entry != nil {
		result["audit_entry_id"] = decision.Entry.EntryID
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	return mcplib.NewToolResultText(string(data)), nil
}

func (h *handlers) handleVerifyChain(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	report, err := auditchain.VerifyFile(h.chainPath, h.chainKey)
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf("verification failed: %v", err)), nil
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	return mcplib.NewToolResultText(string(data)), nil
}

func (h *handlers) handleRevocationList(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	data, _ := json.MarshalIndent(h.revocations.Export(), "", "  ")
	return mcplib.NewToolResultText(string(data)), nil
}

func (h *handlers) handleAuditQuery(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 0)
	if limit <= 0 {
		limit = 20
	}

	entries, err := h.index.Query(auditchain.QueryOpts{
		Outcome: request.GetString("outcome", ""),
		Caller:  request.GetString("caller", ""),
		Limit:   limit,
	})
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	data, _ := json.MarshalIndent(entries, "", "  ")
	return mcplib.NewToolResultText(string(data)), nil
}
