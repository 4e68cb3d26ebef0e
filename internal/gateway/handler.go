package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vetgate/vetgate/internal/auditchain"
	"github.com/vetgate/vetgate/internal/model"
)

const maxBodyBytes = 4 << 20

// DecisionRequest is the POST /v1/decisions body.
type DecisionRequest struct {
	CallerID      string `json:"caller_id,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
	TokenID       string `json:"token_id,omitempty"`
	Clearance     string `json:"clearance,omitempty"`
	Action        string `json:"action"`
	Resource      string `json:"resource,omitempty"`
	Payload       string `json:"payload,omitempty"`
	TargetURL     string `json:"target_url,omitempty"`
	Signature     string `json:"signature,omitempty"`
	SignedMessage string `json:"signed_message,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
}

// DecisionResponse is returned for every evaluated request.
type DecisionResponse struct {
	RequestID   string             `json:"request_id"`
	Outcome     model.Outcome      `json:"outcome"`
	Allowed     bool               `json:"allowed"`
	GateResults []model.GateResult `json:"gate_results"`
	EntryID     string             `json:"audit_entry_id,omitempty"`
	ChainHash   string             `json:"chain_hash,omitempty"`
	RetryAfterS int                `json:"retry_after_s,omitempty"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action is required"})
		return
	}

	clearance := model.ClearancePublic
	if req.Clearance != "" {
		var err error
		clearance, err = model.ParseClearance(req.Clearance)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	sc := &model.SecurityContext{
		RequestID:     uuid.NewString(),
		CallerID:      req.CallerID,
		AgentID:       req.AgentID,
		TokenID:       req.TokenID,
		SourceAddress: remoteAddr(r),
		UserAgent:     r.UserAgent(),
		Timestamp:     time.Now().UTC(),
		Clearance:     clearance,
		Action:        req.Action,
		Resource:      req.Resource,
		Payload:       req.Payload,
		TargetURL:     req.TargetURL,
		Signature:     req.Signature,
		SignedMessage: req.SignedMessage,
		ContentType:   req.ContentType,
	}

	// Volumetric blocks short-circuit before the pipeline runs, but the
	// rejection is still chained.
	ddos, err := s.limiter.CheckDDoS(r.Context(), sc.Identifier())
	if err != nil {
		s.logger.Error("ddos check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "rate limit store unavailable"})
		return
	}
	if ddos.Blocked {
		s.metrics.ObserveDDoSBlock()
		result := model.GateResult{
			GateID:    "rate_limit",
			GateName:  "Rate Limit",
			Passed:    false,
			Severity:  model.SeverityCritical,
			Message:   "volumetric block active",
			Metadata:  map[string]string{"penalty_level": strconv.Itoa(ddos.PenaltyLevel)},
			Timestamp: time.Now().UTC(),
		}
		entry, aerr := s.chain.Append(sc, []model.GateResult{result}, model.OutcomeDenied)
		if aerr != nil {
			s.logger.Error("recording blocked request", "error", aerr)
		}
		retryAfter := int(time.Until(ddos.BlockedUntil) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		resp := DecisionResponse{
			RequestID:   sc.RequestID,
			Outcome:     model.OutcomeDenied,
			Allowed:     false,
			GateResults: []model.GateResult{result},
			RetryAfterS: retryAfter,
		}
		if entry != nil {
			resp.EntryID = entry.EntryID
			resp.ChainHash = entry.CurrentHash
		}
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}

	decision, err := s.orch.Process(r.Context(), sc)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "decision not recorded"})
		return
	}

	resp := DecisionResponse{
		RequestID:   sc.RequestID,
		Outcome:     decision.Outcome,
		Allowed:     decision.Allowed,
		GateResults: decision.Results,
	}
	if decision.Entry != nil {
		resp.EntryID = decision.Entry.EntryID
		resp.ChainHash = decision.Entry.CurrentHash
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusForbidden
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleRevocationList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.revocations.Export())
}

// RevokeRequest revokes a token or every token of a user.
type RevokeRequest struct {
	TokenID string `json:"token_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Reason  string `json:"reason"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.TokenID == "" && req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token_id or user_id is required"})
		return
	}
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	if req.TokenID != "" {
		s.revocations.RevokeToken(req.TokenID, req.Reason)
	}
	if req.UserID != "" {
		s.revocations.RevokeUserTokens(req.UserID, req.Reason)
	}
	writeJSON(w, http.StatusOK, s.revocations.Export())
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.index.Query(auditchain.QueryOpts{
		Outcome: q.Get("outcome"),
		Caller:  q.Get("caller"),
		Action:  q.Get("action"),
		Since:   q.Get("since"),
		Limit:   limit,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.cfg.Version,
		"chain_entries": s.chain.Length(),
		"chain_hash":    s.chain.LastHash(),
	})
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
