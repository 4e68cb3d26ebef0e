// Package model defines the request context, gate results, and decision
// outcomes shared by every stage of the validation pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClearanceLevel is an ordered trust tier attached to an authenticated
// identity. Higher values may perform more sensitive actions.
type ClearanceLevel int

const (
	ClearancePublic ClearanceLevel = iota
	ClearanceAlpha
	ClearanceBeta
	ClearanceGamma
	ClearanceOmega
)

var clearanceNames = map[ClearanceLevel]string{
	ClearancePublic: "PUBLIC",
	ClearanceAlpha:  "ALPHA",
	ClearanceBeta:   "BETA",
	ClearanceGamma:  "GAMMA",
	ClearanceOmega:  "OMEGA",
}

func (c ClearanceLevel) String() string {
	if name, ok := clearanceNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CLEARANCE(%d)", int(c))
}

// ParseClearance maps a level name to its ClearanceLevel.
func ParseClearance(s string) (ClearanceLevel, error) {
	for level, name := range clearanceNames {
		if name == s {
			return level, nil
		}
	}
	return ClearancePublic, fmt.Errorf("unknown clearance level %q", s)
}

func (c ClearanceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClearanceLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseClearance(s)
	if err != nil {
		return err
	}
	*c = level
	return nil
}

// SecurityContext describes one inbound action. It is constructed once per
// request and never mutated while the pipeline runs.
type SecurityContext struct {
	RequestID      string         `json:"request_id"`
	CallerID       string         `json:"caller_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	TokenID        string         `json:"token_id,omitempty"`
	SourceAddress  string         `json:"source_address"`
	UserAgent      string         `json:"user_agent,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Clearance      ClearanceLevel `json:"clearance"`
	Action         string         `json:"action"`
	Resource       string         `json:"resource"`
	Payload        string         `json:"payload,omitempty"`
	TargetURL      string         `json:"target_url,omitempty"`
	Signature      string         `json:"signature,omitempty"`
	SignedMessage  string         `json:"signed_message,omitempty"`
	ContentType    string         `json:"content_type,omitempty"`
}

// Identifier returns the key used for rate limiting and anomaly tracking:
// the caller ID when known, otherwise the source address.
func (c *SecurityContext) Identifier() string {
	if c.CallerID != "" {
		return c.CallerID
	}
	return c.SourceAddress
}
