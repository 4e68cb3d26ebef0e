package revocation

import (
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRevokeTokenImmediate(t *testing.T) {
	r := NewRegistry(time.Minute, testLogger())

	if st := r.IsRevoked("tok-1", ""); st.Revoked {
		t.Fatal("unrevoked token reported revoked")
	}
	r.RevokeToken("tok-1", "compromised")
	st := r.IsRevoked("tok-1", "")
	if !st.Revoked {
		t.Fatal("revoked token not reported on next check")
	}
	if st.Reason != "compromised" {
		t.Errorf("reason = %q", st.Reason)
	}
}

func TestRevokeUserCoversAllTokens(t *testing.T) {
	r := NewRegistry(time.Minute, testLogger())
	r.RevokeUserTokens("mallory", "policy violation")

	for _, tok := range []string{"a", "b", "never-seen-before"} {
		if st := r.IsRevoked(tok, "mallory"); !st.Revoked {
			t.Errorf("token %q for revoked user not reported", tok)
		}
	}
	if st := r.IsRevoked("a", "alice"); st.Revoked {
		t.Error("different user affected by revocation")
	}
}

func TestRevocationMonotonic(t *testing.T) {
	r := NewRegistry(time.Minute, testLogger())
	r.RevokeToken("tok-1", "first reason")
	r.RevokeToken("tok-1", "second reason")

	if st := r.IsRevoked("tok-1", ""); st.Reason != "first reason" {
		t.Errorf("original record overwritten: %q", st.Reason)
	}
}

func TestExport(t *testing.T) {
	r := NewRegistry(time.Minute, testLogger())
	r.RevokeToken("tok-1", "leaked")
	r.RevokeUserTokens("mallory", "abuse")

	list := r.Export()
	if list.Version != 2 {
		t.Errorf("version = %d, want 2", list.Version)
	}
	if len(list.Tokens) != 1 || list.Tokens[0] != "tok-1" {
		t.Errorf("tokens = %v", list.Tokens)
	}
	if len(list.Users) != 1 || list.Users[0].UserID != "mallory" || list.Users[0].Reason != "abuse" {
		t.Errorf("users = %v", list.Users)
	}
	if !list.NextUpdate.After(list.GeneratedAt) {
		t.Error("next update should be after generation time")
	}
}
