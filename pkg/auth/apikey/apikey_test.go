package apikey

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/proxified/pkg/auth"
)

func newTestAuth() *Authenticator {
	return New([]RawKeyEntry{
		{
			Key: "sk-test-key-1",
			Identity: auth.Identity{
				Subject:     "alice",
				ServiceTier: "standard",
				Metadata:    map[string]string{auth.MetadataTenantID: "org-1"},
			},
		},
		{
			Key:      "sk-test-key-2",
			Identity: auth.Identity{Subject: "bob", ServiceTier: "premium"},
		},
	})
}

func authenticate(a *Authenticator, header string) auth.AuthResult {
	r := httptest.NewRequest("GET", "/v1/containers", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return a.Authenticate(context.Background(), r)
}

func TestValidKeys(t *testing.T) {
	a := newTestAuth()
	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}

	tests := []struct {
		key, subject, tier, tenant string
	}{
		{"sk-test-key-1", "alice", "standard", "org-1"},
		{"sk-test-key-2", "bob", "premium", ""},
	}
	for _, tt := range tests {
		result := authenticate(a, "Bearer "+tt.key)
		if result.Decision != auth.Yes {
			t.Fatalf("%s: Decision = %v, want yes", tt.key, result.Decision)
		}
		if result.Identity.Subject != tt.subject {
			t.Errorf("%s: Subject = %q, want %q", tt.key, result.Identity.Subject, tt.subject)
		}
		if result.Identity.ServiceTier != tt.tier {
			t.Errorf("%s: ServiceTier = %q, want %q", tt.key, result.Identity.ServiceTier, tt.tier)
		}
		if result.Identity.TenantID() != tt.tenant {
			t.Errorf("%s: TenantID = %q, want %q", tt.key, result.Identity.TenantID(), tt.tenant)
		}
	}
}

func TestIdentityIsCopied(t *testing.T) {
	a := newTestAuth()
	first := authenticate(a, "Bearer sk-test-key-1")
	first.Identity.Metadata[auth.MetadataTenantID] = "mutated"

	second := authenticate(a, "Bearer sk-test-key-1")
	if second.Identity.TenantID() != "org-1" {
		t.Errorf("TenantID = %q after mutation of a previous result, want org-1", second.Identity.TenantID())
	}
}

func TestRejectsAndAbstains(t *testing.T) {
	a := newTestAuth()

	tests := []struct {
		name    string
		header  string
		want    auth.AuthDecision
		wantErr error
	}{
		{"unknown key", "Bearer sk-wrong-key", auth.No, auth.ErrInvalidCredentials},
		{"empty token", "Bearer  ", auth.No, auth.ErrUnauthenticated},
		{"no header", "", auth.Abstain, nil},
		{"basic auth", "Basic dXNlcjpwYXNz", auth.Abstain, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := authenticate(a, tt.header)
			if result.Decision != tt.want {
				t.Fatalf("Decision = %v, want %v", result.Decision, tt.want)
			}
			if tt.wantErr != nil && !errors.Is(result.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", result.Err, tt.wantErr)
			}
		})
	}
}
