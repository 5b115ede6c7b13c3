package app

import (
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestOperatorTokenRoundTrip(t *testing.T) {
	svc := NewOperatorTokenService("test-secret", time.Hour)

	token, err := svc.Issue("operator-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected a signed token")
	}

	sub, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "operator-1" {
		t.Fatalf("expected operator-1, got %q", sub)
	}
}

func TestOperatorTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewOperatorTokenService("secret-a", time.Hour)
	verifier := NewOperatorTokenService("secret-b", time.Hour)

	token, err := issuer.Issue("operator-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("token signed with another secret must fail verification")
	}
}

func TestOperatorTokenRejectsExpired(t *testing.T) {
	svc := NewOperatorTokenService("test-secret", time.Hour)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := svc.Issue("operator-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier := NewOperatorTokenService("test-secret", time.Hour)
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expired token must fail verification")
	}
}

func TestOperatorTokenRejectsGarbage(t *testing.T) {
	svc := NewOperatorTokenService("test-secret", time.Hour)
	if _, err := svc.Verify("not-a-token"); err == nil {
		t.Fatal("malformed token must fail verification")
	}
}

func TestOperatorTokenRequiresConfig(t *testing.T) {
	svc := NewOperatorTokenService("", time.Hour)
	if _, err := svc.Issue("operator-1"); err == nil {
		t.Fatal("empty secret must refuse to issue")
	}

	svc = NewOperatorTokenService("test-secret", time.Hour)
	if _, err := svc.Issue(""); err == nil {
		t.Fatal("empty operator id must refuse to issue")
	}
}

func TestRandomViewerName(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		name := RandomViewerName(rng)
		if name == "" {
			t.Fatal("expected a non-empty name")
		}
		if strings.ContainsAny(name, " \t") {
			t.Fatalf("name should have no whitespace: %q", name)
		}
		seen[name] = true
	}
	if len(seen) < 2 {
		t.Fatal("names should vary across draws")
	}
}
