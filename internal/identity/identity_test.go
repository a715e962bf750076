package identity

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedCredential(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("any-key-the-parser-never-checks"))
	if err != nil {
		t.Fatalf("failed to sign test credential: %v", err)
	}
	return signed
}

func TestParseCredential(t *testing.T) {
	cred := signedCredential(t, jwt.MapClaims{
		"sub":     "109876",
		"email":   "user@example.com",
		"name":    "Test User",
		"picture": "https://example.com/p.png",
	})

	p, err := ParseCredential(cred)
	if err != nil {
		t.Fatalf("ParseCredential failed: %v", err)
	}
	if p.ID != "109876" {
		t.Errorf("Expected ID '109876', got %q", p.ID)
	}
	if p.Email != "user@example.com" {
		t.Errorf("Expected email 'user@example.com', got %q", p.Email)
	}
	if p.Name != "Test User" {
		t.Errorf("Expected name 'Test User', got %q", p.Name)
	}
}

func TestParseCredential_MissingSubject(t *testing.T) {
	cred := signedCredential(t, jwt.MapClaims{"email": "nobody@example.com"})
	if _, err := ParseCredential(cred); err == nil {
		t.Fatal("Expected error for credential without subject")
	}
}

func TestParseCredential_Garbage(t *testing.T) {
	if _, err := ParseCredential("not-a-jwt"); err == nil {
		t.Fatal("Expected error for malformed credential")
	}
}

func TestStaticFetcher(t *testing.T) {
	f := &StaticFetcher{Profile: Profile{ID: "demo", Email: "demo@refhub.local", Name: "Demo User"}}

	p, err := f.FetchProfile(context.Background(), "demo:token")
	if err != nil {
		t.Fatalf("FetchProfile failed: %v", err)
	}
	if p.ID != "demo" || p.Email != "demo@refhub.local" {
		t.Errorf("Unexpected profile: %+v", p)
	}

	// Returned profile is a copy, not shared state.
	p.Email = "mutated@example.com"
	again, _ := f.FetchProfile(context.Background(), "demo:token")
	if again.Email != "demo@refhub.local" {
		t.Error("Expected fetcher profile to be unaffected by caller mutation")
	}
}
