package crypto

import (
	"strings"
	"testing"
)

func TestGeneratedKeysHavePrefixes(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		prefix string
		length int
	}{
		{"api key", GenerateAPIKey(), APIKeyPrefix, len(APIKeyPrefix) + 64},
		{"claim code", GenerateClaimCode(), ClaimCodePrefix, len(ClaimCodePrefix) + 32},
		{"verify token", GenerateVerifyToken(), VerifyTokenPrefix, len(VerifyTokenPrefix) + 64},
		{"challenge id", GenerateChallengeID(), "ch_", 3 + 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.value, tt.prefix) {
				t.Fatalf("expected prefix %q, got %q", tt.prefix, tt.value)
			}
			if len(tt.value) != tt.length {
				t.Fatalf("expected length %d, got %d", tt.length, len(tt.value))
			}
		})
	}
}

func TestGeneratedKeysDiffer(t *testing.T) {
	if GenerateAPIKey() == GenerateAPIKey() {
		t.Fatal("api keys should be random")
	}
}

func TestRandomHex(t *testing.T) {
	got := RandomHex(4)
	if len(got) != 8 {
		t.Fatalf("expected 8 hex chars, got %q", got)
	}
	if strings.Trim(got, "0123456789abcdef") != "" {
		t.Fatalf("not lowercase hex: %q", got)
	}
}

func TestHashAPIKey(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashAPIKey("abc"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := map[string]string{
		"User@Example.com":         "user@example.com",
		"  user+news@example.com ": "user@example.com",
		"a+b+c@x.io":               "a@x.io",
		"+tag@x.io":                "+tag@x.io",
		"no-at-sign":               "no-at-sign",
	}
	for in, want := range tests {
		if got := NormalizeEmail(in); got != want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashEmailIgnoresPlusTag(t *testing.T) {
	if HashEmail("bot+1@example.com") != HashEmail("BOT@example.com") {
		t.Fatal("aliases of one mailbox should hash identically")
	}
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"like"}`)
	sig := SignWebhook("secret", body)
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if !VerifyWebhook("secret", body, sig) {
		t.Fatal("signature should verify")
	}
	if VerifyWebhook("other", body, sig) {
		t.Fatal("signature should not verify with another secret")
	}
}

func TestNewUUIDv7Ordered(t *testing.T) {
	a := NewUUIDv7()
	b := NewUUIDv7()
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
}
