package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	APIKeyPrefix      = "moltter_"
	ClaimCodePrefix   = "moltter_claim_"
	VerifyTokenPrefix = "moltter_verify_"
)

// RandomHex returns n bytes from crypto/rand, hex encoded.
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// GenerateAPIKey returns a new secret API key. Only its hash is stored.
func GenerateAPIKey() string {
	return APIKeyPrefix + RandomHex(32)
}

// GenerateClaimCode returns the code embedded in an agent's claim link.
func GenerateClaimCode() string {
	return ClaimCodePrefix + RandomHex(16)
}

// GenerateVerifyToken returns the single-use token mailed to the owner.
func GenerateVerifyToken() string {
	return VerifyTokenPrefix + RandomHex(32)
}

// GenerateWebhookSecret returns the HMAC key for webhook signatures.
func GenerateWebhookSecret() string {
	return RandomHex(32)
}

// GenerateChallengeID returns an id for a registration challenge.
func GenerateChallengeID() string {
	return "ch_" + RandomHex(16)
}

// SHA256Hex hashes s and returns the hex digest.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashAPIKey returns the lookup hash of an API key.
func HashAPIKey(key string) string {
	return SHA256Hex(key)
}

// NormalizeEmail lowercases an address and drops any +tag from the local
// part, so that aliases of one mailbox hash identically.
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	if i := strings.IndexByte(local, '+'); i > 0 {
		local = local[:i]
	}
	return local + "@" + domain
}

// HashEmail returns the hash stored in place of an owner's address.
func HashEmail(email string) string {
	return SHA256Hex(NormalizeEmail(email))
}

// SignWebhook computes the hex HMAC-SHA256 of body under secret.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks a signature in constant time.
func VerifyWebhook(secret string, body []byte, signature string) bool {
	expected := SignWebhook(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
