package fingerprint

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// apiKeyEntropyBytes yields a 32-character url-safe-alphabet key body once
// base64url-encoded and trimmed, matching the sk_<32 chars> wire format.
const apiKeyEntropyBytes = 24

// GenerateAPIKey returns a new plaintext API key in the sk_<32 url-safe chars>
// format required by the wire protocol.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api key entropy: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(buf)
	if len(body) > 32 {
		body = body[:32]
	}
	return "sk_" + body, nil
}

// Hasher hashes and verifies API keys at rest using bcrypt with an
// installation-wide pepper mixed in before hashing, so a stolen database
// dump alone is not enough to brute-force keys offline.
type Hasher struct {
	pepper string
	cost   int
}

// NewHasher builds a Hasher. cost must be at least 12 (enforced by
// internal/config's validator, not re-checked here).
func NewHasher(pepper string, cost int) *Hasher {
	return &Hasher{pepper: pepper, cost: cost}
}

func (h *Hasher) peppered(key string) []byte {
	mac := hmac.New(sha256.New, []byte(h.pepper))
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// VerifyHash returns the at-rest bcrypt hash of key. The key is first run
// through HMAC-SHA-256 with the installation pepper: bcrypt's own 72-byte
// input truncation would otherwise silently drop entropy from longer keys,
// and this keeps the pepper inside the slow hash rather than appended in
// the clear.
func (h *Hasher) VerifyHash(key string) (string, error) {
	sum, err := bcrypt.GenerateFromPassword(h.peppered(key), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(sum), nil
}

// Verify reports whether key matches a previously computed VerifyHash.
func (h *Hasher) Verify(key, verifyHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(verifyHash), h.peppered(key)) == nil
}

// LookupHash computes a deterministic HMAC-SHA-256 digest of an API key.
// Because bcrypt output is salted and non-deterministic it cannot serve as
// a database index, so authentication is a two-step process: find the row
// by LookupHash (O(1), indexed), then confirm it with Verify against the
// row's bcrypt VerifyHash. The two-hundred-bit entropy of a generated key
// makes the deterministic index itself safe to persist; VerifyHash exists
// for defense in depth if that index ever leaks independently of the row.
func (h *Hasher) LookupHash(key string) string {
	return hex.EncodeToString(h.peppered(key))
}

// ConstantTimeEqual compares two strings without leaking timing information,
// used when comparing a request-supplied value against a known-good one.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
