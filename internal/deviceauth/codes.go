package deviceauth

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// userCodeAlphabet is the uppercase consonants only: no vowels and no
// digits, so look-alike pairs such as 0/O and 1/I cannot occur.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXYZ"

const (
	userCodeLength  = 8
	deviceCodeBytes = 16 // 128 bits, base32-encoded below
)

// GenerateDeviceCode returns a high-entropy opaque token for the polling
// device, never shown to the end user.
func GenerateDeviceCode() (string, error) {
	buf := make([]byte, deviceCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("deviceauth: generating device code: %w", err)
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)), nil
}

// GenerateUserCode returns an 8-character code drawn from userCodeAlphabet,
// short enough for a human to read aloud and type into a browser.
func GenerateUserCode() (string, error) {
	out := make([]byte, userCodeLength)
	idx := make([]byte, userCodeLength)
	if _, err := rand.Read(idx); err != nil {
		return "", fmt.Errorf("deviceauth: generating user code: %w", err)
	}
	for i, b := range idx {
		out[i] = userCodeAlphabet[int(b)%len(userCodeAlphabet)]
	}
	return string(out), nil
}
