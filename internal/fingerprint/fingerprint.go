// Package fingerprint implements record fingerprinting and API-key hashing,
// component A of the telemetry pipeline.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	numericRun = regexp.MustCompile(`\b\d+\b`)
	uuidLike   = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	emailLike  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// NormalizeMessage replaces volatile substrings (numeric runs, UUIDs, email
// addresses) with stable placeholders so that otherwise-identical log lines
// fingerprint the same way regardless of the specific IDs they carry.
func NormalizeMessage(msg string) string {
	out := uuidLike.ReplaceAllString(msg, "<uuid>")
	out = emailLike.ReplaceAllString(out, "<email>")
	out = numericRun.ReplaceAllString(out, "<num>")
	return out
}

// Record computes the SHA-256 fingerprint of a log record over its
// canonicalized (app_id, level, normalized_message, service) tuple. Two
// records with the same app, level, service and a message differing only in
// embedded numbers/ids/emails fingerprint identically.
func Record(appID, level, message, service string) string {
	var b strings.Builder
	b.WriteString(appID)
	b.WriteByte('\x1f')
	b.WriteString(level)
	b.WriteByte('\x1f')
	b.WriteString(NormalizeMessage(message))
	b.WriteByte('\x1f')
	b.WriteString(service)
	return hashHex(b.String())
}

func hashHex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
