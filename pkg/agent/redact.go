package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
)

// Secret redaction runs before report hashing so secret values never reach
// the hash input. Two layers:
//
//	Layer 1 (key-based): known secret key names followed by a value of 8+
//	non-delimiter characters → value replaced with [REDACTED].
//	Layer 2 (prefix-based): well-known token shapes (sk-, AIza, Bearer,
//	ghp_/gho_, xoxb-/xoxp-) redacted anywhere, no key needed.
//
// Redaction makes different secrets hash identically. That is intentional:
// the hash identifies diagnostic state, not secret values, and is not a
// security token.

var secretKeyValuePattern = regexp.MustCompile(
	`(?i)((?:api[_-]?key|secret[_-]?key|token|password|passwd|auth[_-]?token` +
		`|access[_-]?key|private[_-]?key|credentials?|secret)` +
		`(?:\\"|"|'|=|:|\s)*)` + // key + separators (incl. escaped quotes)
		`([^\s",}{\\]{8,})`, // value: 8+ non-delimiter chars
)

var secretPrefixPattern = regexp.MustCompile(
	`(?:sk-[a-zA-Z0-9_-]{20,})` + // OpenAI API keys
		`|(?:AIza[a-zA-Z0-9_-]{30,})` + // Google API keys
		`|(?:Bearer\s+[a-zA-Z0-9._-]{20,})` + // Bearer tokens
		`|(?:ghp_[a-zA-Z0-9]{36,})` + // GitHub PAT
		`|(?:gho_[a-zA-Z0-9]{36,})` + // GitHub OAuth
		`|(?:xoxb-[a-zA-Z0-9-]{20,})` + // Slack bot tokens
		`|(?:xoxp-[a-zA-Z0-9-]{20,})`, // Slack user tokens
)

// RedactSecrets removes secret-like values from text.
func RedactSecrets(text string) string {
	result := secretKeyValuePattern.ReplaceAllString(text, "${1}[REDACTED]")
	return secretPrefixPattern.ReplaceAllString(result, "[REDACTED]")
}

// ReportHash computes the 16-hex fingerprint of a checker report's
// diagnostic state: the canonical JSON encoding with duration_ms and
// timestamp stripped, secrets redacted, then SHA-256 truncated to 16 hex
// characters.
//
// The hash is invariant under timing changes and under changes to any value
// adjacent to a redacted key.
func ReportHash(report any) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}
	// Round-trip through a map: strips typed struct ordering and gives the
	// canonical sorted-key encoding.
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("canonicalizing report: %w", err)
	}
	delete(m, "duration_ms")
	delete(m, "timestamp")
	canonical, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding canonical report: %w", err)
	}
	sum := sha256.Sum256([]byte(RedactSecrets(string(canonical))))
	return hex.EncodeToString(sum[:])[:16], nil
}
