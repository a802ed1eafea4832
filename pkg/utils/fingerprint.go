package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CollapseWhitespace joins the whitespace-separated fields of s with single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint returns the hex SHA-256 of the whitespace-collapsed, lowercased text.
// Two texts that differ only in case or spacing share a fingerprint.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(CollapseWhitespace(text))))
	return hex.EncodeToString(sum[:])
}
