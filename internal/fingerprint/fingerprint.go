// Package fingerprint derives the stable identity key used to deduplicate
// roles by (company, title).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash returns a deterministic hex digest over the normalized company name
// and title. Both fields are lower-cased and trimmed before hashing, so
// casing and surrounding whitespace never produce a distinct role.
func Hash(companyName, title string) string {
	s := normalize(companyName) + "-" + normalize(title)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
