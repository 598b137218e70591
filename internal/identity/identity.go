// Package identity derives the stable key of a procurement opportunity.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix namespaces every derived identifier.
const Prefix = "RFQ-"

// hashLength is the number of hex characters kept from the digest.
const hashLength = 12

// Derive returns the identifier for an (organization, opportunity number) pair.
//
// Both inputs are lowercased and trimmed before hashing, so re-scraped text that differs only in
// case or surrounding whitespace maps to the same record. Title and every other field are
// deliberately ignored.
//
// An empty or placeholder number still yields an identifier (the hash of "org|"), which means
// all un-numbered opportunities of one organization collide on the same key. Callers that ingest
// scraped data reject such candidates instead of relying on this.
func Derive(organization, opportunityNumber string) string {
	key := Normalize(organization) + "|" + Normalize(opportunityNumber)
	sum := sha256.Sum256([]byte(key))
	return Prefix + hex.EncodeToString(sum[:])[:hashLength]
}

// Normalize applies the identity normalization to a single field.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Valid reports whether id has the shape produced by Derive.
func Valid(id string) bool {
	if !strings.HasPrefix(id, Prefix) || len(id) != len(Prefix)+hashLength {
		return false
	}
	_, err := hex.DecodeString(id[len(Prefix):])
	return err == nil
}
