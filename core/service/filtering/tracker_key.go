package filtering

import (
	"crypto/sha1"
	"encoding/hex"
)

const unknownPart = "unknown"

// MakeKey returns the identity hash of an application. Empty company or role
// become "unknown", so callers must drop ungroupable mail before keying it.
func MakeKey(userID, company, role string) string {
	c := Normalize(company)
	if c == "" {
		c = unknownPart
	}
	r := Normalize(role)
	if r == "" {
		r = unknownPart
	}

	sum := sha1.Sum([]byte(userID + ":" + c + ":" + r))
	return hex.EncodeToString(sum[:])
}
