// Package privacy derives non-reversible tokens from client identifiers.
package privacy

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashIP returns a 16 hex char BLAKE2b digest of ip, safe for logs and cache keys.
func HashIP(ip string) string {
	sum := blake2b.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
