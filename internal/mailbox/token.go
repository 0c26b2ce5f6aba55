// Package mailbox holds the pure helpers of the reply-correlation scheme:
// token generation, the reply-address codec, and the inbound body sanitizer.
package mailbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenLength is the fixed width of an issued token: 8 random bytes as hex.
const TokenLength = 16

const tokenBytes = TokenLength / 2

// NewToken returns a 16-hex-char token with 64 bits of entropy. Uniqueness
// is enforced by the registry's constraint, not here.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read token entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
