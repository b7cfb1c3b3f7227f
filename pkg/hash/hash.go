package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// clientIDIterations is the SHA256 stretch applied to anonymous client ids
// before they are stored.
const clientIDIterations = 1000

// SHA256Hex returns the hex-encoded SHA256 hash of the input string.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// Prefix returns the first n characters of SHA256Hex(input). Used to
// correlate log lines without writing raw IPs.
func Prefix(input string, n int) string {
	full := SHA256Hex(input)
	if n > len(full) {
		return full
	}
	return full[:n]
}

// IteratedSHA256 applies SHA256 iteratively n times to produce a derived hash.
func IteratedSHA256(input string, iterations int) string {
	data := []byte(input)
	for range iterations {
		h := sha256.Sum256(data)
		data = h[:]
	}
	return hex.EncodeToString(data)
}

// HashClientID derives the stored voter id for an anonymous client id so raw
// browser ids never reach the ledger.
func HashClientID(clientID string) string {
	return IteratedSHA256(clientID, clientIDIterations)
}
