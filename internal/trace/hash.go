package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash computes the deterministic TraceHash of a canonical trace encoding.
//
// The input bytes must already be canonical (e.g., from ExecutionTrace.CanonicalJSON()).
// The hash is sha256 over those bytes, hex-encoded. Empty input hashes to "".
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}
