package trace

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// ComputeTraceHash hashes a canonical trace encoding as produced by
// ExecutionTrace.CanonicalJSON. The result is 128-bit xxh3, hex encoded.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", xxh3.Hash128(canonicalEncoding).Bytes())
}
