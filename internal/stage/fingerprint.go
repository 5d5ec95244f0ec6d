package stage

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"studyreel/internal/queue"
)

// FingerprintOf hashes an ordered set of input identity parts into a stable
// hex digest.
func FingerprintOf(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// UpstreamIdentity reduces upstream artifacts to a deterministic identity
// string: stage, name, fingerprint, and size of every entry, sorted.
func UpstreamIdentity(upstream map[string][]queue.Artifact, stages ...string) string {
	var parts []string
	for _, stage := range stages {
		for _, artifact := range upstream[stage] {
			parts = append(parts, strings.Join([]string{
				artifact.Stage,
				artifact.Name,
				artifact.Fingerprint,
				strconv.FormatInt(artifact.SizeBytes, 10),
			}, "|"))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
