package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint digests the sorted set of (provenance/path, content hash)
// pairs. The order of files does not affect the result.
func Fingerprint(files []File) string {
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, f.Key()+"\x00"+f.Hash+"\n")
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
	}
	return hex.EncodeToString(h.Sum(nil))
}
