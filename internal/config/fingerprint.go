package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/zeebo/blake3"
)

// Fingerprint computes a blake3 digest over the named files, in sorted order,
// prefixed with each file's basename. It is recorded at run start so a fitness
// value can be traced back to the exact configuration and parameter files
// that produced it. Missing optional files ("" entries) are skipped.
func Fingerprint(paths ...string) (string, error) {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	sort.Strings(cleaned)

	h := blake3.New()
	for _, p := range cleaned {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", p, err)
		}
		// Separator keeps (a+b, c) distinct from (a, b+c).
		fmt.Fprintf(h, "%s\x00%d\x00", p, len(data))
		_, _ = h.Write(data)
	}

	sum := h.Sum(nil)
	return "blake3:" + hex.EncodeToString(sum), nil
}
