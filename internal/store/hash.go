package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ContentHash computes the 64-bit content hash used for staleness
// detection. xxhash is deterministic across runs and platforms and an
// order of magnitude faster than a cryptographic digest; collision
// resistance against adversaries is not required here.
func ContentHash(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// ExportedHash digests a file's public API surface: the sorted
// (kind, name, signature) triples of its exported symbols. Two files with
// the same exported hash present the same surface to the rest of the
// codebase, whatever their bodies do.
func ExportedHash(symbols []Symbol) string {
	var lines []string
	for _, sym := range symbols {
		if sym.Visibility != "public" {
			continue
		}
		lines = append(lines, sym.Kind+"\x00"+sym.Name+"\x00"+sym.Signature)
	}
	if len(lines) == 0 {
		return ""
	}
	sort.Strings(lines)
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(lines, "\n")))
}
