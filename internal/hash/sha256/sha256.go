// Package sha256 computes the content digests used for snapshot equality.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Hasher computes URL set digests with SHA-256. It satisfies snapshot.Digester.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// URLSetDigest hashes the sorted URL strings. Only the URLs participate, so two
// entry collections with the same URLs but different lastmod values collide.
//
// The byte encoding is a JSON array with ", " separators and ASCII-only
// escapes, which keeps digests stable against rows written by earlier
// deployments of the monitor.
func (h *Hasher) URLSetDigest(urls []string) string {
	sorted := slices.Clone(urls)
	slices.Sort(sorted)
	sum := sha256.Sum256(EncodeURLList(sorted))
	return hex.EncodeToString(sum[:])
}

// EncodeURLList renders urls in order as an ASCII-escaped JSON array.
func EncodeURLList(urls []string) []byte {
	var b strings.Builder
	b.WriteByte('[')
	for i, u := range urls {
		if i > 0 {
			b.WriteString(", ")
		}
		writeQuoted(&b, u)
	}
	b.WriteByte(']')
	return []byte(b.String())
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r <= 0x7e:
				b.WriteRune(r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
			default:
				fmt.Fprintf(b, `\u%04x`, r)
			}
		}
	}
	b.WriteByte('"')
}
