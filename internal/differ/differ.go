// Package differ computes URL-keyed set differences between entry collections.
package differ

import (
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

// Compare returns the entries added to and removed from old, plus those whose
// lastmod changed. Only lastmod drives modification; changefreq and priority
// are ignored. Duplicate URLs within a collection resolve to the last one.
// Result order is unspecified.
func Compare(old, updated []monitor.Entry) monitor.Diff {
	before := index(old)
	after := index(updated)

	var diff monitor.Diff
	for u, entry := range after {
		prev, ok := before[u]
		if !ok {
			diff.Added = append(diff.Added, entry)
			continue
		}
		if !sameValue(prev.LastMod, entry.LastMod) {
			diff.Modified = append(diff.Modified, monitor.Modification{
				URL:        u,
				OldLastMod: prev.LastMod,
				NewLastMod: entry.LastMod,
			})
		}
	}
	for u, entry := range before {
		if _, ok := after[u]; !ok {
			diff.Removed = append(diff.Removed, entry)
		}
	}
	return diff
}

func index(entries []monitor.Entry) map[string]monitor.Entry {
	m := make(map[string]monitor.Entry, len(entries))
	for _, e := range entries {
		m[e.URL] = e
	}
	return m
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
