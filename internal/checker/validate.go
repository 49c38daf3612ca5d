package checker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/JakeFAU/sitemap-monitor/internal/feed"
)

// ValidationResult is the outcome of a dry-run check of one URL.
type ValidationResult struct {
	Valid             bool   `json:"valid"`
	IsIndex           bool   `json:"is_index"`
	URLCount          int    `json:"url_count"`
	ChildSitemapCount int    `json:"child_sitemap_count"`
	Error             string `json:"error,omitempty"`
}

// Validate fetches and parses rawURL without recursing or persisting anything.
// For an index only the child references are counted.
func (c *Checker) Validate(ctx context.Context, rawURL string) ValidationResult {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationResult{Error: "url must be an absolute http or https url"}
	}

	res, err := c.fetcher.Fetch(ctx, u.String())
	if err != nil {
		return ValidationResult{Error: err.Error()}
	}
	if len(bytes.TrimSpace(res.Body)) == 0 {
		return ValidationResult{Error: "empty response body"}
	}

	kind, err := feed.Classify(bytes.NewReader(res.Body))
	if err != nil {
		return ValidationResult{Error: err.Error()}
	}

	if kind == feed.KindIndex {
		children, err := readChildren(res.Body)
		if err != nil {
			return ValidationResult{IsIndex: true, Error: err.Error()}
		}
		return ValidationResult{Valid: true, IsIndex: true, ChildSitemapCount: len(children)}
	}

	count, err := countEntries(res.Body)
	if err != nil {
		return ValidationResult{Error: err.Error()}
	}
	return ValidationResult{Valid: true, URLCount: count}
}

func countEntries(body []byte) (int, error) {
	r := feed.NewReader(bytes.NewReader(body))
	n := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
