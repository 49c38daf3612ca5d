// Package checker expands a feed URL into its full entry set.
//
// Index documents are walked depth-first and strictly sequentially, so a
// single check never has more than one request in flight against the target.
package checker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/feed"
	"github.com/JakeFAU/sitemap-monitor/internal/metrics"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

// DefaultMaxDepth bounds index nesting when Config.MaxDepth is unset.
const DefaultMaxDepth = 5

// Config holds checker settings.
type Config struct {
	// MaxDepth is the deepest index nesting followed. The root is depth 0.
	MaxDepth int
}

// ChildFailure describes a child feed that was skipped during aggregation.
type ChildFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Result is the aggregate of one check.
type Result struct {
	RootURL        string
	Entries        []monitor.Entry
	URLCount       int
	FetchDuration  time.Duration
	ParseDuration  time.Duration
	IsIndex        bool
	ChildCount     int
	Documents      int
	FailedChildren []ChildFailure
}

// Partial reports whether any child feed was skipped.
func (r Result) Partial() bool {
	return len(r.FailedChildren) > 0
}

// Checker orchestrates the fetcher and the feed parser.
type Checker struct {
	fetcher monitor.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Checker.
func New(fetcher monitor.Fetcher, cfg Config, logger *zap.Logger) *Checker {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Check fetches rootURL and, for index documents, every reachable child.
// A root failure fails the check. Child failures are skipped and listed in
// Result.FailedChildren. Cancellation of ctx always fails the check.
func (c *Checker) Check(ctx context.Context, rootURL string) (Result, error) {
	w := &walk{
		checker: c,
		visited: map[string]struct{}{rootURL: {}},
		result:  Result{RootURL: rootURL},
	}
	if err := w.document(ctx, rootURL, 0); err != nil {
		return Result{}, err
	}
	w.result.URLCount = len(w.result.Entries)
	return w.result, nil
}

type walk struct {
	checker *Checker
	visited map[string]struct{}
	result  Result
}

func (w *walk) document(ctx context.Context, url string, depth int) error {
	res, err := w.checker.fetcher.Fetch(ctx, url)
	w.result.FetchDuration += res.Duration
	if err != nil {
		return err
	}
	w.result.Documents++

	start := time.Now()
	kind, err := feed.Classify(bytes.NewReader(res.Body))
	if err != nil {
		w.result.ParseDuration += time.Since(start)
		return err
	}
	metrics.ObserveDocumentParsed(kind.String())

	if kind == feed.KindLeaf {
		entries, err := feed.ReadAll(bytes.NewReader(res.Body))
		w.result.ParseDuration += time.Since(start)
		if err != nil {
			return err
		}
		w.result.Entries = append(w.result.Entries, entries...)
		return nil
	}

	children, err := readChildren(res.Body)
	w.result.ParseDuration += time.Since(start)
	if err != nil {
		return err
	}
	if depth == 0 {
		w.result.IsIndex = true
		w.result.ChildCount = len(children)
	}

	for _, child := range children {
		if _, seen := w.visited[child.Loc]; seen {
			continue
		}
		w.visited[child.Loc] = struct{}{}

		if depth+1 > w.checker.cfg.MaxDepth {
			w.skip(url, child.Loc, monitor.Errorf(monitor.KindDecode, "index nesting exceeds depth %d", w.checker.cfg.MaxDepth))
			continue
		}
		if err := w.document(ctx, child.Loc, depth+1); err != nil {
			if ctx.Err() != nil {
				return monitor.Wrap(monitor.KindNetwork, "check canceled", ctx.Err())
			}
			w.skip(url, child.Loc, err)
		}
	}
	return nil
}

func (w *walk) skip(parent, child string, err error) {
	w.result.FailedChildren = append(w.result.FailedChildren, ChildFailure{URL: child, Error: err.Error()})
	w.checker.logger.Warn("child sitemap skipped",
		zap.String("root_url", w.result.RootURL),
		zap.String("parent_url", parent),
		zap.String("url", child),
		zap.Error(err),
	)
}

func readChildren(body []byte) ([]monitor.ChildRef, error) {
	r := feed.NewIndexReader(bytes.NewReader(body))
	var refs []monitor.ChildRef
	for {
		ref, err := r.Next()
		if errors.Is(err, io.EOF) {
			return refs, nil
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
}
