// Package feed decodes sitemap XML documents as a stream.
//
// Readers hold at most one <url> or <sitemap> element in memory at a time,
// so documents with hundreds of thousands of entries decode in bounded space.
package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

// Namespace is the sitemaps.org 0.9 schema namespace.
const Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// Kind distinguishes leaf feeds from index feeds.
type Kind int

// Document kinds.
const (
	KindLeaf Kind = iota + 1
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "urlset"
	case KindIndex:
		return "sitemapindex"
	default:
		return "unknown"
	}
}

// Classify inspects only the root element of the document.
func Classify(r io.Reader) (Kind, error) {
	dec := newDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, monitor.Errorf(monitor.KindDecode, "empty document")
			}
			return 0, monitor.Wrap(monitor.KindDecode, "malformed xml", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Space != Namespace {
			return 0, monitor.Errorf(monitor.KindDecode, "unexpected root namespace %q", start.Name.Space)
		}
		switch start.Name.Local {
		case "sitemapindex":
			return KindIndex, nil
		case "urlset":
			return KindLeaf, nil
		default:
			return 0, monitor.Errorf(monitor.KindDecode, "unexpected root element <%s>", start.Name.Local)
		}
	}
}

type urlElement struct {
	Loc        string `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 loc"`
	LastMod    string `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 lastmod"`
	ChangeFreq string `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 changefreq"`
	Priority   string `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 priority"`
}

type sitemapElement struct {
	Loc     string `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 loc"`
	LastMod string `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 lastmod"`
}

// Reader yields the <url> entries of a leaf feed. It is single-pass.
type Reader struct {
	s stream
}

// NewReader returns a Reader over a urlset document.
func NewReader(r io.Reader) *Reader {
	return &Reader{s: stream{dec: newDecoder(r), local: "url"}}
}

// Next returns the next entry, or io.EOF once the document is exhausted.
// Any other error is a *monitor.Error of kind decode and is sticky.
func (r *Reader) Next() (monitor.Entry, error) {
	var el urlElement
	if err := r.s.next(&el); err != nil {
		return monitor.Entry{}, err
	}
	loc := strings.TrimSpace(el.Loc)
	if loc == "" {
		r.s.err = monitor.Errorf(monitor.KindDecode, "<url> element %d has no <loc>", r.s.count)
		return monitor.Entry{}, r.s.err
	}
	return monitor.Entry{
		URL:        loc,
		LastMod:    optional(el.LastMod),
		ChangeFreq: optional(el.ChangeFreq),
		Priority:   optional(el.Priority),
	}, nil
}

// IndexReader yields the <sitemap> child references of an index feed.
type IndexReader struct {
	s stream
}

// NewIndexReader returns an IndexReader over a sitemapindex document.
func NewIndexReader(r io.Reader) *IndexReader {
	return &IndexReader{s: stream{dec: newDecoder(r), local: "sitemap"}}
}

// Next returns the next child reference, or io.EOF at the end.
func (r *IndexReader) Next() (monitor.ChildRef, error) {
	var el sitemapElement
	if err := r.s.next(&el); err != nil {
		return monitor.ChildRef{}, err
	}
	loc := strings.TrimSpace(el.Loc)
	if loc == "" {
		r.s.err = monitor.Errorf(monitor.KindDecode, "<sitemap> element %d has no <loc>", r.s.count)
		return monitor.ChildRef{}, r.s.err
	}
	return monitor.ChildRef{Loc: loc, LastMod: optional(el.LastMod)}, nil
}

// ReadAll drains a leaf document into a slice.
func ReadAll(r io.Reader) ([]monitor.Entry, error) {
	reader := NewReader(r)
	var entries []monitor.Entry
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
}

// stream walks tokens and decodes each matching element in isolation.
type stream struct {
	dec   *xml.Decoder
	local string
	count int
	err   error
}

func (s *stream) next(v any) error {
	if s.err != nil {
		return s.err
	}
	for {
		tok, err := s.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.err = io.EOF
			} else {
				s.err = monitor.Wrap(monitor.KindDecode, "malformed xml", err)
			}
			return s.err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Space != Namespace || start.Name.Local != s.local {
			continue
		}
		s.count++
		if err := s.dec.DecodeElement(v, &start); err != nil {
			s.err = monitor.Wrap(monitor.KindDecode, fmt.Sprintf("decode <%s> element %d", s.local, s.count), err)
			return s.err
		}
		return nil
	}
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

func optional(raw string) *string {
	return monitor.StringPtr(strings.TrimSpace(raw))
}
