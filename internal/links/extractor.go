// Package links extracts, verifies, and re-injects hyperlinks discovered
// during crawling and response generation.
package links

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
	"github.com/rradofina/alonchat-ingest/internal/urlsafe"
)

// bareURLPattern matches bare http(s) URLs in plain text. Trailing
// punctuation is trimmed after the match.
var bareURLPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// Extractor turns HTML or plain text into normalized ExtractedLink sets.
type Extractor struct {
	checker *urlsafe.Checker
	idGen   ingest.IDGenerator
}

// NewExtractor builds an Extractor. The checker gates the Verified flag;
// liveness is probed separately by the Verifier.
func NewExtractor(checker *urlsafe.Checker, idGen ingest.IDGenerator) *Extractor {
	return &Extractor{checker: checker, idGen: idGen}
}

// ExtractFromHTML parses anchor elements and returns one link per unique
// href. Relative hrefs resolve against pageURL; an empty pageURL keeps only
// absolute hrefs. Verified reflects the safety check only.
func (e *Extractor) ExtractFromHTML(html, pageURL string) ([]ingest.ExtractedLink, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var base *url.URL
	if pageURL != "" {
		base, err = url.Parse(pageURL)
		if err != nil {
			return nil, fmt.Errorf("parse page url: %w", err)
		}
	}

	seen := make(map[string]struct{})
	var out []ingest.ExtractedLink
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if base != nil && !strings.HasPrefix(href, "mailto:") {
			ref, err := url.Parse(strings.TrimSpace(href))
			if err != nil {
				return
			}
			href = base.ResolveReference(ref).String()
		}
		normalized, err := urlsafe.Validate(href)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}

		id, err := e.idGen.NewID()
		if err != nil {
			return
		}
		out = append(out, ingest.ExtractedLink{
			ID:       id,
			Text:     strings.TrimSpace(sel.Text()),
			URL:      normalized,
			Verified: e.checker.IsSafe(normalized),
		})
	})
	return out, nil
}

// FrontierURLs resolves anchor hrefs against the page URL and returns the
// unique same-host candidates for further crawling. Cross-domain and unsafe
// links never enter the frontier.
func (e *Extractor) FrontierURLs(html, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !strings.EqualFold(resolved.Hostname(), base.Hostname()) {
			return
		}
		normalized, err := urlsafe.Validate(resolved.String())
		if err != nil || !e.checker.IsSafe(normalized) {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	})
	return out, nil
}

// ExtractFromText scans for bare URLs and records character offsets so the
// caller can substitute them in place later.
func (e *Extractor) ExtractFromText(text string) ([]ingest.ExtractedLink, error) {
	matches := bareURLPattern.FindAllStringIndex(text, -1)
	var out []ingest.ExtractedLink
	for _, m := range matches {
		start, end := m[0], m[1]
		raw := strings.TrimRight(text[start:end], ".,;:!?")
		end = start + len(raw)

		normalized, err := urlsafe.Validate(raw)
		if err != nil {
			continue
		}
		id, err := e.idGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate link id: %w", err)
		}
		out = append(out, ingest.ExtractedLink{
			ID:       id,
			Text:     raw,
			URL:      normalized,
			Position: &ingest.LinkPosition{Start: start, End: end},
			Verified: e.checker.IsSafe(normalized),
		})
	}
	return out, nil
}
