package links

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

// InjectIntoResponse re-inserts verified links into generated text as safe
// anchors. Match priority per link: exact visible text, then the bare URL,
// then a [text](url) markdown pattern. Unverified links are never injected,
// and all injected text is HTML-escaped.
func InjectIntoResponse(text string, links []ingest.ExtractedLink) string {
	out := text
	for _, link := range links {
		if !link.Verified {
			continue
		}
		anchor := fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`,
			html.EscapeString(link.URL), html.EscapeString(link.Text))

		if idx := standaloneTextIndex(out, link.Text); idx >= 0 {
			out = out[:idx] + anchor + out[idx+len(link.Text):]
			continue
		}
		if idx := standaloneURLIndex(out, link.URL); idx >= 0 {
			out = out[:idx] + anchor + out[idx+len(link.URL):]
			continue
		}
		markdown := regexp.QuoteMeta("["+link.Text+"]") + `\(` + regexp.QuoteMeta(link.URL) + `\)`
		if re, err := regexp.Compile(markdown); err == nil {
			out = re.ReplaceAllLiteralString(out, anchor)
		}
	}
	return out
}

// standaloneURLIndex finds the first occurrence of url that is not the
// target of a markdown link. Those occurrences belong to the markdown pass,
// which rewrites the whole [text](url) pattern.
func standaloneURLIndex(s, url string) int {
	if url == "" {
		return -1
	}
	from := 0
	for {
		idx := strings.Index(s[from:], url)
		if idx < 0 {
			return -1
		}
		idx += from
		inMarkdown := idx >= 2 && s[idx-2] == ']' && s[idx-1] == '('
		if !inMarkdown {
			return idx
		}
		from = idx + len(url)
	}
}

// standaloneTextIndex finds the first occurrence of text that is not the
// label of a markdown link, which must instead be rewritten whole by the
// markdown pass.
func standaloneTextIndex(s, text string) int {
	if text == "" {
		return -1
	}
	from := 0
	for {
		idx := strings.Index(s[from:], text)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(text)
		inMarkdown := idx > 0 && s[idx-1] == '[' && strings.HasPrefix(s[end:], "](")
		if !inMarkdown {
			return idx
		}
		from = end
	}
}
