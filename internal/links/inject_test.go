package links

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

func TestInjectIntoResponse_ExactTextMatch(t *testing.T) {
	t.Parallel()

	out := InjectIntoResponse("Check the Pricing page for details.", []ingest.ExtractedLink{
		{Text: "Pricing page", URL: "https://example.com/pricing", Verified: true},
	})
	require.Equal(t,
		`Check the <a href="https://example.com/pricing" target="_blank" rel="noopener noreferrer">Pricing page</a> for details.`,
		out)
}

func TestInjectIntoResponse_URLMatch(t *testing.T) {
	t.Parallel()

	out := InjectIntoResponse("Visit https://example.com/docs now.", []ingest.ExtractedLink{
		{Text: "Documentation", URL: "https://example.com/docs", Verified: true},
	})
	require.Contains(t, out, `<a href="https://example.com/docs"`)
	require.Contains(t, out, `>Documentation</a>`)
	require.NotContains(t, out, "Visit https://example.com/docs now.")
}

func TestInjectIntoResponse_MarkdownMatch(t *testing.T) {
	t.Parallel()

	out := InjectIntoResponse("See [the guide](https://example.com/guide) here.", []ingest.ExtractedLink{
		{Text: "the guide", URL: "https://example.com/guide", Verified: true},
	})
	require.Equal(t,
		`See <a href="https://example.com/guide" target="_blank" rel="noopener noreferrer">the guide</a> here.`,
		out)
}

// A URL that is the target of a markdown link belongs to the markdown pass;
// the bare-URL pass rewriting it in place would corrupt the surrounding
// [text](url) syntax.
func TestInjectIntoResponse_URLInsideMarkdownLeftToMarkdownPass(t *testing.T) {
	t.Parallel()

	out := InjectIntoResponse(
		"Read [setup docs](https://example.com/setup) and https://example.com/setup mirror.",
		[]ingest.ExtractedLink{
			{Text: "setup docs", URL: "https://example.com/setup", Verified: true},
		})
	require.NotContains(t, out, "](<a href=")
	require.Contains(t, out, "Read [setup docs](https://example.com/setup) and")
	require.Contains(t, out, `<a href="https://example.com/setup" target="_blank" rel="noopener noreferrer">setup docs</a> mirror.`)
}

func TestInjectIntoResponse_SkipsUnverified(t *testing.T) {
	t.Parallel()

	in := "Go to http://10.0.0.5/secret now."
	out := InjectIntoResponse(in, []ingest.ExtractedLink{
		{Text: "secret", URL: "http://10.0.0.5/secret", Verified: false},
	})
	require.Equal(t, in, out)
}

func TestInjectIntoResponse_EscapesMarkup(t *testing.T) {
	t.Parallel()

	out := InjectIntoResponse("Click <script> here.", []ingest.ExtractedLink{
		{Text: "<script>", URL: "https://example.com/?a=1&b=2", Verified: true},
	})
	require.Contains(t, out, "&lt;script&gt;")
	require.Contains(t, out, "a=1&amp;b=2")
	require.NotContains(t, out, "><script></a>")
}
