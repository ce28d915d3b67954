package urlsafe

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("prepends https scheme", func(t *testing.T) {
		got, err := Validate("example.com/page")
		require.NoError(t, err)
		require.Equal(t, "https://example.com/page", got)
	})

	t.Run("idempotent", func(t *testing.T) {
		first, err := Validate("HTTP://Example.COM:80/a?b=2&a=1#frag")
		require.NoError(t, err)
		second, err := Validate(first)
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("strips default ports and fragment", func(t *testing.T) {
		got, err := Validate("https://example.com:443/docs#top")
		require.NoError(t, err)
		require.Equal(t, "https://example.com/docs", got)
	})

	t.Run("sorts query parameters", func(t *testing.T) {
		got, err := Validate("https://example.com/?z=1&a=2")
		require.NoError(t, err)
		require.Equal(t, "https://example.com/?a=2&z=1", got)
	})

	t.Run("allows mailto", func(t *testing.T) {
		got, err := Validate("mailto:support@example.com")
		require.NoError(t, err)
		require.Equal(t, "mailto:support@example.com", got)
	})

	t.Run("rejects other schemes", func(t *testing.T) {
		for _, raw := range []string{"ftp://example.com", "file:///etc/passwd", "javascript:alert(1)"} {
			_, err := Validate(raw)
			require.ErrorIs(t, err, ingest.ErrValidationRejected, raw)
		}
	})

	t.Run("rejects oversized urls", func(t *testing.T) {
		long := "https://example.com/" + strings.Repeat("a", MaxURLLength)
		_, err := Validate(long)
		require.ErrorIs(t, err, ingest.ErrValidationRejected)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := Validate("   ")
		if !errors.Is(err, ingest.ErrValidationRejected) {
			t.Fatalf("expected validation rejection, got %v", err)
		}
	})
}
