package links

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

// FreshnessWindow is how long a liveness result stays valid. Links checked
// within this window are passed through unchanged.
const FreshnessWindow = 24 * time.Hour

// ProbeTimeout bounds each liveness HEAD request.
const ProbeTimeout = 5 * time.Second

// Verifier probes extracted links for liveness.
type Verifier struct {
	client *http.Client
	clock  ingest.Clock
	logger *zap.Logger
}

// NewVerifier builds a Verifier. A nil client gets a default with the probe
// timeout applied.
func NewVerifier(client *http.Client, clock ingest.Clock, logger *zap.Logger) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: ProbeTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{client: client, clock: clock, logger: logger}
}

// BatchVerify issues a HEAD probe per link and AND-combines the prior
// Verified flag with the probe result. Links checked inside the freshness
// window are skipped. mailto links are treated as alive without a probe.
func (v *Verifier) BatchVerify(ctx context.Context, in []ingest.ExtractedLink) []ingest.ExtractedLink {
	now := v.clock.Now()
	out := make([]ingest.ExtractedLink, len(in))
	for i, link := range in {
		if link.LastChecked != nil && now.Sub(*link.LastChecked) < FreshnessWindow {
			out[i] = link
			continue
		}
		alive := v.probe(ctx, link.URL)
		link.Verified = link.Verified && alive
		checked := now
		link.LastChecked = &checked
		out[i] = link
	}
	return out
}

func (v *Verifier) probe(ctx context.Context, url string) bool {
	if strings.HasPrefix(url, "mailto:") {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Debug("liveness probe failed", zap.String("url", url), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}
