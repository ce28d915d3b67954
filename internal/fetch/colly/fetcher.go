// Package collyfetch implements single-page fetching using gocolly.
package collyfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
	"github.com/rradofina/alonchat-ingest/internal/urlsafe"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps the response body read per page. Zero means the
	// default of 10 MiB.
	MaxBodyBytes int
	// DomainRPS is the per-domain politeness ceiling in requests/second.
	// Zero disables the limiter.
	DomainRPS   float64
	DomainBurst int
}

// Fetcher fetches one page at a time. The crawl frontier is driven by the
// caller; the fetcher only validates, rate-limits, and retrieves.
type Fetcher struct {
	cfg           Config
	checker       *urlsafe.Checker
	logger        *zap.Logger
	baseCollector *colly.Collector

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Fetcher.
func New(cfg Config, checker *urlsafe.Checker, logger *zap.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.DomainBurst == 0 {
		cfg.DomainBurst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		checker:       checker,
		logger:        logger,
		baseCollector: c,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves a single page. The URL is normalized and safety-checked
// before any network traffic happens.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (ingest.Page, error) {
	normalized, err := urlsafe.Validate(rawURL)
	if err != nil {
		return ingest.Page{}, err
	}
	if f.checker != nil && !f.checker.IsSafe(normalized) {
		return ingest.Page{}, fmt.Errorf("%w: unsafe url %s", ingest.ErrValidationRejected, normalized)
	}

	parsed, err := url.Parse(normalized)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("%w: %v", ingest.ErrValidationRejected, err)
	}
	if limiter := f.limiterFor(parsed.Hostname()); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return ingest.Page{}, fmt.Errorf("politeness wait: %w", err)
		}
	}

	var (
		page     ingest.Page
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.MaxBodySize = f.cfg.MaxBodyBytes

	collector.OnResponse(func(r *colly.Response) {
		page = ingest.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			HTML:       string(r.Body),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = fmt.Errorf("server returned %d %s", r.StatusCode, http.StatusText(r.StatusCode))
			return
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, normalized); err != nil {
		return ingest.Page{}, err
	}
	if fetchErr != nil {
		return ingest.Page{}, fmt.Errorf("fetch %s: %w", normalized, fetchErr)
	}
	f.logger.Debug("fetched page",
		zap.String("url", page.URL),
		zap.Int("status", page.StatusCode),
		zap.Duration("duration", page.Duration),
	)
	return page, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("fetch %s: %w", target, err)
		}
		return nil
	}
}

func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	if f.cfg.DomainRPS <= 0 || host == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.cfg.DomainRPS), f.cfg.DomainBurst)
		f.limiters[host] = limiter
	}
	return limiter
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
