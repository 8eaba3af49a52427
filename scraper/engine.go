package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/use-agent/apiary/config"
	"github.com/use-agent/apiary/models"
	"github.com/use-agent/apiary/respond"
)

// Engine executes jobs for one worker pool: it owns a browser launched with
// the pool's proxy, a reusable page pool, and a TLS-fingerprinted HTTP
// fetcher for non-rendered requests. Run and Fail plug straight into a
// dispatch.Pool.
type Engine struct {
	browser    *rod.Browser
	pagePool   rod.Pool[rod.Page]
	fetcher    *httpFetcher
	browserCfg config.BrowserConfig
	scrapeCfg  config.ScrapeConfig
	resolver   *respond.Correlator
	proxyURL   string
}

// NewEngine launches a headless browser routed through proxyURL (empty for
// direct) and initialises the page pool. This is the expensive part of pool
// creation.
func NewEngine(browserCfg config.BrowserConfig, scrapeCfg config.ScrapeConfig, proxyURL string, resolver *respond.Correlator) (*Engine, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if proxyURL != "" {
		l = l.Proxy(proxyURL)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}
	slog.Info("browser launched", "proxy", proxyURL, "maxPages", browserCfg.MaxPages)

	return &Engine{
		browser:    browser,
		pagePool:   rod.NewPagePool(browserCfg.MaxPages),
		fetcher:    newHTTPFetcher(proxyURL),
		browserCfg: browserCfg,
		scrapeCfg:  scrapeCfg,
		resolver:   resolver,
		proxyURL:   proxyURL,
	}, nil
}

// Close drains the page pool and kills the browser process.
func (e *Engine) Close() {
	e.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	e.browser.MustClose()
	slog.Info("engine closed", "proxy", e.proxyURL)
}

// Run executes one job attempt: fetch/render, scenario, extraction, envelope
// assembly, delivery. A nil return means the result was handed to the
// correlator (or discarded as a late arrival, which counts the same).
func (e *Engine) Run(ctx context.Context, job *models.Job) error {
	if job.RenderJS {
		return e.runBrowser(ctx, job)
	}
	return e.runHTTP(ctx, job)
}

// runHTTP is the non-rendered path: plain fetch with a Chrome TLS
// fingerprint, then extraction over the raw body.
func (e *Engine) runHTTP(ctx context.Context, job *models.Job) error {
	res, err := e.fetcher.fetch(ctx, job.TargetURL, job.Headers, job.Cookies, job.MaxBodySize)
	if err != nil {
		return categorizeError(err, "fetch failed")
	}
	job.Measures.Add(models.MeasurePageLoaded)

	job.Details.ResolvedURL = res.FinalURL
	job.Details.ResponseHeaders = flattenHeaders(res.Headers)
	job.Details.InitialStatusCode = res.StatusCode

	// 404 is a legitimate scrape result; other error-class statuses are
	// retried by the pool and surfaced after exhaustion.
	if res.StatusCode >= 300 && res.StatusCode != 404 {
		return models.NewScrapeError(models.ErrCodeNavigation,
			fmt.Sprintf("upstream returned status %d", res.StatusCode), nil)
	}

	out := &outcome{
		contentType: res.ContentType,
		statusCode:  res.StatusCode,
		resolvedURL: res.FinalURL,
	}
	if job.BinaryTarget || !isHTMLContentType(res.ContentType) {
		out.file = res.Body
	} else {
		out.html = string(res.Body)
	}
	return e.finish(job, out)
}

// flattenHeaders joins multi-valued headers the way they would appear on the
// wire.
func flattenHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		out[k] = strings.Join(vals, ", ")
	}
	return out
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// categorizeError wraps raw errors into typed ScrapeErrors so the delivery
// layer can map them to HTTP status codes.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
