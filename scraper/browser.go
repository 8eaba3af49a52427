package scraper

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/apiary/models"
	"github.com/use-agent/apiary/scenario"
	"github.com/ysmood/gson"
)

// runBrowser is the rendered path.
//
// Order matters:
//   - stealth and the hijack router must be installed before Navigate, or
//     they miss the initial document request;
//   - the network event collector must be registered before Navigate, or the
//     document response (status, headers) is lost.
func (e *Engine) runBrowser(ctx context.Context, job *models.Job) error {
	page, acquireErr := e.pagePool.Get(func() (*rod.Page, error) {
		return e.browser.Page(proto.TargetCreateTarget{})
	})
	if acquireErr != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to acquire page from pool", acquireErr)
	}

	// Cleanup uses the original page reference (without the request
	// context) so it succeeds even after the context expired.
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			slog.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		e.pagePool.Put(page)
	}()

	if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             job.Width,
		Height:            job.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		slog.Debug("viewport override failed", "error", err)
	}

	extraHeaders := make(map[string]string, len(job.Headers)+1)
	for k, v := range job.Headers {
		extraHeaders[k] = v
	}
	if job.Cookies != "" {
		extraHeaders["Cookie"] = job.Cookies
	}
	if len(extraHeaders) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(extraHeaders)}.Call(page)
	}

	var router *rod.HijackRouter
	if job.BlockResources || len(job.BlockedResourceTypes) > 0 {
		defaults := e.scrapeCfg.BlockedResourceTypes
		if !job.BlockResources {
			defaults = nil
		}
		router = setupHijack(page, defaults, job.BlockedResourceTypes)
		if router != nil {
			defer func() { _ = router.Stop() }()
		}
	}

	p := page.Context(ctx)

	collector := newNetworkCollector(p)
	defer collector.stop()

	job.Measures.Add(models.MeasurePreNavigation)
	if navErr := p.Navigate(job.TargetURL); navErr != nil {
		return categorizeError(navErr, "navigation to target URL failed")
	}
	if loadErr := p.WaitLoad(); loadErr != nil {
		slog.Debug("wait load did not converge, proceeding", "error", loadErr)
	}
	job.Measures.Add(models.MeasurePageLoaded)

	out := &outcome{}

	if !job.Scenario.Empty() {
		out.scenarioReport = scenario.Run(ctx, job.Scenario, &rodSession{page: p})
		if job.Scenario.Strict && out.scenarioReport.Failed > 0 {
			slog.Debug("strict scenario stopped early",
				"token", job.Token, "executed", out.scenarioReport.Executed)
		}
	}

	out.statusCode = collector.documentStatus()
	if out.statusCode == 0 {
		out.statusCode = evalNavigationStatus(p)
	}
	job.Details.InitialStatusCode = out.statusCode
	job.Details.ResponseHeaders = collector.documentHeaders()

	out.resolvedURL = evalStringOrEmpty(p, `() => window.location.href`)
	if out.resolvedURL == "" {
		out.resolvedURL = job.TargetURL
	}
	job.Details.ResolvedURL = out.resolvedURL

	out.cookies = collectCookies(p)
	out.iframes = collectIFrames(p)

	if job.Screenshot.Mode != models.ScreenshotNone {
		shot, err := takeScreenshot(p, job.Screenshot)
		if err != nil {
			slog.Warn("screenshot failed", "mode", job.Screenshot.Mode, "error", err)
		}
		out.screenshot = shot
	}

	if job.ReturnPageSource {
		if body := collector.documentBody(); body != "" {
			out.html = body
		}
	}
	if out.html == "" {
		rendered, htmlErr := p.HTML()
		if htmlErr != nil {
			return categorizeError(htmlErr, "failed to extract page HTML")
		}
		out.html = rendered
	}
	out.contentType = "text/html"
	out.xhr = collector.xhrRecords()

	return e.finish(job, out)
}

// networkCollector listens for response events on one page, keeping the
// main document's status/headers/body and every XHR/fetch exchange.
type networkCollector struct {
	page *rod.Page
	stop func()

	mu        sync.Mutex
	docStatus int
	docHdrs   map[string]string
	docReqID  proto.NetworkRequestID
	xhr       []models.XHRRecord
	xhrMeta   map[string]xhrMeta
}

type xhrMeta struct {
	method  string
	headers map[string]string
}

func newNetworkCollector(p *rod.Page) *networkCollector {
	c := &networkCollector{page: p, xhrMeta: make(map[string]xhrMeta)}

	requests := make(chan *proto.NetworkRequestWillBeSent, 64)
	responses := make(chan *proto.NetworkResponseReceived, 64)
	done := make(chan struct{})
	c.stop = sync.OnceFunc(func() { close(done) })

	go p.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			select {
			case requests <- e:
			default:
			}
		},
		func(e *proto.NetworkResponseReceived) {
			select {
			case responses <- e:
			default:
			}
		},
	)()

	go func() {
		for {
			select {
			case <-done:
				return
			case e := <-requests:
				c.onRequest(e)
			case e := <-responses:
				c.onResponse(e)
			}
		}
	}()

	return c
}

func (c *networkCollector) onRequest(e *proto.NetworkRequestWillBeSent) {
	if e.Type != proto.NetworkResourceTypeXHR && e.Type != proto.NetworkResourceTypeFetch {
		return
	}
	c.mu.Lock()
	c.xhrMeta[string(e.RequestID)] = xhrMeta{
		method:  e.Request.Method,
		headers: headersToStrings(e.Request.Headers),
	}
	c.mu.Unlock()
}

func (c *networkCollector) onResponse(e *proto.NetworkResponseReceived) {
	switch e.Type {
	case proto.NetworkResourceTypeDocument:
		c.mu.Lock()
		if c.docStatus == 0 {
			c.docStatus = e.Response.Status
			c.docHdrs = headersToStrings(e.Response.Headers)
			c.docReqID = e.RequestID
		}
		c.mu.Unlock()
	case proto.NetworkResourceTypeXHR, proto.NetworkResourceTypeFetch:
		c.mu.Lock()
		meta := c.xhrMeta[string(e.RequestID)]
		rec := models.XHRRecord{
			URL:        e.Response.URL,
			Method:     meta.method,
			StatusCode: e.Response.Status,
			Headers:    headersToStrings(e.Response.Headers),
		}
		c.mu.Unlock()
		// Body fetch is best-effort: the remote may have discarded it.
		if body, err := (proto.NetworkGetResponseBody{RequestID: e.RequestID}).Call(c.page); err == nil {
			rec.Body = body.Body
		}
		c.mu.Lock()
		c.xhr = append(c.xhr, rec)
		c.mu.Unlock()
	}
}

func (c *networkCollector) documentStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docStatus
}

func (c *networkCollector) documentHeaders() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docHdrs
}

// documentBody returns the pre-rendering document body, used by
// return_page_source.
func (c *networkCollector) documentBody() string {
	c.mu.Lock()
	id := c.docReqID
	c.mu.Unlock()
	if id == "" {
		return ""
	}
	body, err := proto.NetworkGetResponseBody{RequestID: id}.Call(c.page)
	if err != nil {
		return ""
	}
	return body.Body
}

func (c *networkCollector) xhrRecords() []models.XHRRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.XHRRecord, len(c.xhr))
	copy(out, c.xhr)
	return out
}

func headersToStrings(h proto.NetworkHeaders) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}

// evalNavigationStatus reads the navigation status from the performance
// timeline, which needs no CDP event listeners.
func evalNavigationStatus(p *rod.Page) int {
	res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func evalStringOrEmpty(p *rod.Page, js string) string {
	res, err := p.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func collectCookies(p *rod.Page) []models.Cookie {
	raw, err := p.Cookies(nil)
	if err != nil {
		return nil
	}
	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return cookies
}

// collectIFrames captures each frame's src and rendered content,
// best-effort: detached or cross-origin frames are skipped.
func collectIFrames(p *rod.Page) []models.IFrame {
	elements, err := p.Elements("iframe")
	if err != nil {
		return nil
	}
	var frames []models.IFrame
	for _, el := range elements {
		src := ""
		if attr, attrErr := el.Attribute("src"); attrErr == nil && attr != nil {
			src = *attr
		}
		framePage, frameErr := el.Frame()
		if frameErr != nil {
			continue
		}
		content, contentErr := framePage.HTML()
		if contentErr != nil {
			continue
		}
		frames = append(frames, models.IFrame{Src: src, Content: content})
	}
	return frames
}

func takeScreenshot(p *rod.Page, spec models.ScreenshotSpec) ([]byte, error) {
	switch spec.Mode {
	case models.ScreenshotFull:
		return p.Screenshot(true, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
	case models.ScreenshotSelector:
		el, err := p.Element(spec.Selector)
		if err != nil {
			return nil, err
		}
		return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	default:
		return p.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
	}
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
