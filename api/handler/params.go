package handler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/apiary/config"
	"github.com/use-agent/apiary/dispatch"
	"github.com/use-agent/apiary/extractor"
	"github.com/use-agent/apiary/models"
	"github.com/use-agent/apiary/scenario"
	"github.com/use-agent/apiary/scraper"
)

// equivalentParams maps each canonical parameter to the alternative names
// accepted for compatibility with other scraping APIs. The canonical name
// wins when both are present.
var equivalentParams = map[string][]string{
	"render_js":       {"browser", "render"},
	"wait_for":        {"wait_for_selector"},
	"premium_proxy":   {"premium", "ultra_premium"},
	"country_code":    {"proxy_country"},
	"device":          {"device_type"},
	"forward_headers": {"keep_headers"},
}

// deviceHeaders are the request header profiles per device kind.
var deviceHeaders = map[string]map[string]string{
	"desktop": {
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	},
	"mobile": {
		"User-Agent":      "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	},
}

// inputError builds the ValidationError surfaced as a 400.
func inputError(format string, args ...any) error {
	return models.NewScrapeError(models.ErrCodeInvalidInput, fmt.Sprintf(format, args...), nil)
}

// buildJob normalizes the raw query parameters into a Job plus the execution
// configuration that selects its worker pool. All request validation happens
// here; an error means the request never reaches a pool.
func buildJob(req *http.Request, cfg *config.Config) (*models.Job, dispatch.ExecConfig, error) {
	params := req.URL.Query()
	mapEquivalentParams(params)

	var execCfg dispatch.ExecConfig

	target := params.Get("url")
	if target == "" {
		return nil, execCfg, inputError("parameter url is either missing or empty")
	}
	targetURL, err := url.Parse(target)
	if err != nil || targetURL.Host == "" {
		return nil, execCfg, inputError("parameter url is not a valid absolute URL")
	}

	job := &models.Job{
		Token:       uuid.NewString(),
		TargetURL:   target,
		InputtedURL: req.URL.RequestURI(),
		RenderJS:    params.Get("render_js") != "false",
		MaxBodySize: cfg.Scrape.MaxBodySize,
		Width:       intOr(params.Get("window_width"), 1920),
		Height:      intOr(params.Get("window_height"), 1080),
	}

	// Device profile headers, then forwarded caller headers on top.
	device := params.Get("device")
	if device == "" {
		device = "desktop"
	}
	profile, ok := deviceHeaders[device]
	if !ok {
		return nil, execCfg, inputError("param device can be either desktop or mobile")
	}
	job.Headers = make(map[string]string, len(profile))
	for k, v := range profile {
		job.Headers[k] = v
	}
	if err := applyForwardedHeaders(job, params, req.Header); err != nil {
		return nil, execCfg, err
	}
	job.Cookies = params.Get("cookies")

	// Extraction rules.
	if raw := params.Get("extract_rules"); raw != "" {
		var tree map[string]any
		if err := json.Unmarshal([]byte(raw), &tree); err != nil {
			return nil, execCfg, inputError("extract_rules is not valid JSON: %v", err)
		}
		rules, err := extractor.Compile(tree)
		if err != nil {
			return nil, execCfg, inputError("%v", err)
		}
		job.Rules = rules
	}

	// Scenario plus the shortcut params prepended in front of it.
	sc := &models.Scenario{}
	if raw := params.Get("js_scenario"); raw != "" {
		parsed, err := scenario.Parse([]byte(raw))
		if err != nil {
			return nil, execCfg, inputError("%v", err)
		}
		sc = parsed
	}
	if job.RenderJS {
		if err := prependShortcuts(sc, params); err != nil {
			return nil, execCfg, err
		}
	}
	if len(sc.Instructions) > 0 {
		if !job.RenderJS {
			return nil, execCfg, inputError("js_scenario requires render_js to be enabled")
		}
		job.Scenario = sc
	}

	// Screenshot.
	job.Screenshot.Mode = models.ScreenshotNone
	if params.Get("screenshot") == "true" {
		job.Screenshot.Mode = models.ScreenshotWindow
	}
	if params.Get("screenshot_full_page") == "true" {
		job.Screenshot.Mode = models.ScreenshotFull
	}
	if sel := params.Get("screenshot_selector"); sel != "" {
		job.Screenshot.Mode = models.ScreenshotSelector
		job.Screenshot.Selector = sel
	}
	if job.Screenshot.Mode != models.ScreenshotNone && !job.RenderJS {
		return nil, execCfg, inputError("screenshots require render_js to be enabled")
	}

	// Resource blocking.
	job.BlockResources = params.Get("block_resources") != "false"
	for _, resource := range params["block_resource"] {
		if !scraper.ValidResourceType(resource) {
			return nil, execCfg, inputError("unsupported value in block_resource: %s", resource)
		}
		job.BlockedResourceTypes = append(job.BlockedResourceTypes, resource)
	}

	// Binary target only makes sense without a browser.
	if params.Get("binary_target") == "true" {
		if job.RenderJS {
			return nil, execCfg, inputError("param binary_target can be used only when JS rendering is disabled (render_js, browser, render)")
		}
		job.BinaryTarget = true
	}

	job.ReturnPageSource = params.Get("return_page_source") == "true"
	job.TransparentStatus = params.Get("transparent_status_code") == "true"
	job.JSONResponse = params.Get("json_response") == "true"

	// Delivery ceiling, milliseconds on the wire.
	job.Timeout = cfg.Scrape.DefaultTimeout
	if raw := params.Get("timeout"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return nil, execCfg, inputError("number value expected for timeout parameter")
		}
		job.Timeout = time.Duration(ms) * time.Millisecond
	}
	if job.Timeout > cfg.Scrape.MaxTimeout {
		job.Timeout = cfg.Scrape.MaxTimeout
	}

	execCfg, err = buildExecConfig(params, targetURL, cfg)
	if err != nil {
		return nil, execCfg, err
	}
	return job, execCfg, nil
}

// mapEquivalentParams copies alternative parameter names onto their
// canonical names when the canonical one is absent.
func mapEquivalentParams(params url.Values) {
	for canonical, aliases := range equivalentParams {
		if params.Get(canonical) != "" {
			continue
		}
		for _, alias := range aliases {
			if v := params.Get(alias); v != "" {
				params.Set(canonical, v)
				break
			}
		}
	}
}

// prependShortcuts turns the wait/wait_for/wait_browser/js_snippet shortcut
// parameters into instructions running before the caller's scenario, in that
// order.
func prependShortcuts(sc *models.Scenario, params url.Values) error {
	var prefix []models.Instruction

	if raw := params.Get("wait"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return inputError("number value expected for wait parameter")
		}
		prefix = append(prefix, scenario.WaitInstruction(ms))
	}
	if raw := params.Get("wait_for"); raw != "" {
		prefix = append(prefix, models.Instruction{
			Action: models.ActionWaitFor,
			Param:  models.Param{Str: raw},
		})
	}
	if raw := params.Get("wait_browser"); raw != "" {
		if raw != "load" && raw != "domcontentloaded" && raw != "networkidle" {
			return inputError("unsupported value for wait_browser parameter")
		}
		prefix = append(prefix, models.Instruction{
			Action: models.ActionWaitBrowser,
			Param:  models.Param{Str: raw},
		})
	}
	if raw := params.Get("js_snippet"); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil || len(decoded) == 0 {
			return inputError("decoding of js_snippet was not successful")
		}
		prefix = append(prefix, models.Instruction{
			Action: models.ActionEvaluate,
			Param:  models.Param{Str: string(decoded)},
		})
	}

	if len(prefix) > 0 {
		sc.Instructions = append(prefix, sc.Instructions...)
	}
	return nil
}

// buildExecConfig validates the proxy parameters and produces the canonical
// execution configuration that keys the worker pool.
func buildExecConfig(params url.Values, target *url.URL, cfg *config.Config) (dispatch.ExecConfig, error) {
	execCfg := dispatch.ExecConfig{PaceInterval: cfg.Pool.Pace}

	proxyType := params.Get("proxy_type")
	if proxyType == "" {
		proxyType = "datacenter"
	}
	if proxyType != "datacenter" && proxyType != "residential" {
		return execCfg, inputError("parameter proxy_type can be either residential or datacenter")
	}

	useGoogle := params.Get("custom_google") == "true"
	if strings.Contains(target.Host, "google") && !useGoogle {
		return execCfg, inputError("set param custom_google to true to scrape Google urls")
	}
	if useGoogle {
		execCfg.ProxyGroup = dispatch.ProxyGroupGoogleSERP
		return execCfg, nil
	}

	if own := params.Get("own_proxy"); own != "" {
		execCfg.ProxyURLs = []string{own}
		return execCfg, nil
	}

	usePremium := params.Get("premium_proxy") == "true" ||
		params.Get("stealth_proxy") == "true" ||
		proxyType == "residential"
	if usePremium {
		execCfg.ProxyGroup = dispatch.ProxyGroupResidential
	}

	if raw := params.Get("country_code"); raw != "" {
		code := strings.ToUpper(raw)
		if len(code) != 2 {
			return execCfg, inputError("parameter country_code must be a string of length 2")
		}
		if !usePremium && code != "US" {
			return execCfg, inputError("parameter country_code must be used with premium_proxy or stealth_proxy set to true when using non-US country")
		}
		execCfg.CountryCode = code
	}
	return execCfg, nil
}

// applyForwardedHeaders implements forward_headers (merge spb-/ant- prefixed
// caller headers over the device profile) and forward_headers_pure (replace
// the profile entirely).
func applyForwardedHeaders(job *models.Job, params url.Values, inbound http.Header) error {
	forward := params.Get("forward_headers") == "true"
	pure := params.Get("forward_headers_pure") == "true"
	if !forward && !pure {
		return nil
	}

	forwarded := make(map[string]string)
	for key, vals := range inbound {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, "spb-") && !strings.HasPrefix(lower, "ant-") {
			continue
		}
		stripped := key[4:]
		switch strings.ToLower(stripped) {
		case "cookie", "set-cookie", "host":
			continue
		}
		if len(vals) == 0 {
			continue
		}
		forwarded[stripped] = vals[0]
	}

	if pure {
		job.Headers = forwarded
		return nil
	}
	for k, v := range forwarded {
		job.Headers[k] = v
	}
	return nil
}

func intOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return fallback
}
