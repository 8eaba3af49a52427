package scraper

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/apiary/extractor"
	"github.com/use-agent/apiary/models"
	"github.com/use-agent/apiary/respond"
)

// outcome is the raw material for the final envelope, collected by the
// browser or HTTP path.
type outcome struct {
	html        string
	file        []byte
	contentType string
	statusCode  int
	resolvedURL string

	screenshot     []byte
	cookies        []models.Cookie
	iframes        []models.IFrame
	xhr            []models.XHRRecord
	scenarioReport *models.ScenarioReport
}

// finish applies extraction, assembles the result envelope, and delivers it
// through the correlator. A false Resolve means a timeout won the race; the
// late result is discarded, which still counts as success for the pool.
func (e *Engine) finish(job *models.Job, out *outcome) error {
	var extracted map[string]any
	// A plain-response screenshot is the response body itself, so extraction
	// output would have nowhere to go; only the verbose envelope carries both.
	wantExtraction := job.JSONResponse || len(out.screenshot) == 0
	if wantExtraction && job.Rules != nil && out.html != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(out.html))
		if err != nil {
			return models.NewScrapeError(models.ErrCodeInternal, "failed to parse fetched document", err)
		}
		extracted = extractor.Extract(doc, job.Rules)
	}

	job.Measures.Add(models.MeasureHandlerEnd)
	measures := job.Measures.Relative()
	slog.Info("job finished",
		"url", job.InputtedURL, "token", job.Token,
		"status", out.statusCode, "measures", measures)

	delivery := e.buildDelivery(job, out, extracted, measures)
	if !e.resolver.Resolve(job.Token, delivery) {
		slog.Debug("result arrived after timeout, discarded", "token", job.Token)
	}
	return nil
}

func (e *Engine) buildDelivery(job *models.Job, out *outcome, extracted map[string]any, measures []models.TimeMeasure) *respond.Delivery {
	if job.JSONResponse {
		env := &models.Envelope{
			Headers:           job.Details.ResponseHeaders,
			Cookies:           out.cookies,
			ScenarioReport:    out.scenarioReport,
			IFrames:           out.iframes,
			XHR:               out.xhr,
			InitialStatusCode: job.Details.InitialStatusCode,
			ResolvedURL:       job.Details.ResolvedURL,
			RequestErrors:     job.Details.RequestErrors,
			Measures:          measures,
		}
		if out.scenarioReport != nil {
			env.EvaluateResults = out.scenarioReport.EvaluateResults
		}
		if len(out.screenshot) > 0 {
			env.Screenshot = base64.StdEncoding.EncodeToString(out.screenshot)
		}
		switch {
		case extracted != nil:
			env.Type = models.ResultTypeJSON
			env.Body = extracted
		case out.file != nil:
			env.Type = models.ResultTypeFile
			env.Body = base64.StdEncoding.EncodeToString(out.file)
		default:
			env.Type = models.ResultTypeHTML
			env.Body = out.html
		}
		body, _ := json.Marshal(env)
		return &respond.Delivery{StatusCode: http.StatusOK, ContentType: "application/json", Body: body}
	}

	switch {
	case len(out.screenshot) > 0:
		return &respond.Delivery{StatusCode: http.StatusOK, ContentType: "image/png", Body: out.screenshot}
	case extracted != nil:
		body, _ := json.Marshal(extracted)
		return &respond.Delivery{StatusCode: http.StatusOK, ContentType: "application/json", Body: body}
	case out.file != nil:
		ct := out.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		return &respond.Delivery{StatusCode: http.StatusOK, ContentType: ct, Body: out.file}
	default:
		return &respond.Delivery{StatusCode: http.StatusOK, ContentType: "text/html; charset=utf-8", Body: []byte(out.html)}
	}
}

// Fail is the pool's failure callback, invoked after retry exhaustion. It
// still terminates through the correlator so the caller always gets exactly
// one response.
func (e *Engine) Fail(job *models.Job, err error) {
	var scrapeErr *models.ScrapeError
	if !errors.As(err, &scrapeErr) {
		scrapeErr = models.NewScrapeError(models.ErrCodeInternal, "scrape failed", err)
	}

	status := http.StatusBadGateway
	if scrapeErr.Code == models.ErrCodeTimeout {
		status = http.StatusGatewayTimeout
	}
	if job.TransparentStatus && job.Details.InitialStatusCode > 0 {
		status = job.Details.InitialStatusCode
	}

	measures := job.Measures.Relative()
	slog.Warn("job failed",
		"url", job.InputtedURL, "token", job.Token,
		"status", status, "error", err, "measures", measures)

	if job.JSONResponse {
		env := &models.Envelope{
			Type:              models.ResultTypeError,
			Headers:           job.Details.ResponseHeaders,
			InitialStatusCode: job.Details.InitialStatusCode,
			ResolvedURL:       job.Details.ResolvedURL,
			RequestErrors:     job.Details.RequestErrors,
			Measures:          measures,
			Error:             scrapeErr.ToDetail(),
		}
		body, _ := json.Marshal(env)
		e.resolver.Resolve(job.Token, &respond.Delivery{
			StatusCode:  status,
			ContentType: "application/json",
			Body:        body,
		})
		return
	}

	e.resolver.ResolveError(job.Token, status, scrapeErr.ToDetail())
}
