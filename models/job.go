package models

import (
	"time"

	"github.com/use-agent/apiary/extractor"
)

// ScreenshotMode selects what part of the page to capture.
type ScreenshotMode string

const (
	ScreenshotNone     ScreenshotMode = "none"
	ScreenshotWindow   ScreenshotMode = "window"
	ScreenshotFull     ScreenshotMode = "full"
	ScreenshotSelector ScreenshotMode = "selector"
)

// ScreenshotSpec describes the requested screenshot, if any.
type ScreenshotSpec struct {
	Mode     ScreenshotMode
	Selector string
}

// AttemptError records one failed fetch attempt.
type AttemptError struct {
	Attempt int    `json:"attempt"`
	Message string `json:"errorMessage"`
}

// RequestDetails is mutated during job execution and read when the final
// envelope is assembled. A job is owned by exactly one worker at a time, so
// no locking is needed.
type RequestDetails struct {
	ResolvedURL     string            `json:"resolvedUrl"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
	RequestErrors   []AttemptError    `json:"requestErrors"`

	// InitialStatusCode is the status of the first document response,
	// before any in-page navigation.
	InitialStatusCode int `json:"initialStatusCode"`
}

// Job is the unit of work submitted to a worker pool. It carries the
// normalized request, the correlation token linking it back to the pending
// HTTP response, and the mutable execution state.
type Job struct {
	// Token is the opaque correlation token. Unique per request.
	Token string

	// TargetURL is the page to fetch.
	TargetURL string

	// InputtedURL is the raw request URI, kept for logging.
	InputtedURL string

	// Headers are the outbound request headers (generated device profile
	// plus any forwarded caller headers).
	Headers map[string]string

	// Cookies is the raw Cookie header value to send, if any.
	Cookies string

	// RenderJS selects the browser path; false means plain HTTP fetch.
	RenderJS bool

	// BinaryTarget delivers the raw fetched bytes with their content type.
	// Only valid together with RenderJS=false.
	BinaryTarget bool

	// ReturnPageSource returns the pre-rendering document body instead of
	// the rendered DOM.
	ReturnPageSource bool

	// TransparentStatus passes the upstream HTTP status through on failure
	// and disables retries.
	TransparentStatus bool

	// JSONResponse wraps the result in the verbose JSON envelope.
	JSONResponse bool

	// Rules is the compiled extraction rule tree, nil when not requested.
	Rules extractor.Rules

	// Scenario holds the validated in-page instructions, nil when absent.
	Scenario *Scenario

	Screenshot ScreenshotSpec

	// Viewport size.
	Width  int
	Height int

	// BlockResources enables the default resource-blocking policy;
	// BlockedResourceTypes optionally narrows it to specific types.
	BlockResources       bool
	BlockedResourceTypes []string

	// MaxBodySize caps fetched body bytes.
	MaxBodySize int64

	// Timeout is the caller-facing delivery ceiling.
	Timeout time.Duration

	// Details accumulates execution state; owned by the executing worker.
	Details RequestDetails

	// Measures accumulates lifecycle timing events.
	Measures TimeMeasures
}
