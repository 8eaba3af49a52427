// Package respond tracks the single pending HTTP response per in-flight job
// and guarantees exactly-once terminal delivery, whether the job completes,
// fails, or is forced out by a timeout.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/use-agent/apiary/models"
)

// Delivery is the terminal payload handed to a pending response.
type Delivery struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Sink receives exactly one Delivery for its request.
type Sink interface {
	Deliver(*Delivery)
}

// Correlator maps correlation tokens to pending response sinks. Completion
// can race an armed timeout; LoadAndDelete makes the first resolver win and
// every later attempt a silent no-op.
type Correlator struct {
	pending sync.Map // token (string) -> Sink
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{}
}

// Register associates a token with its still-open response sink.
func (c *Correlator) Register(token string, sink Sink) {
	c.pending.Store(token, sink)
}

// Resolve delivers the payload to the sink registered for token and removes
// the association. Returns false when the token was already resolved; that
// is an expected race, never an error.
func (c *Correlator) Resolve(token string, d *Delivery) bool {
	val, loaded := c.pending.LoadAndDelete(token)
	if !loaded {
		slog.Debug("late resolve dropped", "token", token, "status", d.StatusCode)
		return false
	}
	val.(Sink).Deliver(d)
	return true
}

// ResolveError is a convenience wrapper that delivers a structured JSON
// error for the token.
func (c *Correlator) ResolveError(token string, status int, detail *models.ErrorDetail) bool {
	body, _ := json.Marshal(map[string]*models.ErrorDetail{"error": detail})
	return c.Resolve(token, &Delivery{
		StatusCode:  status,
		ContentType: "application/json",
		Body:        body,
	})
}

// TimeoutAfter arms a forced timeout for the token. If the job has not
// resolved by then, the caller receives a timeout error; any later result is
// discarded by the resolve-once contract. The returned timer may be stopped
// once a normal resolution happened, but leaving it running is harmless.
func (c *Correlator) TimeoutAfter(token string, after time.Duration) *time.Timer {
	return time.AfterFunc(after, func() {
		if c.ResolveError(token, http.StatusGatewayTimeout, &models.ErrorDetail{
			Code:    models.ErrCodeTimeout,
			Message: "scrape did not finish within the requested timeout",
		}) {
			slog.Warn("request timed out", "token", token, "timeout", after)
		}
	})
}

// TimeoutAll forces a terminal timeout response for every pending token
// after the grace period. Used on shutdown so in-flight callers are not left
// hanging on a dying process.
func (c *Correlator) TimeoutAll(grace time.Duration) {
	c.pending.Range(func(key, _ any) bool {
		c.TimeoutAfter(key.(string), grace)
		return true
	})
}
