package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/apiary/config"
	"github.com/use-agent/apiary/dispatch"
	"github.com/use-agent/apiary/models"
	"github.com/use-agent/apiary/respond"
)

// chanSink delivers the resolved response back to the blocked request
// goroutine. The buffer means the resolver never waits on the handler.
type chanSink struct {
	ch chan *respond.Delivery
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan *respond.Delivery, 1)}
}

func (s *chanSink) Deliver(d *respond.Delivery) {
	s.ch <- d
}

// Scrape handles GET /scrape. The request blocks until its job is resolved
// by a worker, the timeout fires, or the server drains on shutdown. Exactly
// one of those wins.
func Scrape(reg *dispatch.Registry, corr *respond.Correlator, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, execCfg, err := buildJob(c.Request, cfg)
		if err != nil {
			var serr *models.ScrapeError
			if !errors.As(err, &serr) {
				serr = models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), nil)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": serr.ToDetail()})
			return
		}
		job.Measures.Add(models.MeasureRequestReceived)

		sink := newChanSink()
		corr.Register(job.Token, sink)
		timer := corr.TimeoutAfter(job.Token, job.Timeout)
		defer timer.Stop()

		if err := reg.Submit(execCfg, job); err != nil {
			serr := models.NewScrapeError(models.ErrCodeInternal, "could not enqueue request", err)
			corr.ResolveError(job.Token, http.StatusInternalServerError, serr.ToDetail())
		}

		d := <-sink.ch
		c.Data(d.StatusCode, d.ContentType, d.Body)
	}
}
