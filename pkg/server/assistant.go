package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/noorlatif/portfolio-assistant/pkg/assistant"
	"github.com/noorlatif/portfolio-assistant/pkg/clientid"
	"github.com/noorlatif/portfolio-assistant/pkg/ratelimit"
	"github.com/noorlatif/portfolio-assistant/pkg/upstream"
)

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client := clientid.Identify(r.Header)
	logger := log.With("request_id", middleware.GetReqID(ctx), "client", client)

	d := s.limiter.Check(client)
	setRateLimitHeaders(w, d)
	if !d.Allowed {
		logger.Info("assistant request rate limited", "retry_after", d.RetryAfter.Round(time.Second))
		writeError(w, assistant.RateLimited(d.RetryAfter))
		return
	}
	if err := s.limits.CheckContentLength(r.ContentLength); err != nil {
		logger.Info("assistant request rejected", "reason", err)
		writeError(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.limits.MaxBodyBytes)
	q, err := assistant.DecodeQuery(r.Body, s.limits)
	if err != nil {
		logger.Info("assistant request rejected", "reason", err)
		writeError(w, err)
		return
	}
	logger = logger.With("project", q.ProjectID)

	stream, err := s.openStream(ctx, q)
	if err != nil {
		logger.Warn("assistant request failed", "err", err)
		writeError(w, err)
		return
	}
	defer stream.Close()

	started := time.Now()
	sink := newHTTPSink(w)
	n, err := relay(stream, sink.write)
	if err == nil {
		err = sink.finish()
	}
	switch {
	case err == nil:
		logger.Info("assistant response streamed", "chunks", n, "elapsed", time.Since(started).Round(time.Millisecond))
	case !sink.committed:
		logger.Warn("assistant stream failed before first chunk", "err", err)
		writeError(w, err)
	case errors.Is(ctx.Err(), context.Canceled):
		logger.Debug("assistant client went away", "chunks", n)
	default:
		logger.Error("assistant stream aborted", "chunks", n, "err", err)
		// Headers are committed; abort so the client sees a truncated body.
		panic(http.ErrAbortHandler)
	}
}

// openStream runs the checks that follow validation and opens the upstream
// generation for q.
func (s *Server) openStream(ctx context.Context, q assistant.Query) (upstream.Stream, error) {
	if assistant.SimulatesRateLimit(q.Question, s.cfg.Assistant.SimulateRateLimitPhrase) {
		return nil, assistant.RateLimited(0)
	}
	return s.streamer.Stream(ctx, assistant.Assemble(q, s.mode))
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func writeError(w http.ResponseWriter, err error) {
	ae := assistant.Classify(err)
	if ae.Kind == assistant.KindRateLimited && ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(ae.RetryAfter)))
	}
	w.Header().Set("X-Error-Code", string(ae.Kind))
	http.Error(w, ae.Message, ae.Status())
}
