package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/noorlatif/portfolio-assistant/pkg/chunk"
	"github.com/noorlatif/portfolio-assistant/pkg/upstream"
)

// errSink marks failures of the outbound side, as opposed to upstream ones.
var errSink = errors.New("client write failed")

// relay forwards the text of each upstream chunk to emit in arrival order and
// returns the number of chunks emitted. Chunks without text are skipped.
func relay(stream upstream.Stream, emit func(text string) error) (int, error) {
	n := 0
	for {
		raw, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		text, ok := chunk.Extract(raw)
		if !ok || text == "" {
			continue
		}
		if err := emit(text); err != nil {
			return n, fmt.Errorf("%w: %w", errSink, err)
		}
		n++
	}
}

// httpSink writes relayed text as a chunked text/plain body. Headers are
// committed with the first chunk, so failures before it can still become a
// normal error response.
type httpSink struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	committed bool
}

func newHTTPSink(w http.ResponseWriter) *httpSink {
	f, _ := w.(http.Flusher)
	return &httpSink{w: w, flusher: f}
}

func (s *httpSink) commit() {
	if s.committed {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-cache")
	h.Del("Content-Length")
	s.w.WriteHeader(http.StatusOK)
	s.committed = true
}

func (s *httpSink) write(text string) error {
	s.commit()
	if _, err := io.WriteString(s.w, text); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// finish commits an empty 200 when the upstream produced no text.
func (s *httpSink) finish() error {
	if s.committed {
		return nil
	}
	s.commit()
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
