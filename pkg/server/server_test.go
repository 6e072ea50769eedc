package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/noorlatif/portfolio-assistant/pkg/assistant"
	"github.com/noorlatif/portfolio-assistant/pkg/config"
	"github.com/noorlatif/portfolio-assistant/pkg/upstream"
	"github.com/noorlatif/portfolio-assistant/pkg/version"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// funcStream adapts a closure to upstream.Stream.
type funcStream struct {
	recv   func() ([]byte, error)
	closed atomic.Bool
}

func (s *funcStream) Recv() ([]byte, error) { return s.recv() }

func (s *funcStream) Close() error {
	s.closed.Store(true)
	return nil
}

func chunksStream(tail error, chunks ...string) *funcStream {
	return &funcStream{recv: func() ([]byte, error) {
		if len(chunks) == 0 {
			if tail != nil {
				return nil, tail
			}
			return nil, io.EOF
		}
		c := chunks[0]
		chunks = chunks[1:]
		return []byte(c), nil
	}}
}

type fakeStreamer struct {
	mu      sync.Mutex
	prompts []assistant.Prompt
	streams []*funcStream
	open    func(ctx context.Context) (*funcStream, error)
}

func (f *fakeStreamer) Stream(ctx context.Context, p assistant.Prompt) (upstream.Stream, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()
	s, err := f.open(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeStreamer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func staticStreamer(chunks ...string) *fakeStreamer {
	return &fakeStreamer{open: func(context.Context) (*funcStream, error) {
		return chunksStream(nil, chunks...), nil
	}}
}

func testConfig() *config.ServerConfig {
	cfg := config.NewDefaultServerConfig()
	cfg.Normalize()
	return cfg
}

func newTestServer(t *testing.T, cfg *config.ServerConfig, opts ...Option) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	s, err := NewServer(cfg, opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestHealthzAndVersion(t *testing.T) {
	s := newTestServer(t, nil, WithStreamer(staticStreamer()))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info version.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if info.Version == "" {
		t.Fatal("expected a version string")
	}
}

func TestListProjectsIsGzipped(t *testing.T) {
	s := newTestServer(t, nil, WithStreamer(staticStreamer()))
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got headers %v", rec.Header())
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	var out struct {
		Projects []struct {
			ID      string `json:"id"`
			Context string `json:"context"`
		} `json:"projects"`
	}
	if err := json.NewDecoder(zr).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Projects) != 3 || out.Projects[0].ID != "toyota" || out.Projects[0].Context == "" {
		t.Fatalf("unexpected projects: %+v", out.Projects)
	}
}

func TestGetProject(t *testing.T) {
	s := newTestServer(t, nil, WithStreamer(staticStreamer()))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/goteborgs-sparvagor", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Tram Network Infrastructure Deep Dive") {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://noorlatif.dev"}
	s := newTestServer(t, cfg, WithStreamer(staticStreamer()))

	req := httptest.NewRequest(http.MethodOptions, "/api/ai-assistant", nil)
	req.Header.Set("Origin", "https://noorlatif.dev")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://noorlatif.dev" {
		t.Fatalf("unexpected allow origin %q (status %d)", got, rec.Code)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/ai-assistant", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin for foreign site %q", got)
	}
}

func TestDrainingRejectsAPIRequests(t *testing.T) {
	s := newTestServer(t, nil, WithStreamer(staticStreamer()))
	s.draining.Store(true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") != "3" {
		t.Fatalf("expected 503 with Retry-After, got %d %v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz should stay up while draining, got %d", rec.Code)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	s := newTestServer(t, cfg, WithStreamer(staticStreamer()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewServerRejectsBadPromptMode(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.PromptMode = "chat"
	if _, err := NewServer(cfg, WithStreamer(staticStreamer())); err == nil {
		t.Fatal("expected error for unknown prompt mode")
	}
}
