package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/noorlatif/portfolio-assistant/pkg/assistant"
	"github.com/noorlatif/portfolio-assistant/pkg/catalog"
	"github.com/noorlatif/portfolio-assistant/pkg/config"
	"github.com/noorlatif/portfolio-assistant/pkg/logutil"
	"github.com/noorlatif/portfolio-assistant/pkg/ratelimit"
	"github.com/noorlatif/portfolio-assistant/pkg/upstream"
	"github.com/noorlatif/portfolio-assistant/pkg/version"
	"golang.org/x/crypto/acme/autocert"
)

type Server struct {
	cfg            config.ServerConfig
	limits         assistant.Limits
	mode           assistant.Mode
	limiter        *ratelimit.FixedWindow
	streamer       upstream.Streamer
	catalog        *catalog.Catalog
	handler        http.Handler
	httpServer     *http.Server
	activeRequests atomic.Int64
	draining       atomic.Bool
}

type options struct {
	streamer upstream.Streamer
	catalog  *catalog.Catalog
	clock    func() time.Time
}

type Option func(*options)

// WithStreamer replaces the provider built from the config.
func WithStreamer(s upstream.Streamer) Option {
	return func(o *options) {
		o.streamer = s
	}
}

// WithCatalog replaces the catalog loaded from catalog_path.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithClock sets the rate limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

func NewServer(cfg *config.ServerConfig, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	mode, err := assistant.ParseMode(cfg.Provider.PromptMode)
	if err != nil {
		return nil, err
	}
	if o.streamer == nil {
		o.streamer, err = upstream.New(cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("init provider: %w", err)
		}
	}
	if o.catalog == nil {
		o.catalog, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("init catalog: %w", err)
		}
	}
	limiter := ratelimit.NewFixedWindow(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	limiter.Clock = o.clock

	s := &Server{
		cfg: *cfg,
		limits: assistant.Limits{
			MaxBodyBytes:      cfg.Limits.MaxBodyBytes,
			MaxQuestionRunes:  cfg.Limits.MaxQuestionChars,
			MaxContextRunes:   cfg.Limits.MaxContextChars,
			MaxProjectIDRunes: cfg.Limits.MaxProjectIDChars,
		},
		mode:     mode,
		limiter:  limiter,
		streamer: o.streamer,
		catalog:  o.catalog,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLifecycleMiddleware)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logutil.StandardLog(), NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		ExposedHeaders: []string{"Retry-After", "X-Error-Code", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Current())
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/ai-assistant", s.handleAssistant)
		api.Get("/ai-assistant/ws", s.handleAssistantWS)
		api.Group(func(g chi.Router) {
			g.Use(compressMiddleware)
			g.Get("/projects", s.handleListProjects)
			g.Get("/projects/{id}", s.handleGetProject)
		})
	})

	s.handler = r
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfg
	errCh := make(chan error, 2)
	go s.limiter.Run(ctx, time.Duration(cfg.RateLimit.PruneIntervalSeconds)*time.Second)

	if cfg.TLS.Enabled {
		mgr := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLS.Domain),
			Email:      cfg.TLS.Email,
		}

		httpsSrv := &http.Server{
			Addr:              cfg.TLS.ListenAddr,
			Handler:           s.handler,
			ReadHeaderTimeout: s.httpServer.ReadHeaderTimeout,
			ReadTimeout:       s.httpServer.ReadTimeout,
			IdleTimeout:       s.httpServer.IdleTimeout,
			TLSConfig:         &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12},
		}

		httpChallenge := &http.Server{
			Addr:              ":80",
			Handler:           mgr.HTTPHandler(http.HandlerFunc(redirectHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Info("http challenge/redirect listening", "addr", httpChallenge.Addr)
			if err := httpChallenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http challenge server: %w", err)
			}
		}()

		go func() {
			log.Info("https listening", "addr", httpsSrv.Addr, "domain", cfg.TLS.Domain)
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()

		s.awaitShutdown(ctx, errCh)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpChallenge.Shutdown(shutdownCtx)
		_ = httpsSrv.Shutdown(shutdownCtx)
		return firstErr(errCh)
	}

	go func() {
		log.Info("assistant listening", "addr", cfg.ListenAddr, "provider", cfg.Provider.Name, "model", cfg.Provider.Model)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("assistant server: %w", err)
		}
	}()

	s.awaitShutdown(ctx, errCh)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
	return firstErr(errCh)
}

// awaitShutdown blocks until ctx ends or a listener fails, then drains.
func (s *Server) awaitShutdown(ctx context.Context, errCh chan error) {
	select {
	case <-ctx.Done():
	case err := <-errCh:
		errCh <- err
	}
	s.draining.Store(true)
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.waitForIdle(waitCtx)
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
}

func (s *Server) requestLifecycleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isAPIReq := strings.HasPrefix(r.URL.Path, "/api/")
		if isAPIReq && s.draining.Load() {
			w.Header().Set("Retry-After", "3")
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		if isAPIReq {
			s.activeRequests.Add(1)
			defer s.activeRequests.Add(-1)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) waitForIdle(ctx context.Context) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	lastLog := time.Time{}
	for {
		active := s.activeRequests.Load()
		if active <= 0 {
			log.Info("shutdown: server idle")
			return
		}
		if lastLog.IsZero() || time.Since(lastLog) >= time.Second {
			log.Info("shutdown: waiting for active requests", "active", active)
			lastLog = time.Now()
		}
		select {
		case <-ctx.Done():
			log.Warn("shutdown: giving up on active requests", "active", active)
			return
		case <-t.C:
		}
	}
}

func firstErr(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
