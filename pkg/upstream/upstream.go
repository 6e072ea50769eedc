// Package upstream opens streaming generations against the configured LLM
// provider. Streams yield raw JSON chunks; callers recover text with the
// chunk package.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/noorlatif/portfolio-assistant/pkg/assistant"
	"github.com/noorlatif/portfolio-assistant/pkg/config"
)

// Stream yields raw chunks until it returns io.EOF. Close releases the
// underlying connection and is safe to call more than once.
type Stream interface {
	Recv() ([]byte, error)
	Close() error
}

type Streamer interface {
	Stream(ctx context.Context, p assistant.Prompt) (Stream, error)
}

type StreamerFunc func(ctx context.Context, p assistant.Prompt) (Stream, error)

func (f StreamerFunc) Stream(ctx context.Context, p assistant.Prompt) (Stream, error) {
	return f(ctx, p)
}

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s stream status %d: %s", e.Provider, e.StatusCode, e.Body)
}

type options struct {
	httpClient *http.Client
}

type Option func(*options)

// WithHTTPClient replaces the client used for provider calls. Its transport
// is still wrapped to forward request IDs.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// New builds the streamer for p. A missing API key is not an error here; it
// is reported per request so the server can start without credentials.
func New(p config.ProviderConfig, opts ...Option) (Streamer, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	hc := newHTTPClient(o.httpClient, p.TimeoutSeconds)
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case config.ProviderTypeOpenAI, "":
		return newOpenAI(p, hc), nil
	case config.ProviderTypeSSE:
		return newSSE(p, hc), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", p.Type)
	}
}

func newHTTPClient(base *http.Client, timeoutSeconds int) *http.Client {
	out := &http.Client{}
	if base != nil {
		*out = *base
	}
	if timeoutSeconds > 0 {
		out.Timeout = time.Duration(timeoutSeconds) * time.Second
	}
	out.Transport = requestIDRoundTripper{Base: out.Transport}
	return out
}

func requiresKey(p config.ProviderConfig) bool {
	return p.Type == config.ProviderTypeOpenAI || p.Type == "" || p.APIKeyEnv != ""
}

func unconfigured(p config.ProviderConfig) *assistant.Error {
	return assistant.Errorf(assistant.KindUpstreamUnconfigured, "%s environment variable is not set", p.KeyEnvName())
}

// turns returns the role-tagged input for p. Single-mode prompts become one
// user turn; the configured system prompt leads multi-mode conversations.
func turns(p assistant.Prompt, systemPrompt string) []assistant.Turn {
	if p.Mode != assistant.ModeMulti {
		return []assistant.Turn{{Role: assistant.RoleUser, Content: p.Text}}
	}
	out := make([]assistant.Turn, 0, len(p.Turns)+1)
	if systemPrompt != "" {
		out = append(out, assistant.Turn{Role: "system", Content: systemPrompt})
	}
	return append(out, p.Turns...)
}
