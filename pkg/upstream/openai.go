package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/noorlatif/portfolio-assistant/pkg/assistant"
	"github.com/noorlatif/portfolio-assistant/pkg/config"
	openai "github.com/sashabaranov/go-openai"
)

// openAIStreamer talks to any OpenAI-compatible chat completions endpoint,
// including Gemini's compatibility layer.
type openAIStreamer struct {
	provider config.ProviderConfig
	client   *openai.Client
}

func newOpenAI(p config.ProviderConfig, hc *http.Client) *openAIStreamer {
	s := &openAIStreamer{provider: p}
	if key := strings.TrimSpace(p.APIKey); key != "" {
		cfg := openai.DefaultConfig(key)
		if p.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(p.BaseURL, "/")
		}
		cfg.HTTPClient = hc
		s.client = openai.NewClientWithConfig(cfg)
	}
	return s
}

func (s *openAIStreamer) Stream(ctx context.Context, p assistant.Prompt) (Stream, error) {
	if s.client == nil {
		return nil, unconfigured(s.provider)
	}
	req := openai.ChatCompletionRequest{
		Model:       s.provider.Model,
		Messages:    chatMessages(turns(p, s.provider.SystemPrompt)),
		Temperature: float32(s.provider.Temperature),
		Stream:      true,
	}
	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, assistant.UpstreamFailure(&StatusError{
				Provider:   s.provider.Name,
				StatusCode: apiErr.HTTPStatusCode,
				Body:       apiErr.Message,
			})
		}
		return nil, assistant.UpstreamFailure(fmt.Errorf("open %s stream: %w", s.provider.Name, err))
	}
	return &openAIStream{s: stream}, nil
}

func chatMessages(in []assistant.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, t := range in {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case assistant.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case "system":
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return out
}

// openAIStream hands out the raw data payload of each SSE event; the delta
// shape is decoded by the chunk matchers.
type openAIStream struct {
	s *openai.ChatCompletionStream
}

func (x *openAIStream) Recv() ([]byte, error) {
	return x.s.RecvRaw()
}

func (x *openAIStream) Close() error {
	x.s.Close()
	return nil
}
