package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/noorlatif/portfolio-assistant/pkg/assistant"
	"github.com/noorlatif/portfolio-assistant/pkg/config"
)

const maxSSELineBytes = 1 << 20

// sseStreamer posts the prompt to a generic text/event-stream endpoint.
// Named events are handed on as ["event", data] pairs and unnamed ones as
// their data, so the chunk matchers see the same shapes either way.
type sseStreamer struct {
	provider config.ProviderConfig
	client   *http.Client
}

func newSSE(p config.ProviderConfig, hc *http.Client) *sseStreamer {
	return &sseStreamer{provider: p, client: hc}
}

type sseRequest struct {
	Model       string           `json:"model,omitempty"`
	Prompt      string           `json:"prompt,omitempty"`
	Messages    []assistant.Turn `json:"messages,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Stream      bool             `json:"stream"`
}

func (s *sseStreamer) Stream(ctx context.Context, p assistant.Prompt) (Stream, error) {
	key := strings.TrimSpace(s.provider.APIKey)
	if key == "" && requiresKey(s.provider) {
		return nil, unconfigured(s.provider)
	}
	body := sseRequest{
		Model:       s.provider.Model,
		Temperature: s.provider.Temperature,
		Stream:      true,
	}
	if p.Mode == assistant.ModeMulti {
		body.Messages = turns(p, s.provider.SystemPrompt)
	} else {
		body.Prompt = p.Text
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode stream request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.provider.BaseURL, bytes.NewReader(b))
	if err != nil {
		return nil, assistant.UpstreamFailure(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, assistant.UpstreamFailure(fmt.Errorf("open %s stream: %w", s.provider.Name, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, assistant.UpstreamFailure(&StatusError{
			Provider:   s.provider.Name,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		})
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	return &sseStream{body: resp.Body, sc: sc, provider: s.provider.Name}, nil
}

// EventError is an "error" event sent by the provider mid-stream.
type EventError struct {
	Provider string
	Data     string
}

func (e *EventError) Error() string {
	return fmt.Sprintf("provider %s stream error: %s", e.Provider, e.Data)
}

type sseStream struct {
	body      io.ReadCloser
	sc        *bufio.Scanner
	provider  string
	done      bool
	closeOnce sync.Once
}

func (x *sseStream) Recv() ([]byte, error) {
	if x.done {
		return nil, io.EOF
	}
	var event string
	var data []string
	for {
		more := x.sc.Scan()
		if !more {
			if err := x.sc.Err(); err != nil {
				return nil, fmt.Errorf("read %s stream: %w", x.provider, err)
			}
			x.done = true
			if len(data) == 0 {
				return nil, io.EOF
			}
			return x.dispatch(event, data)
		}
		line := strings.TrimSuffix(x.sc.Text(), "\r")
		if line == "" {
			if len(data) == 0 {
				event = ""
				continue
			}
			return x.dispatch(event, data)
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
}

func (x *sseStream) dispatch(event string, lines []string) ([]byte, error) {
	data := strings.Join(lines, "\n")
	if strings.TrimSpace(data) == "[DONE]" {
		x.done = true
		return nil, io.EOF
	}
	payload := []byte(data)
	if !json.Valid(payload) {
		// Plain-text frames carry the text itself.
		quoted, _ := json.Marshal(map[string]string{"content": data})
		payload = quoted
	}
	switch event {
	case "", "message":
		return payload, nil
	case "error":
		x.done = true
		return nil, &EventError{Provider: x.provider, Data: data}
	default:
		name, _ := json.Marshal(event)
		out := make([]byte, 0, len(name)+len(payload)+3)
		out = append(out, '[')
		out = append(out, name...)
		out = append(out, ',')
		out = append(out, payload...)
		return append(out, ']'), nil
	}
}

func (x *sseStream) Close() error {
	var err error
	x.closeOnce.Do(func() {
		err = x.body.Close()
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			err = nil
		}
	})
	return err
}
